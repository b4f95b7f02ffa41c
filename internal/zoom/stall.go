package zoom

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// stallWatchdog cancels a transfer that goes idle for too long. Every bit of
// progress pushes the deadline back.
type stallWatchdog struct {
	idle    time.Duration
	timer   *time.Timer
	tripped atomic.Bool
}

func newStallWatchdog(idle time.Duration, cancel context.CancelFunc) *stallWatchdog {
	w := &stallWatchdog{idle: idle}
	w.timer = time.AfterFunc(idle, func() {
		w.tripped.Store(true)
		cancel()
	})
	return w
}

func (w *stallWatchdog) kick()       { w.timer.Reset(w.idle) }
func (w *stallWatchdog) stop()       { w.timer.Stop() }
func (w *stallWatchdog) fired() bool { return w.tripped.Load() }

type stallReader struct {
	body     io.ReadCloser
	watchdog *stallWatchdog
	cancel   context.CancelFunc
}

func (r *stallReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && !r.watchdog.fired() {
		r.watchdog.kick()
	}
	if err != nil && err != io.EOF && r.watchdog.fired() {
		return n, &StallError{Idle: r.watchdog.idle}
	}
	return n, err
}

func (r *stallReader) Close() error {
	r.watchdog.stop()
	r.cancel()
	return r.body.Close()
}
