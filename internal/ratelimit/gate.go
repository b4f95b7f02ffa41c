// Package ratelimit holds the request budget shared by every worker.
//
// Zoom rate limits are account-wide, so a 429 seen by one worker must pause
// all of them. Gate is that shared clock: Pause pushes the resume time
// forward and Wait blocks until it has passed. An optional token bucket
// paces requests even before the server complains.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate is safe for concurrent use. A nil *Gate never blocks.
type Gate struct {
	mu          sync.Mutex
	pausedUntil time.Time
	pauses      int
	limiter     *rate.Limiter
	now         func() time.Time
}

// NewGate returns a gate allowing requestsPerSecond with the given burst.
// requestsPerSecond <= 0 disables pacing and leaves only server-driven
// pauses.
func NewGate(requestsPerSecond float64, burst int) *Gate {
	g := &Gate{now: time.Now}
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return g
}

// Pause stops every caller of Wait for at least d. A shorter pause never
// cuts an existing one short. It returns the resulting resume time.
func (g *Gate) Pause(d time.Duration) time.Time {
	if g == nil {
		return time.Time{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.now().Add(d)
	if until.After(g.pausedUntil) {
		g.pausedUntil = until
	}
	g.pauses++
	return g.pausedUntil
}

// PausedUntil returns the current resume time
func (g *Gate) PausedUntil() time.Time {
	if g == nil {
		return time.Time{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedUntil
}

// Pauses is the number of Pause calls so far
func (g *Gate) Pauses() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauses
}

// Wait blocks until the gate is open and a request token is available
func (g *Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g == nil {
		return nil
	}

	// another worker may extend the pause while we sleep
	for {
		wait := g.PausedUntil().Sub(g.now())
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if g.limiter != nil {
		return g.limiter.Wait(ctx)
	}
	return nil
}
