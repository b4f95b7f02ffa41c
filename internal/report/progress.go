package report

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
)

// DefaultLogInterval is how often LogProgress reports
const DefaultLogInterval = 5 * time.Second

// LogProgress logs a one-line progress update every interval until ctx is
// done. Nothing is logged while no file has finished since the last line.
func (r *Report) LogProgress(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Summary()
			if s.Processed() == last {
				continue
			}
			last = s.Processed()
			logging.InfoWithContext(ctx, "Progress update: %d processed (%d completed, %d measured, %d skipped, %d failed), %s so far",
				s.Processed(), s.Completed, s.Measured, s.Skipped, s.Failed, humanize.IBytes(uint64(s.TotalBytes)))
		}
	}
}
