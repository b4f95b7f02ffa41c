package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
)

const (
	mebibyte = 1024 * 1024
	gibibyte = 1024 * mebibyte
)

// WriteText prints the run summary. Size runs list the per-user totals and
// the grand total in bytes, MB and GB.
func (s Summary) WriteText(w io.Writer) error {
	pw := &printer{w: w}

	pw.printf("\nSummary:\n")
	pw.printf("- Users: %d\n", s.Users)
	pw.printf("- Meetings: %d (%d filtered out)\n", s.Meetings, s.Filtered)

	if s.Mode == config.ModeSize {
		pw.printf("- Files measured: %d\n", s.Measured)
		if len(s.ByUser) > 0 {
			pw.printf("\nSize by user:\n")
			for _, u := range slices.Sorted(maps.Keys(s.ByUser)) {
				pw.printf("  %-40s %10s\n", u, humanize.IBytes(uint64(s.ByUser[u])))
			}
		}
		pw.printf("\nTotal size of the recordings that could be downloaded:\n")
		pw.printf("%.2f GB\n", float64(s.TotalBytes)/gibibyte)
		pw.printf("%.2f MB\n", float64(s.TotalBytes)/mebibyte)
		pw.printf("%s bytes\n", humanize.Comma(s.TotalBytes))
	} else {
		pw.printf("- Downloaded: %d (%s)\n", s.Completed, humanize.IBytes(uint64(s.TotalBytes)))
		if n := s.SkippedByReason[SkipReasonAlreadyExists]; n > 0 {
			pw.printf("- Skipped (already present): %d\n", n)
		}
		if n := s.SkippedByReason[SkipReasonDryRun]; n > 0 {
			pw.printf("- Skipped (dry run): %d\n", n)
		}
	}

	if n := s.SkippedByReason[SkipReasonIncomplete]; n > 0 {
		pw.printf("- Skipped (still processing): %d\n", n)
	}
	if n := s.SkippedByReason[SkipReasonNoFiles]; n > 0 {
		pw.printf("- Skipped (no recording files): %d\n", n)
	}

	if s.Failed > 0 {
		pw.printf("- Failed: %d\n", s.Failed)
		for _, f := range s.Failures {
			pw.printf("    %s %s (%s): %s\n", f.User, f.Topic, f.RecordingID, f.Err)
		}
	}

	pw.printf("- Time elapsed: %s\n", s.Duration().Round(time.Second))

	if s.Fatal != nil {
		pw.printf("\nRun aborted: %v\n", s.Fatal)
	}
	return pw.err
}

// printer keeps the first write error so callers check once
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
