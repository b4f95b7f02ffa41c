// Package window turns the configured recording date range into the
// month-sized windows the Zoom recordings endpoint accepts.
package window

import (
	"iter"
	"time"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
)

const apiDateLayout = "2006-01-02"

// Window is a half-open span of calendar days [Start, End). Both ends are
// midnight UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// From is the first day to request, inclusive
func (w Window) From() time.Time {
	return w.Start
}

// To is the last day to request, inclusive
func (w Window) To() time.Time {
	return w.End.AddDate(0, 0, -1)
}

func (w Window) String() string {
	return w.From().Format(apiDateLayout) + ".." + w.To().Format(apiDateLayout)
}

// Range is the requested span of calendar days. First and Last are both
// inclusive.
type Range struct {
	First time.Time
	Last  time.Time
}

func (r Range) String() string {
	return r.First.Format(apiDateLayout) + ".." + r.Last.Format(apiDateLayout)
}

// Resolve computes the effective range. Explicit start_date/end_date win;
// otherwise the start defaults to January 1st of the current year and the
// end to today.
func Resolve(cfg config.RecordingsConfig, now time.Time) (Range, error) {
	today := day(now.Year(), now.Month(), now.Day())

	var first time.Time
	if cfg.StartDate != "" {
		t, err := time.Parse(apiDateLayout, cfg.StartDate)
		if err != nil {
			return Range{}, &config.ConfigError{Field: "Recordings.start_date", Reason: "must use YYYY-MM-DD", Err: err}
		}
		first = t
	} else {
		year, month, dom := cfg.StartYear, cfg.StartMonth, cfg.StartDay
		if year == 0 {
			year = today.Year()
		}
		if month == 0 {
			month = 1
		}
		if dom == 0 {
			dom = 1
		}
		if month < 1 || month > 12 {
			return Range{}, config.Errorf("Recordings.start_month", "must be between 1 and 12")
		}
		first = day(year, time.Month(month), dom)
		if first.Day() != dom {
			return Range{}, config.Errorf("Recordings.start_day", "%d is not a day of %s %d", dom, time.Month(month), year)
		}
	}

	last := today
	if cfg.EndDate != "" {
		t, err := time.Parse(apiDateLayout, cfg.EndDate)
		if err != nil {
			return Range{}, &config.ConfigError{Field: "Recordings.end_date", Reason: "must use YYYY-MM-DD", Err: err}
		}
		last = t
	}

	if first.After(last) {
		return Range{}, config.Errorf("Recordings", "start %s is after end %s",
			first.Format(apiDateLayout), last.Format(apiDateLayout))
	}

	return Range{First: first, Last: last}, nil
}

// Windows splits the range into calendar-month windows in chronological
// order. The first window starts at First, every later one on the 1st of a
// month, and the last one is cut at Last. Each call starts a fresh pass.
func (r Range) Windows() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		end := r.Last.AddDate(0, 0, 1)
		for start := r.First; start.Before(end); {
			next := day(start.Year(), start.Month()+1, 1)
			if next.After(end) {
				next = end
			}
			if !yield(Window{Start: start, End: next}) {
				return
			}
			start = next
		}
	}
}

func day(year int, month time.Month, dom int) time.Time {
	return time.Date(year, month, dom, 0, 0, 0, 0, time.UTC)
}
