// Package report accumulates the outcome of a run and renders it for people
// and spreadsheets
package report

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Outcome is the terminal state of one recording file
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeMeasured  Outcome = "measured"
)

// SkipReason represents why an item was skipped
type SkipReason int

const (
	SkipReasonNone SkipReason = iota
	SkipReasonAlreadyExists
	SkipReasonIncomplete
	SkipReasonNoFiles
	SkipReasonDryRun
)

func (r SkipReason) String() string {
	switch r {
	case SkipReasonNone:
		return ""
	case SkipReasonAlreadyExists:
		return "already_exists"
	case SkipReasonIncomplete:
		return "incomplete"
	case SkipReasonNoFiles:
		return "no_files"
	case SkipReasonDryRun:
		return "dry_run"
	default:
		return "unknown"
	}
}

// Entry is one recording file (or one file-less meeting) as it left the run
type Entry struct {
	User        string
	MeetingUUID string
	Topic       string
	RecordingID string
	FileType    string
	Path        string
	Size        int64
	Outcome     Outcome
	Reason      SkipReason
	Err         string
	Attempts    int
	Duration    time.Duration
	FinishedAt  time.Time
}

// MeetingTotal is the byte total of one meeting
type MeetingTotal struct {
	User  string
	UUID  string
	Topic string
	Bytes int64
	Files int
}

// Summary is a point-in-time copy of a Report
type Summary struct {
	Mode       string
	StartTime  time.Time
	EndTime    time.Time
	Users      int
	Meetings   int
	Filtered   int
	Completed  int
	Skipped    int
	Failed     int
	Measured   int
	TotalBytes int64

	// SkippedByReason counts skipped entries per reason
	SkippedByReason map[SkipReason]int

	// ByUser and ByMeeting hold byte totals of completed and measured files
	ByUser    map[string]int64
	ByMeeting []MeetingTotal

	Failures []Entry
	Fatal    error
}

// Processed is the number of files that reached a terminal state
func (s Summary) Processed() int {
	return s.Completed + s.Skipped + s.Failed + s.Measured
}

// Duration is how long the run took so far
func (s Summary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// OK reports whether the run finished without a fatal error
func (s Summary) OK() bool {
	return s.Fatal == nil
}

type meetingKey struct {
	user string
	uuid string
}

// Report is the run-wide accumulator. Every method is safe for concurrent
// use; updates are applied one at a time.
type Report struct {
	mu        sync.Mutex
	mode      string
	startTime time.Time
	now       func() time.Time

	users    int
	meetings int
	filtered int
	entries  []Entry

	meetingOrder []meetingKey
	meetingTotal map[meetingKey]*MeetingTotal

	fatal error
}

// New starts a report for a run in mode
func New(mode string) *Report {
	return &Report{
		mode:         mode,
		startTime:    time.Now(),
		now:          time.Now,
		meetingTotal: make(map[meetingKey]*MeetingTotal),
	}
}

// AddUser counts a user whose meetings are being enumerated
func (r *Report) AddUser() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users++
}

// AddMeeting counts a meeting that passed the filter
func (r *Report) AddMeeting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings++
}

// AddFiltered counts a meeting the filter rejected
func (r *Report) AddFiltered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filtered++
}

// Record adds a terminal entry. A zero FinishedAt is set to now.
func (r *Report) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.FinishedAt.IsZero() {
		e.FinishedAt = r.now()
	}
	r.entries = append(r.entries, e)

	if e.Outcome != OutcomeCompleted && e.Outcome != OutcomeMeasured {
		return
	}
	key := meetingKey{user: e.User, uuid: e.MeetingUUID}
	total, ok := r.meetingTotal[key]
	if !ok {
		total = &MeetingTotal{User: e.User, UUID: e.MeetingUUID, Topic: e.Topic}
		r.meetingTotal[key] = total
		r.meetingOrder = append(r.meetingOrder, key)
	}
	total.Bytes += e.Size
	total.Files++
}

// SetFatal records the error that ended the run. The first one wins.
func (r *Report) SetFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

// Fatal returns the error that ended the run, if any
func (r *Report) Fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Entries returns a copy of every recorded entry in recording order
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Summary returns a snapshot of the report
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Mode:            r.mode,
		StartTime:       r.startTime,
		EndTime:         r.now(),
		Users:           r.users,
		Meetings:        r.meetings,
		Filtered:        r.filtered,
		SkippedByReason: make(map[SkipReason]int),
		ByUser:          make(map[string]int64),
		Fatal:           r.fatal,
	}

	for _, e := range r.entries {
		switch e.Outcome {
		case OutcomeCompleted:
			s.Completed++
		case OutcomeSkipped:
			s.Skipped++
			s.SkippedByReason[e.Reason]++
		case OutcomeFailed:
			s.Failed++
			s.Failures = append(s.Failures, e)
		case OutcomeMeasured:
			s.Measured++
		}
	}

	for _, key := range r.meetingOrder {
		total := *r.meetingTotal[key]
		s.ByMeeting = append(s.ByMeeting, total)
		s.ByUser[total.User] += total.Bytes
		s.TotalBytes += total.Bytes
	}
	slices.SortStableFunc(s.ByMeeting, func(a, b MeetingTotal) int {
		return strings.Compare(a.User, b.User)
	})
	return s
}
