// Package processor runs one pass over the account: it lists users and their
// recordings, filters them, resolves local paths and feeds the download pool.
package processor

import (
	"context"
	"fmt"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curtbushko/zoom-recording-downloader/internal/download"
	"github.com/curtbushko/zoom-recording-downloader/internal/filename"
	"github.com/curtbushko/zoom-recording-downloader/internal/filter"
	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
	"github.com/curtbushko/zoom-recording-downloader/internal/metrics"
	"github.com/curtbushko/zoom-recording-downloader/internal/report"
	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
	"github.com/curtbushko/zoom-recording-downloader/internal/window"
	"github.com/curtbushko/zoom-recording-downloader/internal/zoom"
)

// DefaultQueueSize bounds how far enumeration may run ahead of the workers
const DefaultQueueSize = 64

// UserSource lists the users of the account
type UserSource interface {
	Users(ctx context.Context) iter.Seq2[zoom.User, error]
}

// MeetingSource lists the recorded meetings of one user across windows
type MeetingSource interface {
	Meetings(ctx context.Context, user zoom.User, windows iter.Seq[window.Window]) iter.Seq2[zoom.Meeting, error]
}

// PathResolver maps a recording file to its place under the download directory
type PathResolver interface {
	Resolve(user zoom.User, meeting zoom.Meeting, file zoom.RecordingFile) (filename.Target, error)
}

// TaskRunner consumes download tasks until the channel is closed
type TaskRunner interface {
	Run(ctx context.Context, tasks <-chan download.Task) error
}

// Deps holds everything a run needs. Metrics may be nil.
type Deps struct {
	Windows   window.Range
	Users     UserSource
	Meetings  MeetingSource
	Filter    filter.MeetingFilter
	Resolver  PathResolver
	Downloads TaskRunner
	Report    *report.Report
	Metrics   *metrics.Metrics

	// EnumerationConcurrency is how many users are listed at once
	EnumerationConcurrency int
	QueueSize              int
	ProgressInterval       time.Duration
}

// Orchestrator runs the pipeline once
type Orchestrator struct {
	deps Deps
}

// New creates an orchestrator, filling in defaults for unset limits
func New(deps Deps) *Orchestrator {
	if deps.EnumerationConcurrency <= 0 {
		deps.EnumerationConcurrency = 1
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	return &Orchestrator{deps: deps}
}

// Run enumerates and processes every selected recording file. Enumeration
// and downloading run concurrently over a bounded queue. A fatal error or
// cancellation stops both sides; it is recorded in the report and returned
// together with the summary of what was done until then.
func (o *Orchestrator) Run(ctx context.Context) (*report.Summary, error) {
	if _, ok := logging.GetRunID(ctx); !ok {
		ctx = logging.WithRunID(ctx, logging.NewID())
	}
	logging.InfoWithContext(ctx, "Starting run over %s", o.deps.Windows)

	progressCtx, stopProgress := context.WithCancel(ctx)
	go o.deps.Report.LogProgress(progressCtx, o.deps.ProgressInterval)

	tasks := make(chan download.Task, o.deps.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(tasks)
		return o.enumerate(gctx, tasks)
	})
	g.Go(func() error {
		return o.deps.Downloads.Run(gctx, tasks)
	})
	err := g.Wait()
	stopProgress()

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("run interrupted: %w", ctx.Err())
		}
		o.deps.Report.SetFatal(err)
		logging.ErrorWithContext(ctx, "Run aborted: %v", err)
	}

	summary := o.deps.Report.Summary()
	logging.InfoWithContext(ctx, "Run finished in %s: %d processed, %d failed",
		summary.Duration().Round(time.Millisecond), summary.Processed(), summary.Failed)
	return &summary, err
}

// enumerate lists users on one goroutine and hands the selected ones to a
// pool that lists and resolves their recordings
func (o *Orchestrator) enumerate(ctx context.Context, tasks chan<- download.Task) error {
	users := make(chan zoom.User)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(users)
		for user, err := range o.deps.Users.Users(ctx) {
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}
			if !filter.SelectUser(o.deps.Filter, user.Email) {
				logging.LogUserAction("skipped", user.Email, map[string]interface{}{"reason": "filtered"})
				continue
			}
			select {
			case users <- user:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range o.deps.EnumerationConcurrency {
		g.Go(func() error {
			for user := range users {
				if err := o.processUser(ctx, user, tasks); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// processUser queues the files of every selected meeting of user. Listing
// failures that are not fatal only cost this user's remaining meetings.
func (o *Orchestrator) processUser(ctx context.Context, user zoom.User, tasks chan<- download.Task) error {
	o.deps.Report.AddUser()
	logging.InfoWithContext(ctx, "Processing recordings of %s", user.DisplayName())

	queued := 0
	for meeting, err := range o.deps.Meetings.Meetings(ctx, user, o.deps.Windows.Windows()) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if retry.ClassifyError(err).Fatal() {
				return err
			}
			logging.ErrorWithContext(ctx, "Failed to list recordings of %s: %v", user.Email, err)
			o.record(report.Entry{User: user.Email, Outcome: report.OutcomeFailed, Err: err.Error()})
			return nil
		}

		if !o.deps.Filter.Select(user.Email, meeting.Topic) {
			o.deps.Report.AddFiltered()
			logging.DebugWithContext(ctx, "Skipping meeting %q of %s, rejected by filter", meeting.Topic, user.Email)
			continue
		}
		o.deps.Report.AddMeeting()

		n, err := o.queueMeeting(ctx, user, meeting, tasks)
		queued += n
		if err != nil {
			return err
		}
	}

	logging.DebugWithContext(ctx, "Queued %d files of %s", queued, user.Email)
	return nil
}

func (o *Orchestrator) queueMeeting(ctx context.Context, user zoom.User, meeting zoom.Meeting, tasks chan<- download.Task) (int, error) {
	base := report.Entry{User: user.Email, MeetingUUID: meeting.UUID, Topic: meeting.Topic}

	if len(meeting.RecordingFiles) == 0 {
		entry := base
		entry.Outcome, entry.Reason = report.OutcomeSkipped, report.SkipReasonNoFiles
		o.record(entry)
		logging.InfoWithContext(ctx, "No recording files for meeting %q of %s", meeting.Topic, user.Email)
		return 0, nil
	}

	queued := 0
	for _, file := range meeting.RecordingFiles {
		entry := base
		entry.RecordingID, entry.FileType, entry.Size = file.ID, file.FileType, file.FileSize

		if file.Incomplete() {
			entry.Outcome, entry.Reason = report.OutcomeSkipped, report.SkipReasonIncomplete
			o.record(entry)
			logging.InfoWithContext(ctx, "Skipping incomplete file %s of meeting %q, still processing", file.ID, meeting.Topic)
			continue
		}

		target, err := o.deps.Resolver.Resolve(user, meeting, file)
		if err != nil {
			entry.Outcome, entry.Err = report.OutcomeFailed, err.Error()
			o.record(entry)
			logging.ErrorWithContext(ctx, "Failed to resolve path of file %s of meeting %q: %v", file.ID, meeting.Topic, err)
			continue
		}

		task := download.Task{User: user, Meeting: meeting, File: file, Target: target}
		select {
		case tasks <- task:
			queued++
		case <-ctx.Done():
			return queued, ctx.Err()
		}
	}
	return queued, nil
}

func (o *Orchestrator) record(entry report.Entry) {
	o.deps.Report.Record(entry)
	o.deps.Metrics.FileDone(string(entry.Outcome))
}
