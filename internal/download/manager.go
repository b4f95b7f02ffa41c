// Package download measures or fetches recording files with a bounded pool
// of workers
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/filename"
	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
	"github.com/curtbushko/zoom-recording-downloader/internal/metrics"
	"github.com/curtbushko/zoom-recording-downloader/internal/report"
	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
	"github.com/curtbushko/zoom-recording-downloader/internal/zoom"
)

// DefaultMaxFilesystemFailures is how many filesystem failures in a row end the run
const DefaultMaxFilesystemFailures = 5

// Fetcher opens the byte stream of a recording file. size is -1 when unknown.
type Fetcher interface {
	Download(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}

// Task is one recording file on its way to disk. Attempts is only touched by
// the worker that owns the task.
type Task struct {
	User     zoom.User
	Meeting  zoom.Meeting
	File     zoom.RecordingFile
	Target   filename.Target
	Attempts int
}

// Config holds configuration for the download manager
type Config struct {
	Mode                  string // config.ModeDownload or config.ModeSize
	Workers               int    // Number of concurrent workers
	DownloadDir           string // Root the targets are resolved against
	DryRun                bool   // Resolve and report without fetching
	MaxFilesystemFailures int    // Consecutive filesystem failures that abort the run
}

// Manager drains a task queue. In size mode it only adds up file sizes; in
// download mode it streams every missing file to a temp file next to its
// destination and renames it into place when complete.
type Manager struct {
	config  Config
	fs      afero.Fs
	fetcher Fetcher
	retrier *retry.Retrier
	report  *report.Report
	metrics *metrics.Metrics

	fsFailures atomic.Int32
}

// NewManager creates a new download manager with the given configuration.
// metrics may be nil.
func NewManager(cfg Config, fs afero.Fs, fetcher Fetcher, retrier *retry.Retrier, rep *report.Report, m *metrics.Metrics) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = config.ModeDownload
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxFilesystemFailures <= 0 {
		cfg.MaxFilesystemFailures = DefaultMaxFilesystemFailures
	}
	return &Manager{
		config:  cfg,
		fs:      fs,
		fetcher: fetcher,
		retrier: retrier,
		report:  rep,
		metrics: m,
	}
}

// Run processes tasks with the configured number of workers until tasks is
// closed. A fatal error (authentication, repeated filesystem failures)
// stops every worker and is returned; per-file failures are only reported.
func (m *Manager) Run(ctx context.Context, tasks <-chan Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for range m.config.Workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case task, ok := <-tasks:
					if !ok {
						return nil
					}
					if err := m.Process(ctx, task); err != nil {
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}

// Process handles one task. Only errors that must end the run are returned.
func (m *Manager) Process(ctx context.Context, task Task) error {
	if m.config.Mode == config.ModeSize {
		m.finish(task, report.OutcomeMeasured, report.SkipReasonNone, nil, 0)
		m.metrics.AddBytes(config.ModeSize, task.File.FileSize)
		return nil
	}

	start := time.Now()
	received, skipped, err := m.download(ctx, &task)
	elapsed := time.Since(start)
	if skipped == report.SkipReasonNone && ctx.Err() == nil {
		m.logPerformance(task, received, elapsed, err)
	}

	switch {
	case err == nil && skipped != report.SkipReasonNone:
		m.finish(task, report.OutcomeSkipped, skipped, nil, elapsed)
		return nil

	case err == nil:
		m.fsFailures.Store(0)
		task.File.FileSize = received
		m.finish(task, report.OutcomeCompleted, report.SkipReasonNone, nil, elapsed)
		m.metrics.AddBytes(config.ModeDownload, received)
		logging.InfoWithContext(ctx, "Downloaded %s (%s)", task.Target.Rel(), humanize.IBytes(uint64(received)))
		return nil

	case ctx.Err() != nil:
		return ctx.Err()
	}

	m.finish(task, report.OutcomeFailed, report.SkipReasonNone, err, elapsed)
	logging.ErrorWithContext(ctx, "Failed to download %s for %s: %v", task.Target.Rel(), task.User.Email, err)

	errorType := retry.ClassifyError(err)
	if errorType.Fatal() {
		return err
	}
	if errorType == retry.ErrorTypeFilesystem {
		if n := int(m.fsFailures.Add(1)); n >= m.config.MaxFilesystemFailures {
			return &AbortError{Failures: n, Err: err}
		}
		return nil
	}
	m.fsFailures.Store(0)
	return nil
}

// download returns the bytes written, or a skip reason when nothing had to
// be fetched
func (m *Manager) download(ctx context.Context, task *Task) (int64, report.SkipReason, error) {
	dest := task.Target.Path(m.config.DownloadDir)

	exists, err := afero.Exists(m.fs, dest)
	if err != nil {
		return 0, report.SkipReasonNone, &FilesystemError{Op: "stat", Path: dest, Err: err}
	}
	if exists {
		logging.DebugWithContext(ctx, "Skipping %s, already present", task.Target.Rel())
		return 0, report.SkipReasonAlreadyExists, nil
	}
	if m.config.DryRun {
		logging.InfoWithContext(ctx, "Dry run: would download %s (%s)", task.Target.Rel(), humanize.IBytes(uint64(task.File.FileSize)))
		return 0, report.SkipReasonDryRun, nil
	}

	if err := m.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, report.SkipReasonNone, &FilesystemError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}

	var received int64
	err = m.retrier.Do(ctx, func(ctx context.Context) error {
		task.Attempts++
		var err error
		received, err = m.transfer(ctx, task, dest)
		return err
	})
	return received, report.SkipReasonNone, err
}

// transfer streams one attempt into a private temp file and renames it onto
// dest. Whatever happens, no partial file is left behind.
func (m *Manager) transfer(ctx context.Context, task *Task, dest string) (int64, error) {
	body, size, err := m.fetcher.Download(ctx, task.File.DownloadURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	m.metrics.TransferStarted()
	defer m.metrics.TransferFinished()

	tmp := tempPath(dest)
	file, err := m.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, &FilesystemError{Op: "create", Path: tmp, Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			file.Close()
			_ = m.fs.Remove(tmp)
		}
	}()

	written, err := io.Copy(fsWriter{file: file, path: tmp}, body)
	if err != nil {
		var fsErr *FilesystemError
		if errors.As(err, &fsErr) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}
	if size >= 0 && written != size {
		return 0, &ShortTransferError{Expected: size, Received: written}
	}

	if err := file.Sync(); err != nil {
		return 0, &FilesystemError{Op: "sync", Path: tmp, Err: err}
	}
	if err := file.Close(); err != nil {
		return 0, &FilesystemError{Op: "close", Path: tmp, Err: err}
	}
	if err := m.fs.Rename(tmp, dest); err != nil {
		return 0, &FilesystemError{Op: "rename", Path: dest, Err: err}
	}
	committed = true

	if task.File.FileSize > 0 && written != task.File.FileSize {
		logging.WarnWithContext(ctx, "Size of %s (%d bytes) differs from the listed size (%d bytes)", task.Target.Rel(), written, task.File.FileSize)
	}
	return written, nil
}

// tempPath is a short hidden name next to dest, unique per attempt. It does
// not embed the destination name, which may already be close to the name
// length limit.
func tempPath(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+uuid.NewString()+".part")
}

// fsWriter tags write failures so they are not mistaken for network errors
type fsWriter struct {
	file afero.File
	path string
}

func (w fsWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, &FilesystemError{Op: "write", Path: w.path, Err: err}
	}
	return n, nil
}

func (m *Manager) logPerformance(task Task, received int64, elapsed time.Duration, err error) {
	perf := logging.PerformanceMetrics{
		Operation:      "download",
		Duration:       elapsed,
		BytesProcessed: received,
		Success:        err == nil,
		Metadata: map[string]interface{}{
			"user":         task.User.Email,
			"recording_id": task.File.ID,
			"attempts":     task.Attempts,
		},
	}
	if err != nil {
		perf.Error = err.Error()
	}
	logging.LogPerformance(perf)
}

func (m *Manager) finish(task Task, outcome report.Outcome, reason report.SkipReason, err error, elapsed time.Duration) {
	entry := report.Entry{
		User:        task.User.Email,
		MeetingUUID: task.Meeting.UUID,
		Topic:       task.Meeting.Topic,
		RecordingID: task.File.ID,
		FileType:    task.File.FileType,
		Path:        task.Target.Rel(),
		Size:        task.File.FileSize,
		Outcome:     outcome,
		Reason:      reason,
		Attempts:    task.Attempts,
		Duration:    elapsed,
	}
	if err != nil {
		entry.Err = err.Error()
	}
	m.report.Record(entry)
	m.metrics.FileDone(string(outcome))
}
