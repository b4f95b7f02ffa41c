package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/download"
	"github.com/curtbushko/zoom-recording-downloader/internal/filename"
	"github.com/curtbushko/zoom-recording-downloader/internal/filter"
	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
	"github.com/curtbushko/zoom-recording-downloader/internal/metrics"
	"github.com/curtbushko/zoom-recording-downloader/internal/processor"
	"github.com/curtbushko/zoom-recording-downloader/internal/ratelimit"
	"github.com/curtbushko/zoom-recording-downloader/internal/report"
	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
	"github.com/curtbushko/zoom-recording-downloader/internal/window"
	"github.com/curtbushko/zoom-recording-downloader/internal/zoom"
)

var (
	// Version information - will be set during build
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// flags holds the command line overrides. Zero values leave the
// configuration file alone.
type flags struct {
	configFile  string
	mode        string
	outputDir   string
	workers     int
	verbose     bool
	dryRun      bool
	metricsAddr string
}

// buildRootCommand creates and configures the root command
func buildRootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "zoom-recording-downloader",
		Short: "Download or size up the cloud recordings of a Zoom account",
		Long: `zoom-recording-downloader lists every user of a Zoom account, walks
their cloud recordings month by month and either downloads the files into a
local folder tree or reports how much space they would take.

Interrupted runs can be restarted: files already on disk are skipped and
partially transferred files never appear under their final name.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if f.workers < 0 {
				return fmt.Errorf("workers must be a positive number or 0, got: %d", f.workers)
			}
			switch f.mode {
			case "", config.ModeDownload, config.ModeSize:
			default:
				return fmt.Errorf("invalid --mode %q, must be %s or %s", f.mode, config.ModeDownload, config.ModeSize)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				printConfigHint(cmd, f.configFile, err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err = run(ctx, cfg, cmd.OutOrStdout())
			return err
		},
	}

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())

	rootCmd.PersistentFlags().StringVar(&f.configFile, "config", config.DefaultConfigFile, "configuration file path")
	rootCmd.Flags().StringVar(&f.mode, "mode", "", "download or size (overrides Behaviour.mode)")
	rootCmd.Flags().StringVar(&f.outputDir, "output-dir", "", "download directory (overrides Storage.download_dir)")
	rootCmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent downloads (overrides Behaviour.concurrency)")
	rootCmd.Flags().BoolVar(&f.verbose, "verbose", false, "debug logging")
	rootCmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "resolve paths and report without downloading")
	rootCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	return rootCmd
}

// loadConfig reads the configuration file and applies the flag overrides
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.mode != "" {
		cfg.Behaviour.Mode = f.mode
	}
	if f.outputDir != "" {
		cfg.Storage.DownloadDir = f.outputDir
	}
	if f.workers > 0 {
		cfg.Behaviour.Concurrency = f.workers
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if f.dryRun {
		cfg.Behaviour.DryRun = true
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Listen = f.metricsAddr
	}
}

func printConfigHint(cmd *cobra.Command, path string, err error) {
	cmd.PrintErrf("Configuration error: %v\n\n", err)

	var cfgErr *config.ConfigError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cmd.PrintErrf("Configuration file '%s' not found.\n", path)
		cmd.PrintErrf("Run 'zoom-recording-downloader config' to see the expected structure,\n")
		cmd.PrintErrf("or point --config at an existing file.\n")
	case errors.As(err, &cfgErr) && cfgErr.Field != "":
		cmd.PrintErrf("Check the %s setting. Run 'zoom-recording-downloader config' for a reference.\n", cfgErr.Field)
	default:
		cmd.PrintErrf("Run 'zoom-recording-downloader config' to see the expected structure.\n")
	}
}

// run wires every component from cfg and performs one pass. The summary is
// written to out and, when configured, the per-file CSV report to disk.
func run(ctx context.Context, cfg *config.Config, out io.Writer) (*report.Summary, error) {
	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.GetDefaultLogger().Close()
	ctx = logging.WithRunID(ctx, logging.NewID())

	windows, err := window.Resolve(cfg.Recordings, time.Now())
	if err != nil {
		return nil, err
	}

	meetingFilter, err := filter.New(cfg)
	if err != nil {
		return nil, err
	}
	defer filter.Close(meetingFilter)

	format, ok := filter.FilepathFormat(meetingFilter)
	if !ok {
		if format, err = cfg.EffectiveFilepathFormat(); err != nil {
			return nil, err
		}
	}
	resolver, err := filename.NewResolver(format)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logging.Error("Metrics listener stopped: %v", err)
			}
		}()
	}

	retrier, err := newRetrier(cfg, m)
	if err != nil {
		return nil, err
	}

	auth := zoom.NewServerToServerAuth(ctx, cfg.OAuth, nil)
	tokens := zoom.NewRefreshingTokenSource(auth, zoom.DefaultEarlyExpiry)
	client := zoom.NewClient(zoom.ClientConfig{
		BaseURL:   cfg.API.BaseURL,
		PageSize:  cfg.API.PageSize,
		Timeout:   cfg.API.TimeoutDuration(),
		UserAgent: "zoom-recording-downloader/" + version,
	}, tokens, nil)

	osFs := afero.NewOsFs()
	rep := report.New(cfg.Behaviour.Mode)
	manager := download.NewManager(download.Config{
		Mode:        cfg.Behaviour.Mode,
		Workers:     cfg.Behaviour.Concurrency,
		DownloadDir: cfg.Storage.DownloadDir,
		DryRun:      cfg.Behaviour.DryRun,
	}, osFs, client, retrier, rep, m)

	orchestrator := processor.New(processor.Deps{
		Windows:                windows,
		Users:                  zoom.NewUserEnumerator(client, retrier),
		Meetings:               zoom.NewRecordingEnumerator(client, retrier),
		Filter:                 meetingFilter,
		Resolver:               resolver,
		Downloads:              manager,
		Report:                 rep,
		Metrics:                m,
		EnumerationConcurrency: cfg.Behaviour.EnumerationConcurrency,
	})

	summary, runErr := orchestrator.Run(ctx)
	logging.Info("Sent %d Zoom API requests, refreshed the access token %d times", client.Requests(), tokens.Invalidations())
	if !summary.OK() {
		logging.Error("Run did not complete, rerun to fetch the remaining files")
	}
	if err := summary.WriteText(out); err != nil {
		logging.Error("Failed to print summary: %v", err)
	}
	if cfg.Storage.ReportFile != "" {
		if err := rep.WriteCSV(osFs, cfg.Storage.ReportFile); err != nil {
			logging.Error("Failed to write report %s: %v", cfg.Storage.ReportFile, err)
		} else {
			logging.Info("Wrote report to %s", cfg.Storage.ReportFile)
		}
	}
	return summary, runErr
}

// newRetrier builds the retrier shared by the enumerators and the download
// workers, with one rate limit gate for all of them
func newRetrier(cfg *config.Config, m *metrics.Metrics) (*retry.Retrier, error) {
	retryConfig := retry.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.Behaviour.MaxAttempts
	if err := retry.ValidateRetryConfig(retryConfig); err != nil {
		return nil, &config.ConfigError{Field: "Behaviour.max_attempts", Reason: "invalid retry settings", Err: err}
	}

	gate := ratelimit.NewGate(cfg.API.RequestsPerSecond, cfg.Behaviour.Concurrency)
	retrier := retry.NewRetrier(retryConfig, gate)
	retrier.OnRetry = func(errorType retry.ErrorType, delay time.Duration) {
		m.Retry(string(errorType))
		logging.Debug("Retrying after %s (%s)", delay.Round(time.Millisecond), errorType)
	}
	return retrier, nil
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, commit, and build information for zoom-recording-downloader",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("zoom-recording-downloader version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// createConfigCommand creates the config help subcommand
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration file structure and examples",
		Long:  "Display the configuration file structure, environment variables and path template variables",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s", configHelp)
		},
	}
}

const configHelp = `Configuration File Structure (zoom-recording-downloader.conf):

The file is JSON or YAML. Only the OAuth section is required.

{
  "OAuth": {
    "account_id": "your_zoom_account_id",
    "client_id": "your_zoom_client_id",
    "client_secret": "your_zoom_client_secret"
  },
  "Storage": {
    "download_dir": "./downloads",       # default: downloads
    "report_file": "./report.csv"        # optional per-file CSV report
  },
  "Recordings": {
    "start_date": "2023-01-01",          # or start_year/start_month/start_day
    "end_date": "2023-06-30"             # default: today
  },
  "Behaviour": {
    "mode": "download",                  # download or size
    "concurrency": 4,                    # parallel downloads
    "enumeration_concurrency": 1,        # users listed in parallel
    "max_attempts": 3                    # per file, rate limits excluded
  },
  "API": {
    "requests_per_second": 0,            # 0 = only back off when Zoom asks
    "timeout_seconds": 300
  },
  "Strategy": {
    "class": "DefaultMeetingHelperStrategy",   # or ActiveUserListStrategy
    "config": {}                               # may carry Include/Exclude/FilepathFormat
  },
  "Include": { "emails": ["*@example.com"], "topics": [] },
  "Exclude": { "emails": [], "topics": ["*standup*"] },
  "FilepathFormat": {
    "timezone": "UTC",
    "strftime": "%Y.%m.%d - %I.%M %p UTC",
    "folder": "{topic} - {meeting_time}",
    "filename": "{meeting_time} - {topic} - {rec_type} - {recording_id}.{file_extension}",
    "filepath_replace_old": " ",
    "filepath_replace_new": "_"
  },
  "Logging": { "level": "info", "file": "", "console": true, "json_format": false },
  "Metrics": { "listen": "" }
}

TEMPLATE VARIABLES:
==================
  {meeting_time}    meeting start formatted with strftime in the timezone
  {year} {month} {day}
  {topic}           meeting topic
  {rec_type}        recording type, e.g. shared_screen_with_speaker_view
  {recording_id}    recording file id
  {file_extension}  lower-cased extension
  {email} {user}    host email and its local part

Names that come out the same (ignoring case) get -<first 8 chars of the
recording id> appended. Keep {recording_id} in the filename, or {email} in the
folder when enumeration_concurrency is above 1, so reruns map every file to
the same path. Long names are shortened to fit 255 bytes.

Glob patterns match case-insensitively; * matches any run of characters.

ENVIRONMENT VARIABLES:
=====================
  ZOOM_ACCOUNT_ID, ZOOM_CLIENT_ID, ZOOM_CLIENT_SECRET, ZOOM_BASE_URL, DOWNLOAD_DIR
  They override the file and may also be set in a .env file.

REQUIRED SCOPES: user:read:admin, recording:read:admin
`

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
