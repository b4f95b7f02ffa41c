// Package config provides configuration management for the zoom-recording-downloader application
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tebeka/strftime"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no --config flag is given
const DefaultConfigFile = "zoom-recording-downloader.conf"

// Behaviour modes
const (
	ModeDownload = "download"
	ModeSize     = "size"
)

// Filepath defaults, used when the FilepathFormat section leaves a key unset
const (
	DefaultTimezone         = "UTC"
	DefaultTimeFormat       = "%Y.%m.%d - %I.%M %p UTC"
	DefaultFilenameTemplate = "{meeting_time} - {topic} - {rec_type} - {recording_id}.{file_extension}"
	DefaultFolderTemplate   = "{topic} - {meeting_time}"
)

// OAuthConfig holds the server-to-server OAuth credentials
type OAuthConfig struct {
	AccountID    string `yaml:"account_id" json:"account_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	TokenURL     string `yaml:"token_url" json:"token_url"`
}

// APIConfig holds Zoom API connection settings
type APIConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	PageSize          int     `yaml:"page_size" json:"page_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// TimeoutDuration returns the per-call timeout as a time.Duration
func (a APIConfig) TimeoutDuration() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// StorageConfig holds local storage settings
type StorageConfig struct {
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
	ReportFile  string `yaml:"report_file" json:"report_file"`
}

// RecordingsConfig holds the requested recording date range.
// StartDate and EndDate use YYYY-MM-DD and win over the split fields.
type RecordingsConfig struct {
	StartDate  string `yaml:"start_date" json:"start_date"`
	EndDate    string `yaml:"end_date" json:"end_date"`
	StartYear  int    `yaml:"start_year" json:"start_year"`
	StartMonth int    `yaml:"start_month" json:"start_month"`
	StartDay   int    `yaml:"start_day" json:"start_day"`
}

// BehaviourConfig holds run behaviour settings
type BehaviourConfig struct {
	Mode                   string `yaml:"mode" json:"mode"`
	Concurrency            int    `yaml:"concurrency" json:"concurrency"`
	EnumerationConcurrency int    `yaml:"enumeration_concurrency" json:"enumeration_concurrency"`
	MaxAttempts            int    `yaml:"max_attempts" json:"max_attempts"`
	DryRun                 bool   `yaml:"dry_run" json:"dry_run"`
}

// PatternList holds glob patterns for each filter axis
type PatternList struct {
	Emails []string `yaml:"emails" json:"emails"`
	Topics []string `yaml:"topics" json:"topics"`
}

// FilterConfig holds the include and exclude rules of the default strategy
type FilterConfig struct {
	Include PatternList
	Exclude PatternList
}

// FilepathFormatConfig controls how recording metadata becomes a local path
type FilepathFormatConfig struct {
	Timezone         string `yaml:"timezone" json:"timezone"`
	TimeFormat       string `yaml:"strftime" json:"strftime"`
	FolderTemplate   string `yaml:"folder" json:"folder"`
	FilenameTemplate string `yaml:"filename" json:"filename"`
	SanitizeFrom     string `yaml:"filepath_replace_old" json:"filepath_replace_old"`
	SanitizeTo       string `yaml:"filepath_replace_new" json:"filepath_replace_new"`
}

// StrategyConfig selects the meeting filter strategy. Config is passed to the
// strategy as-is and may carry its own Include, Exclude and FilepathFormat.
type StrategyConfig struct {
	Module string         `yaml:"module" json:"module"`
	Class  string         `yaml:"class" json:"class"`
	Config map[string]any `yaml:"config" json:"config"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	Console    *bool  `yaml:"console" json:"console"`
	JSONFormat bool   `yaml:"json_format" json:"json_format"`
}

// ConsoleEnabled reports whether console output is on. Unset means on.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// MetricsConfig holds the optional Prometheus listener address
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Config represents the complete application configuration
type Config struct {
	OAuth          OAuthConfig          `yaml:"OAuth" json:"OAuth"`
	API            APIConfig            `yaml:"API" json:"API"`
	Storage        StorageConfig        `yaml:"Storage" json:"Storage"`
	Recordings     RecordingsConfig     `yaml:"Recordings" json:"Recordings"`
	Behaviour      BehaviourConfig      `yaml:"Behaviour" json:"Behaviour"`
	Strategy       StrategyConfig       `yaml:"Strategy" json:"Strategy"`
	Include        PatternList          `yaml:"Include" json:"Include"`
	Exclude        PatternList          `yaml:"Exclude" json:"Exclude"`
	FilepathFormat FilepathFormatConfig `yaml:"FilepathFormat" json:"FilepathFormat"`
	Logging        LoggingConfig        `yaml:"Logging" json:"Logging"`
	Metrics        MetricsConfig        `yaml:"Metrics" json:"Metrics"`
}

// strategyOverrides is the part of Strategy.config the default strategy understands
type strategyOverrides struct {
	Include        *PatternList          `yaml:"Include"`
	Exclude        *PatternList          `yaml:"Exclude"`
	FilepathFormat *FilepathFormatConfig `yaml:"FilepathFormat"`
}

// LoadConfig loads configuration from a JSON or YAML file with defaults and environment variable overrides
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if err := config.loadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	config.SetDefaults()

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	config.loadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Parse decodes configuration from raw bytes. YAML is a superset of JSON so
// both the original .conf files and YAML files are accepted.
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	// Windows editors like to leave a BOM on JSON files
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, &ConfigError{Reason: "failed to parse config", Err: err}
	}
	return config, nil
}

func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env file: %w", err)
}

// SetDefaults applies default values for missing configuration
func (c *Config) SetDefaults() {
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = "https://zoom.us/oauth/token"
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.zoom.us/v2"
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = 300
	}
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 300
	}

	if c.Storage.DownloadDir == "" {
		c.Storage.DownloadDir = "downloads"
	}

	if c.Behaviour.Mode == "" {
		c.Behaviour.Mode = ModeDownload
	}
	if c.Behaviour.Concurrency == 0 {
		c.Behaviour.Concurrency = 4
	}
	if c.Behaviour.EnumerationConcurrency == 0 {
		c.Behaviour.EnumerationConcurrency = 1
	}
	if c.Behaviour.MaxAttempts == 0 {
		c.Behaviour.MaxAttempts = 3
	}

	if c.Strategy.Class == "" {
		c.Strategy.Class = "DefaultMeetingHelperStrategy"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// loadFromEnvironment overrides configuration with environment variables
func (c *Config) loadFromEnvironment() {
	if val := os.Getenv("ZOOM_ACCOUNT_ID"); val != "" {
		c.OAuth.AccountID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_ID"); val != "" {
		c.OAuth.ClientID = val
	}
	if val := os.Getenv("ZOOM_CLIENT_SECRET"); val != "" {
		c.OAuth.ClientSecret = val
	}
	if val := os.Getenv("ZOOM_BASE_URL"); val != "" {
		c.API.BaseURL = val
	}
	if val := os.Getenv("DOWNLOAD_DIR"); val != "" {
		c.Storage.DownloadDir = val
	}
}

// Validate performs validation on the loaded configuration. Template
// placeholders and glob patterns are checked by the components that compile
// them, which also return *ConfigError.
func (c *Config) Validate() error {
	if c.OAuth.AccountID == "" {
		return Errorf("OAuth.account_id", "is required")
	}
	if c.OAuth.ClientID == "" {
		return Errorf("OAuth.client_id", "is required")
	}
	if c.OAuth.ClientSecret == "" {
		return Errorf("OAuth.client_secret", "is required")
	}

	if c.API.PageSize < 1 || c.API.PageSize > 300 {
		return Errorf("API.page_size", "must be between 1 and 300")
	}
	if c.API.TimeoutSeconds <= 0 {
		return Errorf("API.timeout_seconds", "must be greater than 0")
	}
	if c.API.RequestsPerSecond < 0 {
		return Errorf("API.requests_per_second", "must be >= 0")
	}

	switch c.Behaviour.Mode {
	case ModeDownload, ModeSize:
	default:
		return Errorf("Behaviour.mode", "unknown mode %q, must be one of: %s, %s", c.Behaviour.Mode, ModeDownload, ModeSize)
	}
	if c.Behaviour.Concurrency < 1 {
		return Errorf("Behaviour.concurrency", "must be at least 1")
	}
	if c.Behaviour.EnumerationConcurrency < 1 {
		return Errorf("Behaviour.enumeration_concurrency", "must be at least 1")
	}
	if c.Behaviour.MaxAttempts < 1 {
		return Errorf("Behaviour.max_attempts", "must be at least 1")
	}

	for field, value := range map[string]string{
		"Recordings.start_date": c.Recordings.StartDate,
		"Recordings.end_date":   c.Recordings.EndDate,
	} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, value); err != nil {
			return &ConfigError{Field: field, Reason: "must use YYYY-MM-DD", Err: err}
		}
	}

	ff, err := c.EffectiveFilepathFormat()
	if err != nil {
		return err
	}
	if _, err := time.LoadLocation(ff.Timezone); err != nil {
		return &ConfigError{Field: "FilepathFormat.timezone", Reason: "unknown timezone", Err: err}
	}
	if _, err := strftime.Format(ff.TimeFormat, time.Now()); err != nil {
		return &ConfigError{Field: "FilepathFormat.strftime", Reason: "invalid format", Err: err}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return Errorf("Logging.level", "must be one of: debug, info, warn, error")
	}

	return nil
}

func (c *Config) overrides() (strategyOverrides, error) {
	var o strategyOverrides
	if len(c.Strategy.Config) == 0 {
		return o, nil
	}
	if err := DecodeStrategyConfig(c.Strategy.Config, &o); err != nil {
		return o, err
	}
	return o, nil
}

// EffectiveFilter returns the include and exclude rules in force. Rules
// nested in Strategy.config win over the top-level sections.
func (c *Config) EffectiveFilter() (FilterConfig, error) {
	o, err := c.overrides()
	if err != nil {
		return FilterConfig{}, err
	}
	f := FilterConfig{Include: c.Include, Exclude: c.Exclude}
	if o.Include != nil {
		f.Include = *o.Include
	}
	if o.Exclude != nil {
		f.Exclude = *o.Exclude
	}
	return f, nil
}

// EffectiveFilepathFormat returns the path format in force with defaults applied
func (c *Config) EffectiveFilepathFormat() (FilepathFormatConfig, error) {
	o, err := c.overrides()
	if err != nil {
		return FilepathFormatConfig{}, err
	}
	ff := c.FilepathFormat
	if o.FilepathFormat != nil {
		ff = *o.FilepathFormat
	}
	if ff.Timezone == "" {
		ff.Timezone = DefaultTimezone
	}
	if ff.TimeFormat == "" {
		ff.TimeFormat = DefaultTimeFormat
	}
	if ff.FilenameTemplate == "" {
		ff.FilenameTemplate = DefaultFilenameTemplate
	}
	if ff.FolderTemplate == "" {
		ff.FolderTemplate = DefaultFolderTemplate
	}
	return ff, nil
}

// DecodeStrategyConfig decodes a free-form Strategy.config map into out
func DecodeStrategyConfig(raw map[string]any, out any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return &ConfigError{Field: "Strategy.config", Reason: "failed to encode", Err: err}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &ConfigError{Field: "Strategy.config", Reason: "failed to decode", Err: err}
	}
	return nil
}
