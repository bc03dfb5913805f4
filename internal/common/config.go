package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// StorageConfig holds persistent state locations. DatabasePath and
// SnapshotDirectory default to paths under DataDir when left empty.
type StorageConfig struct {
	DataDir           string `toml:"data_dir" validate:"required"`
	DatabasePath      string `toml:"database_path"`
	SnapshotDirectory string `toml:"snapshot_directory"`
}

// SchedulerStatePath returns the JSON state document location.
func (s *StorageConfig) SchedulerStatePath() string {
	return filepath.Join(s.DataDir, "scheduler_state.json")
}

// LockFilePath returns the scheduler singleton lock location.
func (s *StorageConfig) LockFilePath() string {
	return filepath.Join(s.DataDir, "scheduler.lock")
}

// WebsiteSeedDir returns the directory scanned for website definition files.
func (s *StorageConfig) WebsiteSeedDir() string {
	return filepath.Join(s.DataDir, "websites.d")
}

// SchedulerConfig controls the scheduler core
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
}

// ChecksConfig holds default per-site check parameters. Sites may override
// render delay, diff threshold, crawl depth and exclusions individually.
type ChecksConfig struct {
	RenderDelaySeconds         int      `toml:"render_delay_seconds" validate:"min=0"`
	VisualDiffThresholdPercent float64  `toml:"visual_diff_threshold_percent" validate:"min=0"`
	MaxCrawlDepth              int      `toml:"max_crawl_depth" validate:"min=1"`
	ExcludePageKeywords        []string `toml:"exclude_page_keywords"`
	RequestTimeoutSeconds      int      `toml:"request_timeout_seconds" validate:"min=1"`
	CaptureTimeoutSeconds      int      `toml:"capture_timeout_seconds" validate:"min=1"`
	PerformanceAPIKey          string   `toml:"performance_api_key"`
	PerformanceAPIURL          string   `toml:"performance_api_url"`
	PerformancePageLimit       int      `toml:"performance_page_limit" validate:"min=1"`
}

// RetentionConfig holds pruning windows in days
type RetentionConfig struct {
	HistoryDays int `toml:"history_days" validate:"min=1"`
	QueueDays   int `toml:"queue_days" validate:"min=1"`
}

// NotifyConfig holds SMTP transport settings and the fallback recipient list
type NotifyConfig struct {
	Sender            string   `toml:"sender"`
	DefaultRecipients []string `toml:"default_recipients" validate:"dive,email"`
	SMTPHost          string   `toml:"smtp_host"`
	SMTPPort          int      `toml:"smtp_port"`
	SMTPUsername      string   `toml:"smtp_username"`
	SMTPPassword      string   `toml:"smtp_password"`
	SMTPUseTLS        bool     `toml:"smtp_use_tls"`
	SMTPUseSSL        bool     `toml:"smtp_use_ssl"`
}

// Enabled reports whether the transport is configured enough to send.
func (n *NotifyConfig) Enabled() bool {
	return n.SMTPHost != "" && n.Sender != ""
}

// ReportConfig holds report rendering settings
type ReportConfig struct {
	DashboardURL string `toml:"dashboard_url"`
}

// LoggingConfig holds arbor logger settings
type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

// WebSocketConfig controls the log stream pushed to dashboard clients
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`
	ExcludePatterns []string `toml:"exclude_patterns"`
}

// Config is the root configuration document
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Checks    ChecksConfig    `toml:"checks"`
	Retention RetentionConfig `toml:"retention"`
	Notify    NotifyConfig    `toml:"notify"`
	Report    ReportConfig    `toml:"report"`
	Logging   LoggingConfig   `toml:"logging"`
	WebSocket WebSocketConfig `toml:"websocket"`
}

// NewDefaultConfig returns the built-in defaults. File, environment and CLI
// layers are applied on top of this.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Checks: ChecksConfig{
			RenderDelaySeconds:         3,
			VisualDiffThresholdPercent: 5.0,
			MaxCrawlDepth:              2,
			ExcludePageKeywords:        []string{},
			RequestTimeoutSeconds:      30,
			CaptureTimeoutSeconds:      60,
			PerformanceAPIURL:          "https://www.googleapis.com/pagespeedonline/v5/runPagespeed",
			PerformancePageLimit:       3,
		},
		Retention: RetentionConfig{
			HistoryDays: 90,
			QueueDays:   7,
		},
		Notify: NotifyConfig{
			DefaultRecipients: []string{},
			SMTPPort:          587,
			SMTPUseTLS:        true,
		},
		Report: ReportConfig{
			DashboardURL: "http://localhost:8085",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// normalize fills derived paths that were left empty.
func (c *Config) normalize() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "vigil.db")
	}
	if c.Storage.SnapshotDirectory == "" {
		c.Storage.SnapshotDirectory = filepath.Join(c.Storage.DataDir, "snapshots")
	}
}

// Validate checks structural constraints on the merged configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ApplyFlagOverrides applies CLI flag values. Flags take precedence over
// environment variables and config files. Zero values mean "not set".
func (c *Config) ApplyFlagOverrides(host string, port int, dataDir string) {
	if host != "" {
		c.Server.Host = host
	}
	if port > 0 {
		c.Server.Port = port
	}
	if dataDir != "" {
		c.Storage.DataDir = dataDir
		c.Storage.DatabasePath = ""
		c.Storage.SnapshotDirectory = ""
		c.normalize()
	}
}

// applyEnvOverrides applies VIGIL_-prefixed environment variables.
// Environment always wins over file values.
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("VIGIL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("VIGIL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if dataDir := os.Getenv("VIGIL_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
	if dbPath := os.Getenv("VIGIL_DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}
	if snapDir := os.Getenv("VIGIL_SNAPSHOT_DIRECTORY"); snapDir != "" {
		config.Storage.SnapshotDirectory = snapDir
	}

	if enabled := os.Getenv("VIGIL_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}

	if delay := os.Getenv("VIGIL_RENDER_DELAY_SECONDS"); delay != "" {
		if d, err := strconv.Atoi(delay); err == nil {
			config.Checks.RenderDelaySeconds = d
		}
	}
	if threshold := os.Getenv("VIGIL_VISUAL_DIFF_THRESHOLD_PERCENT"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Checks.VisualDiffThresholdPercent = t
		}
	}
	if depth := os.Getenv("VIGIL_MAX_CRAWL_DEPTH"); depth != "" {
		if d, err := strconv.Atoi(depth); err == nil {
			config.Checks.MaxCrawlDepth = d
		}
	}
	if keywords := os.Getenv("VIGIL_EXCLUDE_PAGE_KEYWORDS"); keywords != "" {
		config.Checks.ExcludePageKeywords = splitAndTrim(keywords)
	}
	if apiKey := os.Getenv("VIGIL_PERFORMANCE_API_KEY"); apiKey != "" {
		config.Checks.PerformanceAPIKey = apiKey
	}
	if apiURL := os.Getenv("VIGIL_PERFORMANCE_API_URL"); apiURL != "" {
		config.Checks.PerformanceAPIURL = apiURL
	}

	if days := os.Getenv("VIGIL_HISTORY_RETENTION_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Retention.HistoryDays = d
		}
	}
	if days := os.Getenv("VIGIL_QUEUE_RETENTION_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Retention.QueueDays = d
		}
	}

	if sender := os.Getenv("VIGIL_NOTIFICATION_SENDER"); sender != "" {
		config.Notify.Sender = sender
	}
	if recipients := os.Getenv("VIGIL_DEFAULT_NOTIFICATION_RECIPIENTS"); recipients != "" {
		config.Notify.DefaultRecipients = splitAndTrim(recipients)
	}
	if host := os.Getenv("VIGIL_SMTP_HOST"); host != "" {
		config.Notify.SMTPHost = host
	}
	if port := os.Getenv("VIGIL_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Notify.SMTPPort = p
		}
	}
	if username := os.Getenv("VIGIL_SMTP_USERNAME"); username != "" {
		config.Notify.SMTPUsername = username
	}
	if password := os.Getenv("VIGIL_SMTP_PASSWORD"); password != "" {
		config.Notify.SMTPPassword = password
	}
	if useTLS := os.Getenv("VIGIL_SMTP_USE_TLS"); useTLS != "" {
		if t, err := strconv.ParseBool(useTLS); err == nil {
			config.Notify.SMTPUseTLS = t
		}
	}
	if useSSL := os.Getenv("VIGIL_SMTP_USE_SSL"); useSSL != "" {
		if s, err := strconv.ParseBool(useSSL); err == nil {
			config.Notify.SMTPUseSSL = s
		}
	}

	if dashboardURL := os.Getenv("VIGIL_DASHBOARD_URL"); dashboardURL != "" {
		config.Report.DashboardURL = dashboardURL
	}

	if level := os.Getenv("VIGIL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("VIGIL_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitAndTrim(output)
	}

	if minLevel := os.Getenv("VIGIL_WS_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
}

// splitAndTrim splits a comma-joined env value into a clean list.
func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
