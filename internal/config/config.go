package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable consulted when no --config flag is given.
const ConfigPathEnv = "AUTOCOMMITOR_CONFIG"

const defaultConfigPath = "config.yaml"

// Scheduler pacing modes.
const (
	// ModePaced spreads additional commits randomly across the window.
	ModePaced = "paced"
	// ModeEager commits on every in-window tick until the quota is reached.
	ModeEager = "eager"
)

// AppConfig holds process-level inputs resolved before the config file is read.
type AppConfig struct {
	ConfigPath string
}

// Config is the file-backed configuration of the scheduler process.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	GitHub    GitHubConfig    `yaml:"github"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the operations API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerConfig configures the tick driver.
type SchedulerConfig struct {
	Interval       Duration `yaml:"interval"`
	Mode           string   `yaml:"mode"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	RequestTimeout Duration `yaml:"request_timeout"`
	LockTTL        Duration `yaml:"lock_ttl"`
}

// GitHubConfig configures the repository gateway.
type GitHubConfig struct {
	BaseURL           string  `yaml:"base_url"`
	UserAgent         string  `yaml:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Attribution       *string `yaml:"attribution"`
}

// RedisConfig enables distributed per-rule locks when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SecurityConfig holds secrets for admin tokens and sealed credentials.
type SecurityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenKey  string `yaml:"token_key"`
}

// LoggingConfig configures logrus output and rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RetentionConfig configures the attempt record cleaner.
type RetentionConfig struct {
	AttemptDays       int      `yaml:"attempt_days"`
	StalePendingAfter Duration `yaml:"stale_pending_after"`
	Interval          Duration `yaml:"interval"`
}

// DefaultAttribution is appended to upstream commit messages unless overridden.
const DefaultAttribution = "Auto-committed via https://autocommitor.netlify.app"

// Default returns a Config with every field set to its default.
func Default() Config {
	attribution := DefaultAttribution
	return Config{
		Database: DatabaseConfig{DSN: "file:data/autocommitor.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Scheduler: SchedulerConfig{
			Interval:       Duration(time.Minute),
			Mode:           ModePaced,
			MaxConcurrency: 5,
			RequestTimeout: Duration(20 * time.Second),
			LockTTL:        Duration(5 * time.Minute),
		},
		GitHub: GitHubConfig{
			BaseURL:           "https://api.github.com",
			UserAgent:         "autocommitor-scheduler",
			RequestsPerSecond: 5,
			Burst:             5,
			Attribution:       &attribution,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Retention: RetentionConfig{
			StalePendingAfter: Duration(30 * time.Minute),
			Interval:          Duration(time.Hour),
		},
	}
}

// ResolveConfigPath picks the explicit path, then the environment, then the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(ConfigPathEnv)); env != "" {
		return env
	}
	return defaultConfigPath
}

// Load reads the YAML file at path on top of Default. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields explicitly zeroed in the file.
func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = def.Database.DSN
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = def.Scheduler.Interval
	}
	c.Scheduler.Mode = strings.ToLower(strings.TrimSpace(c.Scheduler.Mode))
	if c.Scheduler.Mode == "" {
		c.Scheduler.Mode = def.Scheduler.Mode
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		c.Scheduler.MaxConcurrency = def.Scheduler.MaxConcurrency
	}
	if c.Scheduler.RequestTimeout <= 0 {
		c.Scheduler.RequestTimeout = def.Scheduler.RequestTimeout
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = def.Scheduler.LockTTL
	}
	if strings.TrimSpace(c.GitHub.BaseURL) == "" {
		c.GitHub.BaseURL = def.GitHub.BaseURL
	}
	c.GitHub.BaseURL = strings.TrimRight(c.GitHub.BaseURL, "/")
	if strings.TrimSpace(c.GitHub.UserAgent) == "" {
		c.GitHub.UserAgent = def.GitHub.UserAgent
	}
	if c.GitHub.RequestsPerSecond <= 0 {
		c.GitHub.RequestsPerSecond = def.GitHub.RequestsPerSecond
	}
	if c.GitHub.Burst <= 0 {
		c.GitHub.Burst = def.GitHub.Burst
	}
	if c.GitHub.Attribution == nil {
		c.GitHub.Attribution = def.GitHub.Attribution
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Retention.StalePendingAfter <= 0 {
		c.Retention.StalePendingAfter = def.Retention.StalePendingAfter
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = def.Retention.Interval
	}
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Scheduler.Mode != ModePaced && c.Scheduler.Mode != ModeEager {
		return fmt.Errorf("config: unknown scheduler mode %q", c.Scheduler.Mode)
	}
	if time.Duration(c.Scheduler.Interval) < time.Second {
		return fmt.Errorf("config: scheduler interval %s is below 1s", time.Duration(c.Scheduler.Interval))
	}
	// One execution holds the rule lock across a read and a write, each bounded by request_timeout.
	lockTTL := time.Duration(c.Scheduler.LockTTL)
	if requestTimeout := time.Duration(c.Scheduler.RequestTimeout); lockTTL <= 2*requestTimeout {
		return fmt.Errorf("config: scheduler lock_ttl %s must exceed twice request_timeout %s", lockTTL, requestTimeout)
	}
	if stale := time.Duration(c.Retention.StalePendingAfter); stale <= lockTTL {
		return fmt.Errorf("config: retention stale_pending_after %s must exceed scheduler lock_ttl %s", stale, lockTTL)
	}
	if c.Retention.AttemptDays < 0 {
		return fmt.Errorf("config: retention attempt_days must not be negative")
	}
	return nil
}

// AttributionLine returns the configured attribution line, possibly empty.
func (g GitHubConfig) AttributionLine() string {
	if g.Attribution == nil {
		return ""
	}
	return strings.TrimSpace(*g.Attribution)
}

// Duration is a time.Duration that unmarshals from Go duration strings.
type Duration time.Duration

// UnmarshalYAML parses "90s", "1m" or a bare integer of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, errParse := time.ParseDuration(raw)
	if errParse != nil {
		var seconds int
		if errDecode := value.Decode(&seconds); errDecode != nil {
			return fmt.Errorf("config: invalid duration %q", raw)
		}
		parsed = time.Duration(seconds) * time.Second
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
