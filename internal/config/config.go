package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRedactText    = "[REDACTED: Secret Key Detected]"
	DefaultQueueFileName = "sentinel_telemetry_queue.jsonl"

	// MaxAgeDaysLimit keeps the retention window well inside time.Duration.
	MaxAgeDaysLimit = 36500
)

type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Policy    PolicyConfig    `yaml:"policy"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Collector CollectorConfig `yaml:"collector"`
}

// AgentConfig configures the clipboard poll loop.
type AgentConfig struct {
	// Interval between clipboard reads, e.g. "200ms".
	Interval string `yaml:"interval"`

	// DryRun detects and records but never rewrites the clipboard.
	DryRun bool `yaml:"dry_run"`

	// RedactText replaces clipboard contents when a secret is redacted.
	RedactText string `yaml:"redact_text"`

	// LockFile guards against two agents sharing one queue file. Defaults
	// to the queue file path with a ".lock" suffix.
	LockFile string `yaml:"lock_file"`
}

// PolicyConfig holds the application filters. Entries are trimmed and
// empty entries dropped on load.
type PolicyConfig struct {
	Denylist  []string `yaml:"denylist"`
	Allowlist []string `yaml:"allowlist"`
}

// ScannerConfig adds patterns after the built-in detectors.
type ScannerConfig struct {
	Patterns []PatternRule `yaml:"patterns"`
}

// PatternRule is a user-defined secret detector.
type PatternRule struct {
	Kind        string `yaml:"kind"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`

	QueueFile    string `yaml:"queue_file"`
	MaxQueueSize string `yaml:"max_queue_size"`
	MaxAgeDays   int    `yaml:"max_age_days"`

	FlushInterval string `yaml:"flush_interval"`
	Timeout       string `yaml:"timeout"`

	OTEL OTELConfig `yaml:"otel"`
}

// OTELConfig mirrors queued events to an OTLP log endpoint.
type OTELConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Protocol string            `yaml:"protocol"` // http or grpc
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, text, json
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. "127.0.0.1:9464".
	Addr string `yaml:"addr"`
}

// CollectorConfig configures the development collector.
type CollectorConfig struct {
	Addr   string `yaml:"addr"`
	Output string `yaml:"output"`

	// APIKeyHashes are hex SHA-256 digests of accepted bearer tokens.
	// Empty disables authentication.
	APIKeyHashes []string `yaml:"api_key_hashes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	finalizeDefaults(&cfg)
	return &cfg
}

// Load reads path, applies defaults and environment overrides and validates
// the result. An empty path yields Default with environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	finalizeDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	finalizeDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Interval == "" {
		cfg.Agent.Interval = "200ms"
	}
	if cfg.Agent.RedactText == "" {
		cfg.Agent.RedactText = DefaultRedactText
	}
	cfg.Policy.Denylist = NormalizeList(cfg.Policy.Denylist)
	cfg.Policy.Allowlist = NormalizeList(cfg.Policy.Allowlist)

	if cfg.Telemetry.QueueFile == "" {
		cfg.Telemetry.QueueFile = filepath.Join(os.TempDir(), DefaultQueueFileName)
	}
	if cfg.Telemetry.MaxQueueSize == "" {
		cfg.Telemetry.MaxQueueSize = "1MB"
	}
	if cfg.Telemetry.MaxAgeDays == 0 {
		cfg.Telemetry.MaxAgeDays = 30
	}
	if cfg.Telemetry.FlushInterval == "" {
		cfg.Telemetry.FlushInterval = "60s"
	}
	if cfg.Telemetry.Timeout == "" {
		cfg.Telemetry.Timeout = "30s"
	}
	if cfg.Telemetry.OTEL.Protocol == "" {
		cfg.Telemetry.OTEL.Protocol = "http"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Collector.Addr == "" {
		cfg.Collector.Addr = "127.0.0.1:8787"
	}
}

// finalizeDefaults fills values derived from other fields. It runs after
// environment overrides so that derived paths follow the final queue file.
func finalizeDefaults(cfg *Config) {
	if cfg.Agent.LockFile == "" {
		cfg.Agent.LockFile = cfg.Telemetry.QueueFile + ".lock"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_TELEMETRY_URL"); v != "" {
		cfg.Telemetry.URL = v
	}
	if v := os.Getenv("SENTINEL_TELEMETRY_API_KEY"); v != "" {
		cfg.Telemetry.APIKey = v
	}
	if v := os.Getenv("SENTINEL_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
	if v := os.Getenv("SENTINEL_QUEUE_FILE"); v != "" {
		cfg.Telemetry.QueueFile = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.Agent.IntervalDuration(); err != nil {
		return err
	}
	if _, err := cfg.Telemetry.MaxQueueBytes(); err != nil {
		return err
	}
	if cfg.Telemetry.MaxAgeDays < 0 || cfg.Telemetry.MaxAgeDays > MaxAgeDaysLimit {
		return fmt.Errorf("telemetry.max_age_days must be between 0 and %d", MaxAgeDaysLimit)
	}
	if _, err := cfg.Telemetry.FlushIntervalDuration(); err != nil {
		return err
	}
	if _, err := cfg.Telemetry.TimeoutDuration(); err != nil {
		return err
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.URL != "" {
		if !strings.HasPrefix(cfg.Telemetry.URL, "http://") && !strings.HasPrefix(cfg.Telemetry.URL, "https://") {
			return fmt.Errorf("invalid telemetry.url %q: must be http(s)", cfg.Telemetry.URL)
		}
	}
	switch cfg.Telemetry.OTEL.Protocol {
	case "http", "grpc":
	default:
		return fmt.Errorf("invalid telemetry.otel.protocol %q", cfg.Telemetry.OTEL.Protocol)
	}
	if cfg.Telemetry.OTEL.Enabled && cfg.Telemetry.OTEL.Endpoint == "" {
		return fmt.Errorf("telemetry.otel.endpoint is required when otel is enabled")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	for i, p := range cfg.Scanner.Patterns {
		if strings.TrimSpace(p.Kind) == "" {
			return fmt.Errorf("scanner.patterns[%d]: kind is required", i)
		}
		if p.Pattern == "" {
			return fmt.Errorf("scanner.patterns[%d]: pattern is required", i)
		}
	}
	return nil
}

// NormalizeList trims entries and drops empty ones. An empty entry would
// match every application name.
func NormalizeList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (a AgentConfig) IntervalDuration() (time.Duration, error) {
	d, err := parsePositiveDuration("agent.interval", a.Interval)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// MaxQueueBytes is the size above which the queue file is rotated.
func (t TelemetryConfig) MaxQueueBytes() (int64, error) {
	n, err := ParseByteSize(t.MaxQueueSize)
	if err != nil {
		return 0, fmt.Errorf("telemetry.max_queue_size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("telemetry.max_queue_size must be > 0")
	}
	return n, nil
}

// MaxAge is the retention window for queued events.
func (t TelemetryConfig) MaxAge() time.Duration {
	return time.Duration(t.MaxAgeDays) * 24 * time.Hour
}

func (t TelemetryConfig) FlushIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("telemetry.flush_interval", t.FlushInterval)
}

// TimeoutDuration is the HTTP timeout for one flush. Zero leaves the
// transport default in place.
func (t TelemetryConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(t.Timeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid telemetry.timeout %q", t.Timeout)
	}
	return d, nil
}

func parsePositiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", field, s)
	}
	return d, nil
}
