// Package config holds the supervisor configuration: worker launch
// parameters, escalation policy knobs, telemetry cadence, storage
// selection, and optional metrics/triage settings.
//
// Precedence: defaults < config file < environment < CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "15m". Bare integers are treated as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in time.Duration notation
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML renders the duration as a "5s" style string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts "5s" style strings and bare integer seconds
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
	return nil
}

// WorkerConfig describes the supervised worker process
type WorkerConfig struct {
	// SourceDir is the worker source directory to validate and launch from
	// Default: "./worker"
	SourceDir string `yaml:"source_dir"`

	// ManifestFile must exist inside SourceDir for the worker to be runnable
	// Default: "package.json"
	ManifestFile string `yaml:"manifest_file"`

	// EntryFile is the script handed to the runtime command
	// Default: "index.js"
	EntryFile string `yaml:"entry_file"`

	// Command is the runtime binary that executes the entry file
	// Default: "node"
	Command string `yaml:"command"`

	// Args are extra arguments appended after the entry file
	Args []string `yaml:"args"`

	// RuntimeMinVersion is the minimum runtime version doctor accepts
	// Default: "v18.0.0"
	RuntimeMinVersion string `yaml:"runtime_min_version"`

	// AutoRestart controls crash-driven restarts with backoff
	// Default: true
	AutoRestart bool `yaml:"auto_restart"`

	// StopTimeout is how long a graceful stop waits before force-kill
	// Default: 5s
	StopTimeout Duration `yaml:"stop_timeout"`

	// SettleDelay is the pause between stop and start during a manual restart
	// Default: 1s
	SettleDelay Duration `yaml:"settle_delay"`

	// BackoffBase is the first crash-restart delay
	// Default: 2s
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffMax caps the crash-restart delay ladder
	// Default: 32s
	BackoffMax Duration `yaml:"backoff_max"`
}

// DispatchConfig holds escalation policy knobs
type DispatchConfig struct {
	// ErrorThreshold is the consecutive-error count that releases
	// dispatch_after_threshold escalations
	// Default: 3
	ErrorThreshold int `yaml:"error_threshold"`

	// DedupWindow suppresses repeat escalations of the same pattern
	// Default: 5m
	DedupWindow Duration `yaml:"dedup_window"`

	// DedupRetention is how long dispatch history is kept for pruning
	// Default: 30m
	DedupRetention Duration `yaml:"dedup_retention"`

	// RatePerSecond limits executor calls; 0 disables limiting
	// Default: 0
	RatePerSecond float64 `yaml:"rate_per_second"`

	// RateBurst is the limiter burst size when limiting is enabled
	// Default: 1
	RateBurst int `yaml:"rate_burst"`
}

// TelemetryConfig holds snapshot cadence and retention
type TelemetryConfig struct {
	// Interval between telemetry ticks (one also fires on start)
	// Default: 15m
	Interval Duration `yaml:"interval"`

	// HeartbeatMax caps the heartbeat ring; oldest entries drop first
	// Default: 96
	HeartbeatMax int `yaml:"heartbeat_max"`

	// StatsInterval drives the periodic stats log emission
	// Default: 60s
	StatsInterval Duration `yaml:"stats_interval"`

	// FeedFile is where promoted reports are appended, relative to the
	// data dir unless absolute
	// Default: "feed.jsonl"
	FeedFile string `yaml:"feed_file"`
}

// StorageConfig selects and locates the backing stores
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "memory"
	// Default: "file"
	Backend string `yaml:"backend"`

	// DataDir holds the stores, the feed, and the sqlite database
	// Default: ".pitboss"
	DataDir string `yaml:"data_dir"`
}

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	// Enabled turns the /metrics HTTP listener on
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the metrics server
	// Default: ":9090"
	Addr string `yaml:"addr"`
}

// TriageConfig controls the optional AI annotation of proposals
type TriageConfig struct {
	// Enabled turns annotation on; also requires ANTHROPIC_API_KEY
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Model overrides the annotation model
	Model string `yaml:"model"`
}

// Config is the complete supervisor configuration
type Config struct {
	Worker    WorkerConfig    `yaml:"worker"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Triage    TriageConfig    `yaml:"triage"`

	// Integrations maps an integration name to the literal tag substrings
	// that identify its log lines
	// Default: notion → ["[Notion]"], claude → ["[Claude]", "[Anthropic]"]
	Integrations map[string][]string `yaml:"integrations"`
}

// DefaultConfig returns a configuration with the stock policy values:
// the 2s..32s restart ladder, threshold-3 escalation, 5m dedup, 15m
// telemetry with a 96-entry heartbeat ring, and file-backed storage.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			SourceDir:         "./worker",
			ManifestFile:      "package.json",
			EntryFile:         "index.js",
			Command:           "node",
			RuntimeMinVersion: "v18.0.0",
			AutoRestart:       true,
			StopTimeout:       Duration(5 * time.Second),
			SettleDelay:       Duration(1 * time.Second),
			BackoffBase:       Duration(2 * time.Second),
			BackoffMax:        Duration(32 * time.Second),
		},
		Dispatch: DispatchConfig{
			ErrorThreshold: 3,
			DedupWindow:    Duration(5 * time.Minute),
			DedupRetention: Duration(30 * time.Minute),
			RatePerSecond:  0,
			RateBurst:      1,
		},
		Telemetry: TelemetryConfig{
			Interval:      Duration(15 * time.Minute),
			HeartbeatMax:  96,
			StatsInterval: Duration(60 * time.Second),
			FeedFile:      "feed.jsonl",
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: ".pitboss",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Triage: TriageConfig{
			Enabled: false,
		},
		Integrations: map[string][]string{
			"notion": {"[Notion]"},
			"claude": {"[Claude]", "[Anthropic]"},
		},
	}
}

// LoadFromFile loads configuration from a YAML file layered over the
// defaults. Returns defaults if the file doesn't exist; returns an error
// if it exists but is invalid.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load builds the effective configuration: defaults, then the file at
// path, then PITBOSS_* environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays PITBOSS_* environment variables onto the config
func (c *Config) ApplyEnv() {
	if val := os.Getenv("PITBOSS_WORKER_SOURCE_DIR"); val != "" {
		c.Worker.SourceDir = val
	}
	if val := os.Getenv("PITBOSS_WORKER_COMMAND"); val != "" {
		c.Worker.Command = val
	}
	if val := os.Getenv("PITBOSS_WORKER_ENTRY"); val != "" {
		c.Worker.EntryFile = val
	}
	if val := os.Getenv("PITBOSS_WORKER_AUTO_RESTART"); val != "" {
		c.Worker.AutoRestart = parseBool(val)
	}
	if val := os.Getenv("PITBOSS_WORKER_STOP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Worker.StopTimeout = Duration(d)
		}
	}

	if val := os.Getenv("PITBOSS_ERROR_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Dispatch.ErrorThreshold = n
		}
	}
	if val := os.Getenv("PITBOSS_DEDUP_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Dispatch.DedupWindow = Duration(d)
		}
	}
	if val := os.Getenv("PITBOSS_DISPATCH_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil && rate >= 0 {
			c.Dispatch.RatePerSecond = rate
		}
	}

	if val := os.Getenv("PITBOSS_TELEMETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Telemetry.Interval = Duration(d)
		}
	}
	if val := os.Getenv("PITBOSS_HEARTBEAT_MAX"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Telemetry.HeartbeatMax = n
		}
	}

	if val := os.Getenv("PITBOSS_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("PITBOSS_DATA_DIR"); val != "" {
		c.Storage.DataDir = val
	}

	if val := os.Getenv("PITBOSS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = parseBool(val)
	}
	if val := os.Getenv("PITBOSS_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}

	if val := os.Getenv("PITBOSS_TRIAGE_ENABLED"); val != "" {
		c.Triage.Enabled = parseBool(val)
	}
	if val := os.Getenv("PITBOSS_TRIAGE_MODEL"); val != "" {
		c.Triage.Model = val
	}
}

// parseBool parses a boolean string with a default value of true
func parseBool(val string) bool {
	switch val {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	if c.Worker.SourceDir == "" {
		return fmt.Errorf("worker source_dir is required")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker command is required")
	}
	if c.Worker.EntryFile == "" {
		return fmt.Errorf("worker entry_file is required")
	}
	if c.Worker.StopTimeout.Std() <= 0 {
		return fmt.Errorf("worker stop_timeout must be positive, got %v", c.Worker.StopTimeout)
	}
	if c.Worker.BackoffBase.Std() <= 0 {
		return fmt.Errorf("worker backoff_base must be positive, got %v", c.Worker.BackoffBase)
	}
	if c.Worker.BackoffMax.Std() < c.Worker.BackoffBase.Std() {
		return fmt.Errorf("worker backoff_max (%v) must be >= backoff_base (%v)", c.Worker.BackoffMax, c.Worker.BackoffBase)
	}

	if c.Dispatch.ErrorThreshold <= 0 {
		return fmt.Errorf("dispatch error_threshold must be positive, got %d", c.Dispatch.ErrorThreshold)
	}
	if c.Dispatch.DedupWindow.Std() <= 0 {
		return fmt.Errorf("dispatch dedup_window must be positive, got %v", c.Dispatch.DedupWindow)
	}
	if c.Dispatch.DedupRetention.Std() < c.Dispatch.DedupWindow.Std() {
		return fmt.Errorf("dispatch dedup_retention (%v) must be >= dedup_window (%v)", c.Dispatch.DedupRetention, c.Dispatch.DedupWindow)
	}
	if c.Dispatch.RatePerSecond < 0 {
		return fmt.Errorf("dispatch rate_per_second must be non-negative, got %f", c.Dispatch.RatePerSecond)
	}
	if c.Dispatch.RateBurst <= 0 {
		return fmt.Errorf("dispatch rate_burst must be positive, got %d", c.Dispatch.RateBurst)
	}

	if c.Telemetry.Interval.Std() <= 0 {
		return fmt.Errorf("telemetry interval must be positive, got %v", c.Telemetry.Interval)
	}
	if c.Telemetry.HeartbeatMax <= 0 {
		return fmt.Errorf("telemetry heartbeat_max must be positive, got %d", c.Telemetry.HeartbeatMax)
	}
	if c.Telemetry.HeartbeatMax > 100000 {
		return fmt.Errorf("telemetry heartbeat_max too large (maximum 100000), got %d", c.Telemetry.HeartbeatMax)
	}
	if c.Telemetry.StatsInterval.Std() <= 0 {
		return fmt.Errorf("telemetry stats_interval must be positive, got %v", c.Telemetry.StatsInterval)
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file, sqlite, or memory)", c.Storage.Backend)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	clone.Worker.Args = append([]string(nil), c.Worker.Args...)
	if c.Integrations != nil {
		clone.Integrations = make(map[string][]string, len(c.Integrations))
		for name, tags := range c.Integrations {
			clone.Integrations[name] = append([]string(nil), tags...)
		}
	}
	return &clone
}

// FeedPath resolves the telemetry feed file against the data dir.
// Absolute feed paths are used verbatim.
func (c *Config) FeedPath() string {
	if filepath.IsAbs(c.Telemetry.FeedFile) {
		return c.Telemetry.FeedFile
	}
	return filepath.Join(c.Storage.DataDir, c.Telemetry.FeedFile)
}
