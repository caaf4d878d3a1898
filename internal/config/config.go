package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/pkg/bind"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "scopebind.json"

	// DefaultAddr is the default hub listen address.
	DefaultAddr = ":7070"

	// DefaultSendQueue is the default per-connection send queue length.
	DefaultSendQueue = 256

	// DefaultMaxMessageSize is the default websocket read limit in bytes.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultNamespace is the default metrics namespace.
	DefaultNamespace = "scopebind"
)

// Config represents the complete scopebind.json configuration.
type Config struct {
	Server   ServerConfig   `json:"server" toml:"server"`
	Binder   BinderConfig   `json:"binder" toml:"binder"`
	Log      LogConfig      `json:"log" toml:"log"`
	Metrics  MetricsConfig  `json:"metrics" toml:"metrics"`
	Tracing  TracingConfig  `json:"tracing" toml:"tracing"`
	Snapshot SnapshotConfig `json:"snapshot" toml:"snapshot"`

	configPath string
}

// ServerConfig contains hub server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" toml:"addr"`

	// ReadTimeout is the HTTP read timeout (e.g., "10s").
	ReadTimeout string `json:"readTimeout,omitempty" toml:"read_timeout"`

	// WriteTimeout is the per-message websocket write deadline.
	WriteTimeout string `json:"writeTimeout,omitempty" toml:"write_timeout"`

	// MaxMessageSize is the websocket read limit in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" toml:"max_message_size"`

	// SendQueue is the per-connection outbound queue length.
	SendQueue int `json:"sendQueue,omitempty" toml:"send_queue"`
}

// BinderConfig contains binder settings.
type BinderConfig struct {
	// DestroyedSource is "ignore" or "reject".
	DestroyedSource string `json:"destroyedSource,omitempty" toml:"destroyed_source"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" toml:"level"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" toml:"format"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Namespace string `json:"namespace,omitempty" toml:"namespace"`
	Path      string `json:"path,omitempty" toml:"path"`

	// EventLabels adds the event name as a metric label. Only enable it
	// when clients cannot pick arbitrary event names.
	EventLabels bool `json:"eventLabels,omitempty" toml:"event_labels"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `json:"enabled" toml:"enabled"`
	TracerName string `json:"tracerName,omitempty" toml:"tracer_name"`
}

// SnapshotConfig selects where tree snapshots are written.
// S3 takes precedence when a bucket is set.
type SnapshotConfig struct {
	Dir string   `json:"dir,omitempty" toml:"dir"`
	S3  S3Config `json:"s3" toml:"s3"`
}

// S3Config contains S3 snapshot sink settings.
type S3Config struct {
	Bucket   string `json:"bucket,omitempty" toml:"bucket"`
	Prefix   string `json:"prefix,omitempty" toml:"prefix"`
	Region   string `json:"region,omitempty" toml:"region"`
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	c.applyDefaults()
	return c
}

// Load reads scopebind.json from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadOptional is like LoadFile but returns defaults when path does not exist.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path. Files ending in
// .toml are decoded as TOML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			se := errors.New("E101").WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
			if perr, ok := err.(toml.ParseError); ok {
				se.WithLocation(path, perr.Position.Line, perr.Position.Col)
			}
			return nil, se
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E101").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration as indented JSON.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E103").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E103").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "10s"
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.SendQueue == 0 {
		c.Server.SendQueue = DefaultSendQueue
	}

	if c.Binder.DestroyedSource == "" {
		c.Binder.DestroyedSource = bind.IgnoreDestroyedSource.String()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = "github.com/vango-dev/scopebind"
	}

	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "snapshots"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	durations := []struct{ field, value string }{
		{"server.readTimeout", c.Server.ReadTimeout},
		{"server.writeTimeout", c.Server.WriteTimeout},
	}
	for _, f := range durations {
		if d, err := time.ParseDuration(f.value); err != nil || d < 0 {
			return errors.New("E102").
				WithDetailf("%s: %q is not a valid duration", f.field, f.value).
				WithSuggestion(`Use a Go duration such as "10s" or "500ms"`)
		}
	}
	if c.Server.MaxMessageSize < 0 {
		return errors.New("E102").WithDetail("server.maxMessageSize must not be negative")
	}
	if c.Server.SendQueue < 0 {
		return errors.New("E102").WithDetail("server.sendQueue must not be negative")
	}

	if _, ok := bind.ParseDestroyedSourcePolicy(c.Binder.DestroyedSource); !ok {
		return errors.New("E102").
			WithDetailf("binder.destroyedSource: %q", c.Binder.DestroyedSource).
			WithSuggestion(`Use "ignore" or "reject"`)
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		return errors.New("E102").
			WithDetailf("log.level: %q", c.Log.Level).
			WithSuggestion("Use one of: debug, info, warn, error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E102").
			WithDetailf("log.format: %q", c.Log.Format).
			WithSuggestion(`Use "text" or "json"`)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("E102").WithDetailf("metrics.path: %q must start with /", c.Metrics.Path)
	}

	return nil
}

// ReadTimeoutDuration returns the parsed server read timeout.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

// WriteTimeoutDuration returns the parsed websocket write deadline.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

// Policy returns the configured destroyed-source policy.
func (b BinderConfig) Policy() bind.DestroyedSourcePolicy {
	p, _ := bind.ParseDestroyedSourcePolicy(b.DestroyedSource)
	return p
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger builds a slog.Logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
