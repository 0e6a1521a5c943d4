// Package config loads sqlviewer settings from a YAML file and command-line
// flags.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// overrides for secrets, then flags the user set explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete sqlviewer configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Worker WorkerConfig `yaml:"worker"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	HTTP   HTTPConfig   `yaml:"http"`
	S3     S3Config     `yaml:"s3"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

type WorkerConfig struct {
	ScratchDir       string   `yaml:"scratch_dir"` // empty means a fresh temporary directory
	ProgressInterval Duration `yaml:"progress_interval"`
	MaxDatabaseSize  int64    `yaml:"max_database_size"` // bytes, -1 for no limit
}

type ServerConfig struct {
	Listen        string `yaml:"listen"`         // unix:/path, tcp:host:port, /path or host:port
	MetricsListen string `yaml:"metrics_listen"` // empty disables the metrics endpoint

	// AllowLocalFiles lets clients of a TCP listener open paths on the
	// server. Unix socket clients can always.
	AllowLocalFiles bool `yaml:"allow_local_files"`
}

type ClientConfig struct {
	RequestTimeout Duration `yaml:"request_timeout"` // zero means no timeout
	BatchSize      int      `yaml:"batch_size"`
}

type HTTPConfig struct {
	Timeout Duration `yaml:"timeout"`
}

type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Environment variables that override the file.
const (
	EnvS3AccessKey = "SQLVIEWER_S3_ACCESS_KEY"
	EnvS3SecretKey = "SQLVIEWER_S3_SECRET_KEY"
	EnvLogLevel    = "SQLVIEWER_LOG_LEVEL"
)

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Worker: WorkerConfig{
			ProgressInterval: Duration(100 * time.Millisecond),
			MaxDatabaseSize:  1 << 30,
		},
		Server: ServerConfig{
			Listen: "unix:/tmp/sqlviewer.sock",
		},
		Client: ClientConfig{
			BatchSize: 60,
		},
		HTTP: HTTPConfig{
			Timeout: Duration(5 * time.Minute),
		},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are an
// error. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads path and then re-applies every flag the user set on fs, so
// that flags take precedence over the file.
func Resolve(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	bound := pflag.NewFlagSet("config", pflag.ContinueOnError)
	cfg.BindFlags(bound)
	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if bound.Lookup(f.Name) == nil {
			return
		}
		if err := bound.Set(f.Name, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("flag --%s: %w", f.Name, err))
		}
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvS3AccessKey); v != "" {
		c.S3.AccessKey = v
	}
	if v := os.Getenv(EnvS3SecretKey); v != "" {
		c.S3.SecretKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// BindFlags registers flags that write into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level: debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "Log format: text or json")
	fs.StringVar(&c.Worker.ScratchDir, "scratch-dir", c.Worker.ScratchDir, "Directory for worker database files (default: a temporary directory)")
	fs.DurationVar((*time.Duration)(&c.Worker.ProgressInterval), "progress-interval", time.Duration(c.Worker.ProgressInterval), "Minimum time between download progress reports")
	fs.Int64Var(&c.Worker.MaxDatabaseSize, "max-database-size", c.Worker.MaxDatabaseSize, "Largest database in bytes a worker will load (-1 for no limit)")
	fs.StringVar(&c.Server.Listen, "listen", c.Server.Listen, "Worker socket address (unix:/path or tcp:host:port)")
	fs.StringVar(&c.Server.MetricsListen, "metrics-listen", c.Server.MetricsListen, "Address for the Prometheus /metrics endpoint")
	fs.BoolVar(&c.Server.AllowLocalFiles, "allow-local-files", c.Server.AllowLocalFiles, "Let TCP clients open files on the server")
	fs.DurationVar((*time.Duration)(&c.Client.RequestTimeout), "request-timeout", time.Duration(c.Client.RequestTimeout), "Timeout for each worker request (0 for none)")
	fs.IntVar(&c.Client.BatchSize, "batch", c.Client.BatchSize, "Rows fetched per step")
	fs.DurationVar((*time.Duration)(&c.HTTP.Timeout), "http-timeout", time.Duration(c.HTTP.Timeout), "Timeout for fetching databases over HTTP")
	fs.StringVar(&c.S3.Region, "s3-region", c.S3.Region, "AWS region for s3:// references")
	fs.StringVar(&c.S3.Endpoint, "s3-endpoint", c.S3.Endpoint, "Custom S3-compatible endpoint")
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if c.Client.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size %d: must be positive", c.Client.BatchSize)
	}
	if c.Worker.MaxDatabaseSize == 0 || c.Worker.MaxDatabaseSize < -1 {
		return fmt.Errorf("invalid max database size %d: must be positive or -1", c.Worker.MaxDatabaseSize)
	}
	if c.Client.RequestTimeout < 0 || c.HTTP.Timeout < 0 || c.Worker.ProgressInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// NewLogger builds a slog logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be text or json", cfg.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Duration is a time.Duration written as a string such as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
