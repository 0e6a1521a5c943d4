package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Client.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.HTTP.Timeout.Std())
	assert.Equal(t, "unix:/tmp/sqlviewer.sock", cfg.Server.Listen)
	assert.Zero(t, cfg.Client.RequestTimeout)
	assert.Equal(t, int64(1<<30), cfg.Worker.MaxDatabaseSize)
	assert.False(t, cfg.Server.AllowLocalFiles)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
worker:
  scratch_dir: /var/tmp/sqlviewer
  max_database_size: -1
server:
  listen: tcp:127.0.0.1:7070
  allow_local_files: true
  metrics_listen: ":9090"
client:
  request_timeout: 30s
  batch_size: 100
s3:
  region: eu-west-1
  endpoint: http://localhost:9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/tmp/sqlviewer", cfg.Worker.ScratchDir)
	assert.Equal(t, 100*time.Millisecond, cfg.Worker.ProgressInterval.Std(), "unset keys keep their defaults")
	assert.Equal(t, int64(-1), cfg.Worker.MaxDatabaseSize)
	assert.Equal(t, "tcp:127.0.0.1:7070", cfg.Server.Listen)
	assert.True(t, cfg.Server.AllowLocalFiles)
	assert.Equal(t, ":9090", cfg.Server.MetricsListen)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout.Std())
	assert.Equal(t, 100, cfg.Client.BatchSize)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Client, cfg.Client)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "client:\n  batch: 5\n",
		"bad duration":   "client:\n  request_timeout: soon\n",
		"numeric dur":    "http:\n  timeout: 30\n",
		"bad level":      "log:\n  level: loud\n",
		"bad format":     "log:\n  format: xml\n",
		"zero batch":     "client:\n  batch_size: 0\n",
		"negative delay": "client:\n  request_timeout: -1s\n",
		"zero max size":  "worker:\n  max_database_size: 0\n",
		"bad max size":   "worker:\n  max_database_size: -2\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvS3AccessKey, "AKIDEXAMPLE")
	t.Setenv(EnvS3SecretKey, "secret")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(writeConfig(t, "s3:\n  access_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", cfg.S3.AccessKey)
	assert.Equal(t, "secret", cfg.S3.SecretKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "client:\n  batch_size: 100\n  request_timeout: 30s\nserver:\n  listen: /tmp/file.sock\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("href", "", "")
	Defaults().BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--batch", "7", "--href", "https://example.com/x.db", "--max-database-size", "4096", "--allow-local-files"}))

	cfg, err := Resolve(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Client.BatchSize, "flag wins over file")
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout.Std(), "file wins over default")
	assert.Equal(t, "/tmp/file.sock", cfg.Server.Listen)
	assert.Equal(t, int64(4096), cfg.Worker.MaxDatabaseSize)
	assert.True(t, cfg.Server.AllowLocalFiles)
}

func TestResolveRejectsInvalidFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Defaults().BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--batch", "0"}))

	_, err := Resolve("", fs)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"key":"value"`)

	_, err = NewLogger(LogConfig{Level: "nope"}, &buf)
	assert.Error(t, err)
}

func TestDurationMarshalsAsString(t *testing.T) {
	out, err := yaml.Marshal(ClientConfig{RequestTimeout: Duration(90 * time.Second), BatchSize: 60})
	require.NoError(t, err)
	assert.Contains(t, string(out), "request_timeout: 1m30s")
}
