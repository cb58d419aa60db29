package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/internal/logger"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndgpu.yaml")
	data := []byte("backend: cpu\nworkers: 3\nenable_f16: false\nmap_timeout: 5s\nlog_format: json\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Backend = BackendCPU
	want.Workers = 3
	want.EnableF16 = false
	want.MapTimeout = 5 * time.Second
	want.LogFormat = "json"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1, 2"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvBackend, "CPU")
	t.Setenv(EnvPower, "low-power")
	t.Setenv(EnvF16, "false")
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvMapTimeout, "250ms")
	t.Setenv(EnvLogLevel, "debug")

	cfg := Default()
	cfg.ApplyEnv(logger.Discard())

	assert.Equal(t, BackendCPU, cfg.Backend)
	assert.Equal(t, PowerLow, cfg.PowerPreference)
	assert.False(t, cfg.EnableF16)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.MapTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvInvalidValuesIgnored(t *testing.T) {
	t.Setenv(EnvWorkers, "many")
	t.Setenv(EnvF16, "maybe")
	t.Setenv(EnvMapTimeout, "soon")

	var buf bytes.Buffer
	cfg := Default()
	cfg.ApplyEnv(logger.Text(&buf, slog.LevelWarn))

	assert.Equal(t, Default(), cfg)
	assert.Contains(t, buf.String(), EnvWorkers)
	assert.Contains(t, buf.String(), EnvF16)
	assert.Contains(t, buf.String(), EnvMapTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Backend = "metal" }},
		{"power", func(c *Config) { c.PowerPreference = "max" }},
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"format", func(c *Config) { c.LogFormat = "xml" }},
		{"timeout", func(c *Config) { c.MapTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
