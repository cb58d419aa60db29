package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ndgpu/internal/config"
	"github.com/born-ml/ndgpu/internal/device/cpu"
	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/logger"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(cpu.New(), logger.Discard())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ndgpu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: wgpu\nlog_level: debug\nworkers: 3\n"), 0o600))

	configPath, backend, logLevel, logFormat = path, "", "", ""
	t.Cleanup(func() { configPath, backend, logLevel, logFormat = "", "", "", "" })
	t.Setenv(config.EnvLogLevel, "warn")

	cfg, err := loadConfig(logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, config.BackendWGPU, cfg.Backend)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)

	backend = config.BackendCPU
	cfg, err = loadConfig(logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, config.BackendCPU, cfg.Backend)

	backend = "tpu"
	_, err = loadConfig(logger.Discard())
	require.Error(t, err)
}

func TestRunDemo(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, runDemo(context.Background(), e, 1))
	assert.Positive(t, e.Stats().Programs)
}

func TestRunBench(t *testing.T) {
	e := newTestEngine(t)
	res, err := runBench(context.Background(), e, 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.iters)
	assert.Positive(t, res.total)
	assert.Positive(t, res.throughput())
	assert.Equal(t, 1, e.Stats().Programs)
}
