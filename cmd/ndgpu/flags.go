package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/born-ml/ndgpu/internal/config"
	"github.com/born-ml/ndgpu/internal/engine"
	"github.com/born-ml/ndgpu/internal/logger"
)

var (
	configPath string
	backend    string
	logLevel   string
	logFormat  string
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a YAML config file",
			Value:       "ndgpu.yaml",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, wgpu, cpu)",
			Destination: &backend,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (text, json)",
			Destination: &logFormat,
		},
	}
}

// loadConfig layers the config file, NDGPU_* variables and flags.
func loadConfig(log logger.Logger) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(log)
	if backend != "" {
		cfg.Backend = backend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, cfg.Validate()
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(logger.Discard())
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: config: %v", err), 1)
	}
	log := logger.ForFormat(os.Stderr, cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))
	return logger.WithContext(ctx, log), nil
}

func openEngine(ctx context.Context) (*engine.Engine, error) {
	log := logger.FromContext(ctx)
	cfg, err := loadConfig(log)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: config: %v", err), 1)
	}
	e, err := engine.Open(ctx, cfg, log)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: open engine: %v", err), 1)
	}
	return e, nil
}
