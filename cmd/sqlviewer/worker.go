package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tomyedwab/sqlviewer/config"
	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/host"
	"github.com/tomyedwab/sqlviewer/sqlproxy/source"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
)

const workerUsage = `Usage: sqlviewer worker [options]

Description:
  Serve the worker protocol as newline-delimited JSON on stdin and stdout.
  Logs go to stderr. The worker exits when stdin is closed.
  Client commands start this automatically; it is rarely run by hand.
`

// stdio joins stdin and stdout into one stream.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return os.Stdin.Close()
}

func (a *app) runWorker(ctx context.Context, args []string) int {
	cmd := a.newCommand("worker", workerUsage)
	cfg, logger, code, ok := a.parse(cmd, args)
	if !ok {
		return code
	}

	eng, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create engine", "error", err)
		return ExitConfig
	}
	defer eng.Close()

	worker := host.NewWorker(host.Config{
		Engine: eng,
		Source: newFetcher(cfg, logger),
		Logger: logger,
	})
	defer worker.Close()

	stream := transport.NewStream(stdio{Reader: os.Stdin, Writer: os.Stdout}, logger)
	defer stream.Close()

	if err := worker.Serve(ctx, stream); err != nil && ctx.Err() == nil {
		logger.Error("Worker failed", "error", err)
		return ExitWorker
	}
	return ExitOK
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*engine.SQLite, error) {
	eng, err := engine.NewSQLite(engine.SQLiteConfig{
		ScratchDir: cfg.Worker.ScratchDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scratch directory: %w", err)
	}
	return eng, nil
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *source.Fetcher {
	return source.NewFetcher(fetcherConfig(cfg, logger))
}

func fetcherConfig(cfg *config.Config, logger *slog.Logger) source.Config {
	return source.Config{
		HTTPTimeout:      cfg.HTTP.Timeout.Std(),
		ProgressInterval: cfg.Worker.ProgressInterval.Std(),
		MaxSize:          cfg.Worker.MaxDatabaseSize,
		S3: source.S3Config{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
		Logger: logger,
	}
}
