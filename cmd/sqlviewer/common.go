package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/tomyedwab/sqlviewer/config"
	"github.com/tomyedwab/sqlviewer/sqlproxy/client"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// command is a subcommand's flag set with the shared configuration flags
// already registered.
type command struct {
	fs         *flag.FlagSet
	configPath string
}

func (a *app) newCommand(name, usage string) *command {
	c := &command{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(a.stderr)
	c.fs.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	config.Defaults().BindFlags(c.fs)
	c.fs.Usage = func() {
		fmt.Fprint(a.stderr, usage)
		fmt.Fprintln(a.stderr, "\nOptions:")
		c.fs.PrintDefaults()
	}
	return c
}

// parse parses args and resolves the configuration. When ok is false the
// command must return code.
func (a *app) parse(c *command, args []string) (cfg *config.Config, logger *slog.Logger, code int, ok bool) {
	if err := c.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, ExitOK, false
		}
		return nil, nil, ExitUsage, false
	}
	cfg, err := config.Resolve(c.configPath, c.fs)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return nil, nil, ExitConfig, false
	}
	logger, err = config.NewLogger(cfg.Log, a.stderr)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return nil, nil, ExitConfig, false
	}
	return cfg, logger, ExitOK, true
}

// databaseFlags select the database a client command works on and the
// worker it runs in.
type databaseFlags struct {
	href     string
	file     string
	connect  string
	progress bool
}

func (d *databaseFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&d.href, "href", "", "Open the database from an http(s), s3:// or file:// reference")
	fs.StringVarP(&d.file, "file", "f", "", "Open the database from a path readable by the worker")
	fs.StringVar(&d.connect, "connect", "", "Use the worker server at this address instead of spawning a worker")
	fs.BoolVar(&d.progress, "progress", false, "Report download progress on stderr")
}

// session is an open database in a running worker.
type session struct {
	client *client.Client
	db     *client.Database
}

func (s *session) Close() error {
	return s.client.Close()
}

// openSession starts or dials a worker and opens the selected database in it.
func (a *app) openSession(ctx context.Context, cfg *config.Config, configPath string, flags databaseFlags, logger *slog.Logger) (*session, error) {
	t, err := a.connectWorker(ctx, cfg, configPath, flags.connect, logger)
	if err != nil {
		return nil, client.NewTransportError("failed to reach worker", err)
	}

	c := client.New(t,
		client.WithLogger(logger),
		client.WithRequestTimeout(cfg.Client.RequestTimeout.Std()),
	)
	if err := c.Ready(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("worker did not start: %w", err)
	}

	desc := client.Descriptor{Href: flags.href, File: flags.file}
	if flags.progress {
		desc.Progress = func(p types.Progress) {
			if p.Total >= 0 {
				fmt.Fprintf(a.stderr, "Loaded %d of %d bytes\n", p.Loaded, p.Total)
			} else {
				fmt.Fprintf(a.stderr, "Loaded %d bytes\n", p.Loaded)
			}
		}
	}
	db, err := c.Open(ctx, desc)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &session{client: c, db: db}, nil
}

func (a *app) connectWorker(ctx context.Context, cfg *config.Config, configPath, connect string, logger *slog.Logger) (transport.Transport, error) {
	if connect != "" {
		network, address, err := transport.ParseAddress(connect)
		if err != nil {
			return nil, err
		}
		stream, err := transport.Dial(ctx, network, address, logger)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	cmd := exec.Command(a.self, workerArgs(cfg, configPath)...)
	proc, err := transport.Spawn(cmd, logger)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// workerArgs forwards the settings a spawned worker needs. S3 credentials
// reach it through the config file or the inherited environment.
func workerArgs(cfg *config.Config, configPath string) []string {
	args := []string{"worker",
		"--log-level", cfg.Log.Level,
		"--log-format", cfg.Log.Format,
		"--progress-interval", cfg.Worker.ProgressInterval.Std().String(),
		"--http-timeout", cfg.HTTP.Timeout.Std().String(),
		"--max-database-size", strconv.FormatInt(cfg.Worker.MaxDatabaseSize, 10),
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if cfg.Worker.ScratchDir != "" {
		args = append(args, "--scratch-dir", cfg.Worker.ScratchDir)
	}
	if cfg.S3.Region != "" {
		args = append(args, "--s3-region", cfg.S3.Region)
	}
	if cfg.S3.Endpoint != "" {
		args = append(args, "--s3-endpoint", cfg.S3.Endpoint)
	}
	return args
}

// exitCodeFor maps a client error to an exit code.
func exitCodeFor(err error) int {
	switch {
	case client.IsTransportError(err):
		return ExitWorker
	case client.IsOpenError(err):
		return ExitError
	case errors.Is(err, context.Canceled):
		return ExitError
	default:
		return ExitQuery
	}
}
