package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tomyedwab/sqlviewer/config"
	"github.com/tomyedwab/sqlviewer/sqlproxy/host"
	"github.com/tomyedwab/sqlviewer/sqlproxy/source"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
)

const serveUsage = `Usage: sqlviewer serve [options]

Description:
  Accept connections on a unix or TCP socket. Every connection gets its own
  worker, so clients never see each other's databases. Connect with
  'sqlviewer query --connect <address>'.

  Workers read databases as the server process. Clients on a unix socket
  may open any path it can read. Clients on a TCP listener may only open
  http(s) and s3:// references unless --allow-local-files is given.

Examples:
  sqlviewer serve --listen unix:/tmp/sqlviewer.sock
  sqlviewer serve --listen tcp:127.0.0.1:7070 --metrics-listen :9090
`

func (a *app) runServe(ctx context.Context, args []string) int {
	cmd := a.newCommand("serve", serveUsage)
	cfg, logger, code, ok := a.parse(cmd, args)
	if !ok {
		return code
	}

	network, address, err := transport.ParseAddress(cfg.Server.Listen)
	if err != nil {
		logger.Error("Invalid listen address", "error", err)
		return ExitConfig
	}

	eng, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("Failed to create engine", "error", err)
		return ExitConfig
	}
	defer eng.Close()

	fetcher := fetcherConfig(cfg, logger)
	fetcher.RemoteOnly = remoteOnly(network, cfg.Server)
	if fetcher.RemoteOnly {
		logger.Info("Local files are disabled for TCP clients")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server := host.NewServer(network, address, host.Config{
		Engine:  eng,
		Source:  source.NewFetcher(fetcher),
		Logger:  logger,
		Metrics: host.NewMetrics(reg),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx)
	})
	if cfg.Server.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "address", cfg.Server.MetricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), host.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Starting worker server", "network", network, "address", address)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server failed", "error", err)
		return ExitError
	}
	logger.Info("Server stopped")
	return ExitOK
}

// remoteOnly reports whether a listener's clients are limited to remote
// references. Anyone who can reach a TCP port could otherwise read any file
// the server can.
func remoteOnly(network string, cfg config.ServerConfig) bool {
	return network != "unix" && !cfg.AllowLocalFiles
}
