package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
)

// ShutdownTimeout bounds how long Serve waits for connections to wind down
// after its context ends.
const ShutdownTimeout = 5 * time.Second

// Server accepts connections on a socket and serves each one with its own
// Worker, so clients never share databases or statements.
type Server struct {
	network string
	address string
	config  Config
	logger  *slog.Logger

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	ready chan struct{}
	addr  net.Addr
}

// NewServer creates a Server listening on network and address. Every
// connection gets a Worker built from config.
func NewServer(network, address string, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		network: network,
		address: address,
		config:  config,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address. It is only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled. A unix socket file is
// replaced if stale and removed on exit. On shutdown every active connection
// is closed so its worker releases its resources.
func (s *Server) Serve(ctx context.Context) error {
	if s.network == "unix" {
		if err := os.Remove(s.address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return fmt.Errorf("listen on %s %s: %w", s.network, s.address, err)
	}
	if s.network == "unix" {
		if err := os.Chmod(s.address, 0o600); err != nil {
			ln.Close()
			return fmt.Errorf("chmod socket: %w", err)
		}
		defer os.Remove(s.address)
	}
	defer ln.Close()

	s.conns = make(map[net.Conn]struct{})
	s.addr = ln.Addr()
	close(s.ready)
	s.logger.Info("Worker server listening", "network", s.network, "address", s.addr.String())

	go func() {
		<-ctx.Done()
		ln.Close()
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				done := make(chan struct{})
				go func() { s.wg.Wait(); close(done) }()
				select {
				case <-done:
				case <-time.After(ShutdownTimeout):
					s.logger.Warn("Shutdown timeout, abandoning open connections")
				}
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
			s.connMu.Lock()
			delete(s.conns, conn)
			s.connMu.Unlock()
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	logger := s.logger.With("remote", remote)
	config := s.config
	config.Logger = logger

	stream := transport.NewStream(conn, logger)
	defer stream.Close()

	worker := NewWorker(config)
	defer worker.Close()

	logger.Info("Client connected")
	if err := worker.Serve(ctx, stream); err != nil && ctx.Err() == nil {
		logger.Warn("Worker stopped with error", "error", err)
	}
	logger.Info("Client disconnected")
}
