package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultGracePeriod is how long Close waits for a worker process to exit
// after its stdin is closed before killing it.
const DefaultGracePeriod = 5 * time.Second

// Process is a Stream over the stdio of a child worker process. The worker
// reads requests from stdin, writes replies to stdout and logs to stderr.
type Process struct {
	*Stream

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger
	grace  time.Duration

	exited  chan struct{}
	waitErr error
}

type stdioConn struct {
	io.ReadCloser
	stdin io.WriteCloser
}

func (c stdioConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c stdioConn) Close() error {
	return errors.Join(c.stdin.Close(), c.ReadCloser.Close())
}

// Spawn starts cmd and returns a transport over its stdio. Each line the
// worker writes to stderr is forwarded to logger.
func Spawn(cmd *exec.Cmd, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %q: %w", cmd.Path, err)
	}

	pid := cmd.Process.Pid
	logger = logger.With("pid", pid)
	logger.Info("Worker process started", "command", cmd.String())

	p := &Process{
		Stream: NewStream(stdioConn{ReadCloser: stdout, stdin: stdin}, logger),
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
		grace:  DefaultGracePeriod,
		exited: make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Info("Worker stderr", "output", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			logger.Error("Error reading stderr from worker", "error", err)
		}
	}()

	go func() {
		// Wait closes the pipes, so every read has to finish first.
		<-stderrDone
		<-p.Stream.Done()
		p.waitErr = cmd.Wait()
		if p.waitErr != nil {
			logger.Warn("Worker process exited", "error", p.waitErr)
		} else {
			logger.Info("Worker process exited")
		}
		close(p.exited)
	}()

	return p, nil
}

// SetGracePeriod changes how long Close waits before killing the worker.
func (p *Process) SetGracePeriod(d time.Duration) {
	p.grace = d
}

// Exited is closed once the worker process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Close closes the worker's stdin, which asks it to release everything and
// exit, then waits for it. A worker that outlives the grace period is killed.
func (p *Process) Close() error {
	p.closeWith(ErrClosed)
	p.stdin.Close()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case <-p.exited:
	case <-timer.C:
		p.logger.Warn("Worker did not exit gracefully, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			p.logger.Error("Failed to kill worker", "error", err)
		}
		<-p.exited
	}

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.waitErr
	}
	return nil
}
