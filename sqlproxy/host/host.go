// Package host executes protocol requests against a database engine.
//
// A Worker owns a registry of databases and statements and processes one
// message at a time. It emits any progress replies followed by exactly one
// terminal reply for every request it receives.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tomyedwab/sqlviewer/sqlproxy/engine"
	"github.com/tomyedwab/sqlviewer/sqlproxy/registry"
	"github.com/tomyedwab/sqlviewer/sqlproxy/source"
	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// Source acquires the bytes a database is opened from.
type Source interface {
	Fetch(ctx context.Context, ref string, progress source.ProgressFunc) ([]byte, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Config holds the dependencies of a Worker.
type Config struct {
	Engine  engine.Engine
	Source  Source       // Optional, defaults to a source.Fetcher with default settings
	Logger  *slog.Logger // Optional, defaults to slog.Default()
	Metrics *Metrics     // Optional, shared between workers of one process
}

// Worker handles requests for one client. It is not safe for concurrent use.
type Worker struct {
	engine   engine.Engine
	source   Source
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *Metrics

	// Live handle counts last reported to metrics.
	reportedDatabases  int
	reportedStatements int
}

// NewWorker creates a Worker with an empty registry.
func NewWorker(config Config) *Worker {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := config.Source
	if src == nil {
		src = source.NewFetcher(source.Config{Logger: logger})
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Worker{
		engine:   config.Engine,
		source:   src,
		registry: registry.New(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Serve sends the ready notice and then handles messages from t until it is
// closed or ctx ends. It returns nil when the peer closes the transport.
func (w *Worker) Serve(ctx context.Context, t transport.Transport) error {
	if err := t.Send(ctx, types.Ready()); err != nil {
		return fmt.Errorf("failed to send ready notice: %w", err)
	}
	w.logger.Info("Worker ready")

	for {
		m, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				w.logger.Info("Transport closed, worker stopping")
				return nil
			}
			return fmt.Errorf("failed to receive: %w", err)
		}

		var sendErr error
		w.Handle(ctx, m, func(reply types.Message) {
			if sendErr != nil {
				return
			}
			sendErr = t.Send(ctx, reply)
			if errors.Is(sendErr, transport.ErrMessageTooLarge) && reply.IsTerminal() {
				w.logger.Warn("Reply too large for transport", "kind", m.Kind, "mid", m.CorrelationID, "error", sendErr)
				sendErr = t.Send(ctx, types.Fail(m, sendErr))
			}
		})
		if sendErr != nil {
			if errors.Is(sendErr, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to send reply: %w", sendErr)
		}
	}
}

// Handle processes m to completion. emit receives progress replies and then
// exactly one terminal reply. Messages that are not requests are ignored.
func (w *Worker) Handle(ctx context.Context, m types.Message, emit func(types.Message)) {
	if m.Kind == types.KindReady || m.IsTerminal() || m.IsProgress() {
		w.logger.Warn("Ignoring non-request message", "kind", m.Kind, "mid", m.CorrelationID)
		return
	}

	started := time.Now()
	terminated := false
	outcome := failed
	reply := func(resp types.Response, err error) {
		if terminated {
			return
		}
		terminated = true
		if err != nil {
			w.logger.Debug("Request failed", "kind", m.Kind, "mid", m.CorrelationID, "error", err)
			emit(types.Fail(m, err))
			return
		}
		outcome = succeeded
		emit(types.Reply(m, resp))
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while handling request", "kind", m.Kind, "mid", m.CorrelationID,
				"panic", r, "stack", string(debug.Stack()))
			reply(nil, fmt.Errorf("internal error: %v", r))
		}
		w.observe(m.Kind, outcome, started)
	}()

	resp, err := w.dispatch(ctx, m, func(p types.Progress) {
		if !terminated {
			emit(types.Notify(m, p))
		}
	})
	reply(resp, err)
}

func (w *Worker) dispatch(ctx context.Context, m types.Message, progress source.ProgressFunc) (types.Response, error) {
	switch req := m.Request.(type) {
	case *types.OpenRequest:
		return w.handleOpen(ctx, req, progress)
	case *types.PrepareRequest:
		return w.handlePrepare(ctx, req)
	case *types.StepRequest:
		return w.handleStep(req)
	case *types.DeleteRequest:
		return w.handleDelete(req)
	case *types.ExecRequest:
		return w.handleExec(ctx, req)
	case *types.BufferRequest:
		return w.handleBuffer(ctx, req)
	case nil:
		return nil, fmt.Errorf("missing %s request payload", m.Kind)
	default:
		return nil, fmt.Errorf("unknown request kind: %s", m.Kind)
	}
}

func (w *Worker) handleOpen(ctx context.Context, req *types.OpenRequest, progress source.ProgressFunc) (types.Response, error) {
	var data []byte
	var err error
	switch {
	case req.Href != "" && req.File != "":
		return nil, fmt.Errorf("open takes either href or file, not both")
	case req.Href != "":
		data, err = w.source.Fetch(ctx, req.Href, progress)
	case req.File != "":
		data, err = w.source.ReadFile(ctx, req.File)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load database: %w", err)
	}

	db, err := w.engine.Open(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	id := w.registry.AddDatabase(db)
	w.logger.Info("Opened database", "id", id, "href", req.Href, "file", req.File, "size", len(data))
	return &types.OpenResponse{ID: id}, nil
}

func (w *Worker) handlePrepare(ctx context.Context, req *types.PrepareRequest) (types.Response, error) {
	db, err := w.registry.Database(req.DatabaseID)
	if err != nil {
		return nil, err
	}
	cursor, err := db.Prepare(ctx, req.Statement, req.Params)
	if err != nil {
		return nil, err
	}
	id, err := w.registry.AddStatement(req.DatabaseID, cursor)
	if err != nil {
		cursor.Close()
		return nil, err
	}
	return &types.PrepareResponse{ID: id}, nil
}

func (w *Worker) handleStep(req *types.StepRequest) (types.Response, error) {
	stmt, err := w.registry.Statement(req.StatementID)
	if err != nil {
		return nil, err
	}

	rows, done, err := paginate(stmt.Cursor, req.Start, req.End)
	if err != nil {
		if !errors.Is(err, errInvalidRange) {
			w.releaseStatement(req.StatementID)
		}
		return nil, err
	}
	if done {
		w.releaseStatement(req.StatementID)
	}
	return &types.StepResponse{Results: rows, Done: done}, nil
}

func (w *Worker) handleDelete(req *types.DeleteRequest) (types.Response, error) {
	w.releaseStatement(req.StatementID)
	return &types.DeleteResponse{}, nil
}

func (w *Worker) handleExec(ctx context.Context, req *types.ExecRequest) (types.Response, error) {
	db, err := w.registry.Database(req.DatabaseID)
	if err != nil {
		return nil, err
	}
	results, err := db.Exec(ctx, req.Statement, req.Params)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []types.ResultSet{}
	}
	return &types.ExecResponse{Results: results}, nil
}

func (w *Worker) handleBuffer(ctx context.Context, req *types.BufferRequest) (types.Response, error) {
	db, err := w.registry.Database(req.DatabaseID)
	if err != nil {
		return nil, err
	}
	data, err := db.Export(ctx)
	if err != nil {
		return nil, err
	}
	return &types.BufferResponse{Buffer: data}, nil
}

// releaseStatement unregisters a statement and closes its cursor. Unknown
// handles are ignored.
func (w *Worker) releaseStatement(h types.Handle) {
	stmt, ok := w.registry.RemoveStatement(h)
	if !ok {
		return
	}
	if err := stmt.Cursor.Close(); err != nil {
		w.logger.Warn("Failed to close statement", "id", h, "error", err)
	}
}

func (w *Worker) observe(kind types.Kind, outcome string, started time.Time) {
	dbs, stmts := w.registry.Len()
	w.metrics.observe(kind, outcome, time.Since(started))
	w.metrics.addHandles(dbs-w.reportedDatabases, stmts-w.reportedStatements)
	w.reportedDatabases, w.reportedStatements = dbs, stmts
}

// Close releases every statement and database the worker owns.
func (w *Worker) Close() error {
	err := w.registry.Close()
	w.metrics.addHandles(-w.reportedDatabases, -w.reportedStatements)
	w.reportedDatabases, w.reportedStatements = 0, 0
	if err != nil {
		w.logger.Warn("Errors while releasing worker resources", "error", err)
	}
	return err
}
