// Package client issues requests to a worker and matches its replies.
//
// A Client multiplexes any number of outstanding calls over one transport.
// Each call blocks until its terminal reply arrives, so callers that want
// several requests in flight issue them from separate goroutines. Replies are
// matched purely by correlation id; their arrival order does not matter.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomyedwab/sqlviewer/sqlproxy/transport"
	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// ProgressFunc receives progress for an outstanding call.
type ProgressFunc func(types.Progress)

// Client is the caller side of the protocol.
type Client struct {
	transport      transport.Transport
	logger         *slog.Logger
	requestTimeout time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingCall
	closed   bool
	closeErr error

	ready     chan struct{}
	readyOnce sync.Once
	loopDone  chan struct{}
}

type outcome struct {
	msg types.Message
	err error
}

type pendingCall struct {
	kind   types.Kind
	result chan outcome

	// mu is held while progress runs, so abandoning a call waits for an
	// in-flight handler.
	mu        sync.Mutex
	progress  ProgressFunc
	abandoned bool
}

// Option represents a functional option for configuring the Client
type Option func(*Client)

// WithLogger sets the logger, which defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestTimeout bounds every call. Zero means calls are bounded only by
// their context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// New creates a Client that owns t and starts reading replies from it.
func New(t transport.Transport, options ...Option) *Client {
	c := &Client{
		transport: t,
		logger:    slog.Default(),
		pending:   make(map[string]*pendingCall),
		ready:     make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}
	go c.receiveLoop()
	return c
}

func (c *Client) receiveLoop() {
	defer close(c.loopDone)
	for {
		m, err := c.transport.Receive(context.Background())
		if err != nil {
			c.shutdown(err)
			return
		}
		c.deliver(m)
	}
}

func (c *Client) deliver(m types.Message) {
	if m.Kind == types.KindReady && m.CorrelationID == "" {
		c.readyOnce.Do(func() { close(c.ready) })
		return
	}

	c.mu.Lock()
	call, ok := c.pending[m.CorrelationID]
	if ok && m.IsTerminal() {
		delete(c.pending, m.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping reply with no pending call", "mid", m.CorrelationID, "kind", m.Kind)
		return
	}

	switch {
	case m.IsTerminal():
		call.result <- outcome{msg: m}
	case m.IsProgress():
		call.mu.Lock()
		if !call.abandoned && call.progress != nil {
			call.progress(*m.Progress)
		}
		call.mu.Unlock()
	default:
		c.logger.Warn("Dropping reply with no payload", "mid", m.CorrelationID, "kind", m.Kind)
	}
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		call.result <- outcome{err: NewTransportError("transport closed", err)}
	}
	if len(pending) > 0 {
		c.logger.Warn("Failed outstanding calls", "count", len(pending), "error", err)
	}
}

// call sends req and waits for its terminal reply.
func (c *Client) call(ctx context.Context, req types.Request, progress ProgressFunc) (types.Response, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	kind := req.Kind()
	mid := uuid.NewString()
	call := &pendingCall{kind: kind, result: make(chan outcome, 1), progress: progress}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, NewTransportError("client closed", err)
	}
	c.pending[mid] = call
	c.mu.Unlock()

	if err := c.transport.Send(ctx, types.NewRequest(mid, req)); err != nil {
		c.abandon(mid, call)
		if errors.Is(err, transport.ErrMessageTooLarge) {
			return nil, NewErrorWithCause(errorTypeFor(kind), "request too large", err)
		}
		return nil, NewTransportError(fmt.Sprintf("failed to send %s request", kind), err)
	}

	select {
	case o := <-call.result:
		return c.complete(kind, o)
	case <-ctx.Done():
		c.abandon(mid, call)
		select {
		case o := <-call.result:
			return c.complete(kind, o)
		default:
		}
		c.logger.Debug("Abandoned call", "mid", mid, "kind", kind, "error", ctx.Err())
		return nil, NewErrorWithCause(errorTypeFor(kind), "request abandoned", ctx.Err())
	}
}

func (c *Client) complete(kind types.Kind, o outcome) (types.Response, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.msg.Error != "" {
		return nil, NewError(errorTypeFor(kind), o.msg.Error)
	}
	if o.msg.Response == nil || o.msg.Response.Kind() != kind {
		return nil, NewError(errorTypeFor(kind), fmt.Sprintf("unexpected reply to %s request", kind))
	}
	return o.msg.Response, nil
}

// abandon removes a pending call. A late terminal reply is then dropped and
// no further progress is delivered.
func (c *Client) abandon(mid string, call *pendingCall) {
	call.mu.Lock()
	call.abandoned = true
	call.mu.Unlock()

	c.mu.Lock()
	delete(c.pending, mid)
	c.mu.Unlock()
}

// Pending returns the number of outstanding calls.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Ready waits for the worker's ready notice.
func (c *Client) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.loopDone:
		return NewTransportError("worker stopped before it was ready", c.closeErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the transport. Outstanding calls fail with a transport error.
func (c *Client) Close() error {
	err := c.transport.Close()
	<-c.loopDone
	return err
}

// Descriptor says where a database comes from. With neither Href nor File
// set the database starts empty.
type Descriptor struct {
	Href string // http(s), s3:// or file:// reference
	File string // local path

	// Progress, if set, is called on the client's receive loop for every
	// progress reply, always before Open returns. It must not block on the
	// client.
	Progress ProgressFunc
}

// Open creates a database in the worker.
func (c *Client) Open(ctx context.Context, desc Descriptor) (*Database, error) {
	resp, err := c.call(ctx, &types.OpenRequest{Href: desc.Href, File: desc.File}, desc.Progress)
	if err != nil {
		return nil, err
	}
	return &Database{client: c, id: resp.(*types.OpenResponse).ID}, nil
}
