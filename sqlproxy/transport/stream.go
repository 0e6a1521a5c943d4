package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// MaxLineSize bounds a single encoded message, newline included. Buffer
// responses carry a whole database, so the limit is generous.
const MaxLineSize = 256 << 20

// maxLineSize is read when a Stream is created.
var maxLineSize = MaxLineSize

type received struct {
	msg types.Message
	err error
}

// Stream carries newline-delimited JSON messages over a byte stream such as a
// socket or a child process's stdio.
type Stream struct {
	rwc    io.ReadWriteCloser
	logger *slog.Logger

	writeMu  sync.Mutex
	incoming chan received
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	rwcOnce sync.Once
	rwcErr  error

	maxLine int
}

// NewStream starts reading messages from rwc. Requests that cannot be decoded
// are answered with an error; other malformed lines are logged and skipped.
func NewStream(rwc io.ReadWriteCloser, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		rwc:      rwc,
		logger:   logger,
		incoming: make(chan received),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
		maxLine:  maxLineSize,
	}
	go s.readLoop()
	return s
}

// Dial connects to a worker listening on network and address.
func Dial(ctx context.Context, network, address string, logger *slog.Logger) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", network, address, err)
	}
	return NewStream(conn, logger), nil
}

func (s *Stream) readLoop() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.rwc)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := types.DecodeMessage(line)
		if err != nil {
			s.reject(line, err)
			continue
		}
		select {
		case s.incoming <- received{msg: msg}:
		case <-s.closed:
			return
		}
	}

	err := ErrClosed
	if scanErr := scanner.Err(); scanErr != nil && !errors.Is(scanErr, net.ErrClosed) {
		err = fmt.Errorf("%w: %w", ErrClosed, scanErr)
	}
	select {
	case s.incoming <- received{err: err}:
	case <-s.closed:
	}
}

// reject answers a request that could not be decoded with a terminal error
// when its correlation id is readable, and drops anything else.
func (s *Stream) reject(line []byte, err error) {
	var env types.Envelope
	if json.Unmarshal(line, &env) != nil || env.CorrelationID == "" || len(env.Request) == 0 {
		s.logger.Warn("Dropping malformed message", "error", err, "size", len(line))
		return
	}
	s.logger.Warn("Rejecting invalid request", "mid", env.CorrelationID, "kind", env.Kind, "error", err)
	reply := types.Message{CorrelationID: env.CorrelationID, Kind: env.Kind, Error: "invalid request: " + err.Error()}
	if sendErr := s.Send(context.Background(), reply); sendErr != nil {
		s.logger.Warn("Failed to reject invalid request", "mid", env.CorrelationID, "error", sendErr)
	}
}

// Send writes m as one line. Concurrent calls are serialized. A message
// longer than MaxLineSize is not written and fails with ErrMessageTooLarge.
func (s *Stream) Send(ctx context.Context, m types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	data, err := types.EncodeMessage(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if len(data) > s.maxLine {
		return fmt.Errorf("%w: %s message is %d bytes, limit %d", ErrMessageTooLarge, m.Kind, len(data), s.maxLine)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.rwc.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Receive returns the next decoded message. Once the underlying stream ends
// every call returns an error wrapping ErrClosed.
func (s *Stream) Receive(ctx context.Context) (types.Message, error) {
	select {
	case r := <-s.incoming:
		if r.err != nil {
			s.closeWith(r.err)
			return types.Message{}, r.err
		}
		return r.msg, nil
	case <-s.closed:
		return types.Message{}, s.closeErr
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

// Done is closed once the read side has stopped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	s.closeWith(ErrClosed)
	s.rwcOnce.Do(func() { s.rwcErr = s.rwc.Close() })
	return s.rwcErr
}

func (s *Stream) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}
