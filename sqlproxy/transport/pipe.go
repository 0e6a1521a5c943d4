package transport

import (
	"context"
	"sync"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

// Pipe returns the two ends of an in-process transport. Each direction
// buffers up to buffer messages before Send blocks. Ownership of a message's
// payload passes to the receiver.
func Pipe(buffer int) (Transport, Transport) {
	ab := make(chan types.Message, buffer)
	ba := make(chan types.Message, buffer)
	state := &pipeState{done: make(chan struct{})}
	return &pipeEnd{in: ba, out: ab, state: state}, &pipeEnd{in: ab, out: ba, state: state}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	in    <-chan types.Message
	out   chan<- types.Message
	state *pipeState
}

func (p *pipeEnd) Send(ctx context.Context, m types.Message) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (types.Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.state.done:
		// Messages sent before Close are still delivered.
		select {
		case m := <-p.in:
			return m, nil
		default:
			return types.Message{}, ErrClosed
		}
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
