// Package transport carries protocol messages between a client and a worker.
//
// Every implementation delivers each message exactly once and in order per
// direction, and never shares mutable state between the two sides beyond
// handing over the message itself.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

var (
	// ErrClosed is returned by Send and Receive once the transport is closed.
	ErrClosed = errors.New("transport closed")
	// ErrMessageTooLarge is returned by Send for a message the other end
	// could not read. The transport stays usable.
	ErrMessageTooLarge = errors.New("message too large")
)

// Transport is one end of a bidirectional message channel.
type Transport interface {
	// Send delivers m to the other end. It does not wait for the message to
	// be processed.
	Send(ctx context.Context, m types.Message) error

	// Receive waits for the next message from the other end.
	Receive(ctx context.Context) (types.Message, error)

	Close() error
}

// ParseAddress splits a listen or dial address of the form "unix:/path",
// "tcp:host:port", "/path" or "host:port" into a network and an address.
func ParseAddress(addr string) (network, address string, err error) {
	switch {
	case addr == "":
		return "", "", fmt.Errorf("empty address")
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:"), nil
	case strings.HasPrefix(addr, "tcp:"):
		return "tcp", strings.TrimPrefix(addr, "tcp:"), nil
	case strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "."):
		return "unix", addr, nil
	default:
		return "tcp", addr, nil
	}
}
