package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// --- JSON structures for stream transports ---

// Envelope is the wire form of a Message. Request and Response hold the
// kind-specific payload.
type Envelope struct {
	CorrelationID string          `json:"mid,omitempty"`
	Kind          Kind            `json:"kind"`
	Request       json.RawMessage `json:"request,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	Progress      *Progress       `json:"progress,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// EncodeMessage serializes a Message to a single line of JSON (without the
// trailing newline).
func EncodeMessage(m Message) ([]byte, error) {
	env := Envelope{
		CorrelationID: m.CorrelationID,
		Kind:          m.Kind,
		Progress:      m.Progress,
		Error:         m.Error,
	}
	var err error
	if m.Request != nil {
		if env.Request, err = json.Marshal(m.Request); err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", m.Kind, err)
		}
	}
	if m.Response != nil {
		if env.Response, err = json.Marshal(m.Response); err != nil {
			return nil, fmt.Errorf("failed to marshal %s response: %w", m.Kind, err)
		}
	}
	return json.Marshal(env)
}

// DecodeMessage parses a Message produced by EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	m := Message{
		CorrelationID: env.CorrelationID,
		Kind:          env.Kind,
		Progress:      env.Progress,
		Error:         env.Error,
	}

	if len(env.Request) > 0 {
		req, err := newRequest(env.Kind)
		if err != nil {
			return Message{}, err
		}
		if err := decodeNumbers(env.Request, req); err != nil {
			return Message{}, fmt.Errorf("failed to unmarshal %s request: %w", env.Kind, err)
		}
		switch r := req.(type) {
		case *PrepareRequest:
			normalizeValues(r.Params)
		case *ExecRequest:
			normalizeValues(r.Params)
		}
		m.Request = req
	}

	if len(env.Response) > 0 {
		resp, err := newResponse(env.Kind)
		if err != nil {
			return Message{}, err
		}
		if err := json.Unmarshal(env.Response, resp); err != nil {
			return Message{}, fmt.Errorf("failed to unmarshal %s response: %w", env.Kind, err)
		}
		m.Response = resp
	}

	return m, nil
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
