package types

import (
	"fmt"
)

// Kind selects the operation a Message belongs to.
type Kind string

const (
	KindOpen    Kind = "open"
	KindPrepare Kind = "prepare"
	KindStep    Kind = "step"
	KindDelete  Kind = "delete"
	KindExec    Kind = "exec"
	KindBuffer  Kind = "buffer"

	// KindReady is sent once by a worker when it starts serving. It carries
	// no correlation id and is never a reply.
	KindReady Kind = "ready"
)

// Handle is an opaque reference to a worker-owned database or statement.
// The zero Handle never refers to a live resource.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", uint32(h>>32), uint32(h))
}

// --- Requests ---

// Request is the payload of a request Message. There is one implementation
// per Kind.
type Request interface {
	Kind() Kind
}

// OpenRequest creates a database. At most one of Href and File is set; with
// neither the database starts empty.
type OpenRequest struct {
	Href string `json:"href,omitempty"`
	File string `json:"file,omitempty"`
}

// PrepareRequest compiles Statement against the database DatabaseID.
type PrepareRequest struct {
	DatabaseID Handle `json:"id"`
	Statement  string `json:"statement"`
	Params     []any  `json:"params,omitempty"`
}

// StepRequest advances a statement cursor up to End times, keeping rows
// produced at iteration index >= Start.
type StepRequest struct {
	StatementID Handle `json:"id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// DeleteRequest releases a statement before it is exhausted.
type DeleteRequest struct {
	StatementID Handle `json:"id"`
}

// ExecRequest runs a one-shot query without pagination.
type ExecRequest struct {
	DatabaseID Handle `json:"id"`
	Statement  string `json:"statement"`
	Params     []any  `json:"params,omitempty"`
}

// BufferRequest exports a whole database.
type BufferRequest struct {
	DatabaseID Handle `json:"id"`
}

func (*OpenRequest) Kind() Kind    { return KindOpen }
func (*PrepareRequest) Kind() Kind { return KindPrepare }
func (*StepRequest) Kind() Kind    { return KindStep }
func (*DeleteRequest) Kind() Kind  { return KindDelete }
func (*ExecRequest) Kind() Kind    { return KindExec }
func (*BufferRequest) Kind() Kind  { return KindBuffer }

// --- Responses ---

// Response is the payload of a successful terminal Message.
type Response interface {
	Kind() Kind
}

type OpenResponse struct {
	ID Handle `json:"id"`
}

type PrepareResponse struct {
	ID Handle `json:"id"`
}

type StepResponse struct {
	Results []Row `json:"results"`
	Done    bool  `json:"done"`
}

type DeleteResponse struct{}

type ExecResponse struct {
	Results []ResultSet `json:"results"`
}

type BufferResponse struct {
	Buffer []byte `json:"buffer"`
}

func (*OpenResponse) Kind() Kind    { return KindOpen }
func (*PrepareResponse) Kind() Kind { return KindPrepare }
func (*StepResponse) Kind() Kind    { return KindStep }
func (*DeleteResponse) Kind() Kind  { return KindDelete }
func (*ExecResponse) Kind() Kind    { return KindExec }
func (*BufferResponse) Kind() Kind  { return KindBuffer }

// Progress reports partial completion of a long-running request.
// Total is -1 when the size is not known in advance.
type Progress struct {
	Loaded int64 `json:"loaded"`
	Total  int64 `json:"total"`
}

// --- Messages ---

// Message is the unit exchanged over a transport. Exactly one of Request,
// Response, Progress or Error is set, except for the ready notice which
// carries none.
type Message struct {
	CorrelationID string
	Kind          Kind
	Request       Request
	Response      Response
	Progress      *Progress
	Error         string
}

// NewRequest builds a request Message.
func NewRequest(correlationID string, req Request) Message {
	return Message{CorrelationID: correlationID, Kind: req.Kind(), Request: req}
}

// Ready builds the worker's ready notice.
func Ready() Message {
	return Message{Kind: KindReady}
}

// Reply builds the successful terminal reply to req.
func Reply(req Message, resp Response) Message {
	return Message{CorrelationID: req.CorrelationID, Kind: req.Kind, Response: resp}
}

// Fail builds the failed terminal reply to req.
func Fail(req Message, err error) Message {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return Message{CorrelationID: req.CorrelationID, Kind: req.Kind, Error: msg}
}

// Notify builds a progress reply to req.
func Notify(req Message, p Progress) Message {
	return Message{CorrelationID: req.CorrelationID, Kind: req.Kind, Progress: &p}
}

// IsRequest reports whether m is a request.
func (m Message) IsRequest() bool {
	return m.Request != nil
}

// IsProgress reports whether m is a non-terminal progress reply.
func (m Message) IsProgress() bool {
	return m.Progress != nil
}

// IsTerminal reports whether m completes its correlation id.
func (m Message) IsTerminal() bool {
	return m.Response != nil || m.Error != ""
}

func newRequest(kind Kind) (Request, error) {
	switch kind {
	case KindOpen:
		return &OpenRequest{}, nil
	case KindPrepare:
		return &PrepareRequest{}, nil
	case KindStep:
		return &StepRequest{}, nil
	case KindDelete:
		return &DeleteRequest{}, nil
	case KindExec:
		return &ExecRequest{}, nil
	case KindBuffer:
		return &BufferRequest{}, nil
	}
	return nil, fmt.Errorf("unknown request kind: %q", kind)
}

func newResponse(kind Kind) (Response, error) {
	switch kind {
	case KindOpen:
		return &OpenResponse{}, nil
	case KindPrepare:
		return &PrepareResponse{}, nil
	case KindStep:
		return &StepResponse{}, nil
	case KindDelete:
		return &DeleteResponse{}, nil
	case KindExec:
		return &ExecResponse{}, nil
	case KindBuffer:
		return &BufferResponse{}, nil
	}
	return nil, fmt.Errorf("unknown response kind: %q", kind)
}
