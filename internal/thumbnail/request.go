package thumbnail

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is where a request is in its lifecycle. Completed, Failed and
// TimedOut are terminal.
type State int32

const (
	StateSubmitted State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a sink state.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Default request parameters.
const (
	DefaultPosition = 0.4
	DefaultDeadline = 10 * time.Second
	DefaultGrace    = 2 * time.Second
)

// ThumbnailRequest asks for one frame of URI as a width x height JPEG.
type ThumbnailRequest struct {
	URI    string
	Width  int
	Height int
	// Position is the normalised offset in [0,1]; nil means DefaultPosition.
	// Values outside the range are clamped.
	Position *float64
	// Deadline overrides the dispatcher's default when positive.
	Deadline time.Duration
}

// MetadataRequest asks for the fixed metadata key set of URI.
type MetadataRequest struct {
	URI      string
	Deadline time.Duration
}

// ThumbnailCallback receives either the base64 JPEG or an *Error.
type ThumbnailCallback func(thumbnail string, err error)

// MetadataCallback receives either the metadata map or an *Error.
type MetadataCallback func(metadata map[string]any, err error)

// Request is the handle returned for a submitted request.
type Request struct {
	id        string
	op        Op
	submitted time.Time
	state     atomic.Int32
	cancel    context.CancelCauseFunc
}

func newRequest(op Op) *Request {
	return &Request{
		id:        uuid.NewString(),
		op:        op,
		submitted: time.Now(),
	}
}

// ID returns the request's unique identifier.
func (r *Request) ID() string {
	return r.id
}

// Op returns the operation the request performs.
func (r *Request) Op() Op {
	return r.op
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	return State(r.state.Load())
}

// Cancel aborts the request. It completes with a Timeout error whose
// message is "request canceled", unless it already finished.
func (r *Request) Cancel() {
	if r.cancel != nil {
		r.cancel(ErrCanceled)
	}
}

// start moves a submitted request to running.
func (r *Request) start() bool {
	return r.state.CompareAndSwap(int32(StateSubmitted), int32(StateRunning))
}

// finish moves the request into a terminal state. Only the first call
// succeeds.
func (r *Request) finish(s State) bool {
	for {
		cur := State(r.state.Load())
		if cur.Terminal() {
			return false
		}
		if r.state.CompareAndSwap(int32(cur), int32(s)) {
			return true
		}
	}
}
