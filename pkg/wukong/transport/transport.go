// Package transport defines the three remote calls a cluster session is made of:
// connect, call and disconnect. Concrete protocols live in sibling packages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

type Op int

const (
	OpInfo Op = iota + 1
	OpSparql
)

func (o Op) String() string {
	switch o {
	case OpInfo:
		return "info"
	case OpSparql:
		return "sparql"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Status codes reported by the engine.
const (
	StatusOK               = 0
	StatusInvalid          = -1
	StatusIOError          = -2
	StatusAssertionFailed  = -3
	StatusConnectionFailed = -4
	StatusConnectionError  = -5
	StatusEngineError      = -6
	StatusUnknown          = -255
)

var (
	// ErrRejected is returned by Dial when the remote side refuses the session.
	ErrRejected = errors.New("session rejected")
	// ErrTimeout is returned when a call did not complete in time. The session stays usable.
	ErrTimeout = errors.New("call timed out")
	// ErrBroken is returned when the session can no longer be used.
	ErrBroken = errors.New("session broken")
	// ErrTooLarge is returned when a request does not fit in one frame. Nothing
	// is sent and the session stays usable.
	ErrTooLarge = errors.New("request too large")
)

// RemoteError carries a non-zero status reported by the engine.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote status %d", e.Code)
	}
	return fmt.Sprintf("remote status %d: %s", e.Code, e.Message)
}

// Dialer opens sessions with a cluster proxy.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Session, error)
}

// Session is one live session. Implementations must tolerate Call and Close
// being invoked from different goroutines but callers never overlap Calls.
type Session interface {
	Call(ctx context.Context, op Op, args ...string) (string, error)
	Close(ctx context.Context) error
}

type DialFunc func(ctx context.Context, host string, port int) (Session, error)

func (f DialFunc) Dial(ctx context.Context, host string, port int) (Session, error) {
	return f(ctx, host, port)
}
