package wukong

import (
	"errors"
	"fmt"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

var (
	ErrConnection    = errors.New("wukong: connection error")
	ErrInvalidHandle = errors.New("wukong: invalid handle")
	ErrRemoteCall    = errors.New("wukong: remote call failed")
)

// ConnectionError reports that no session could be established.
type ConnectionError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("wukong: connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Rejected reports whether the proxy was reached but refused the session.
func (e *ConnectionError) Rejected() bool {
	return errors.Is(e.Err, transport.ErrRejected)
}

// InvalidHandleError reports an operation on a client that is not connected.
type InvalidHandleError struct {
	Op    string
	State State
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("wukong: %s on %s client", e.Op, e.State)
}

func (e *InvalidHandleError) Is(target error) bool { return target == ErrInvalidHandle }

// RemoteCallError reports a failure of an in-session call.
type RemoteCallError struct {
	Op  string
	Err error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("wukong: %s: %v", e.Op, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

func (e *RemoteCallError) Is(target error) bool { return target == ErrRemoteCall }

func (e *RemoteCallError) Timeout() bool {
	return errors.Is(e.Err, transport.ErrTimeout)
}

// Broken reports whether the failure forced the client closed.
func (e *RemoteCallError) Broken() bool {
	return errors.Is(e.Err, transport.ErrBroken)
}

// Status returns the engine status code when the remote side answered with an error.
func (e *RemoteCallError) Status() (int, bool) {
	var remote *transport.RemoteError
	if errors.As(e.Err, &remote) {
		return remote.Code, true
	}
	return 0, false
}
