package wukong

import (
	"context"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

// handle owns one remote session. Its owner serialises access; release
// succeeds at most once.
type handle struct {
	session  transport.Session
	endpoint Endpoint
	released bool
}

func acquire(ctx context.Context, d transport.Dialer, ep Endpoint) (*handle, error) {
	if err := ep.Validate(); err != nil {
		return nil, &ConnectionError{Endpoint: ep, Err: err}
	}
	sess, err := d.Dial(ctx, ep.Host, ep.Port)
	if err != nil {
		return nil, &ConnectionError{Endpoint: ep, Err: err}
	}
	return &handle{session: sess, endpoint: ep}, nil
}

func (h *handle) call(ctx context.Context, op string, code transport.Op, args ...string) (string, error) {
	if h == nil || h.released {
		return "", &InvalidHandleError{Op: op, State: StateClosed}
	}
	out, err := h.session.Call(ctx, code, args...)
	if err != nil {
		return "", &RemoteCallError{Op: op, Err: err}
	}
	return out, nil
}

// release terminates the session. The handle counts as released even when
// the disconnect call fails.
func (h *handle) release(ctx context.Context) error {
	if h == nil || h.released {
		return &InvalidHandleError{Op: "release", State: StateClosed}
	}
	h.released = true
	sess := h.session
	h.session = nil
	if err := sess.Close(ctx); err != nil {
		return &RemoteCallError{Op: "disconnect", Err: err}
	}
	return nil
}
