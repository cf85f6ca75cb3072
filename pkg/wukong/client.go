// Package wukong is a client for a distributed Wukong SPARQL cluster. A
// Client owns exactly one session with one proxy; construct it with New and
// release it with Close, or use With for scoped acquisition.
//
// Calls on a Client are serialised: at most one request is outstanding and the
// proxy observes requests in issue order. The client never retries.
package wukong

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

type State int32

const (
	StateUninitialized State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is a session with one cluster proxy. The zero value is an
// uninitialized client on which every operation fails with InvalidHandleError.
type Client struct {
	mu       sync.Mutex
	h        *handle
	endpoint Endpoint
	state    State
	opts     options
	done     chan struct{}
}

// New connects to the proxy at host:port. No client is returned when the
// session cannot be established.
func New(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ep := Endpoint{Host: host, Port: port}

	d, err := o.newDialer()
	if err != nil {
		return nil, &ConnectionError{Endpoint: ep, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	h, err := acquire(dialCtx, d, ep)
	if err != nil {
		o.logger.Error().Err(err).Str("endpoint", ep.String()).Msg("failed to connect to wukong proxy")
		return nil, err
	}

	o.logger.Info().Str("endpoint", ep.String()).Str("transport", o.transport).Msg("connected to wukong proxy")
	return &Client{h: h, endpoint: ep, state: StateConnected, opts: o, done: make(chan struct{})}, nil
}

// With acquires a client, runs fn and releases the client on every exit path.
func With(ctx context.Context, host string, port int, fn func(*Client) error, opts ...Option) (err error) {
	c, err := New(ctx, host, port, opts...)
	if err != nil {
		return err
	}
	defer func() {
		cerr := c.Close(context.WithoutCancel(ctx))
		if err == nil && cerr != nil && !errors.Is(cerr, ErrInvalidHandle) {
			err = cerr
		}
	}()
	return fn(c)
}

func (c *Client) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the client leaves the Connected state, whether by Close
// or because its transport broke. It is nil for a zero-value client.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// ClusterInfo returns the proxy's status text as reported, uninterpreted.
func (c *Client) ClusterInfo(ctx context.Context) (string, error) {
	return c.call(ctx, "cluster info", transport.OpInfo)
}

// RetrieveClusterInfo asks the proxy for its status and reports it through the
// logger and the info writer, if one is configured.
func (c *Client) RetrieveClusterInfo(ctx context.Context) error {
	info, err := c.ClusterInfo(ctx)
	if err != nil {
		return err
	}
	c.opts.logger.Info().Str("endpoint", c.endpoint.String()).Str("info", info).Msg("cluster info")
	if c.opts.infoWriter != nil {
		fmt.Fprintf(c.opts.infoWriter, "[Cluster Info]:\n%s\n", info)
	}
	return nil
}

// ExecuteQuery sends query verbatim and returns the engine's reply unmodified.
// The empty string is forwarded like any other query.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (string, error) {
	return c.call(ctx, "execute query", transport.OpSparql, query, "")
}

// ExecuteQueryWithPlan sends query together with an explicit execution plan.
func (c *Client) ExecuteQueryWithPlan(ctx context.Context, query, plan string) (string, error) {
	return c.call(ctx, "execute query", transport.OpSparql, query, plan)
}

// Close releases the session. It waits for an in-flight call. Closing a
// client that is not connected returns InvalidHandleError.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return &InvalidHandleError{Op: "close", State: c.state}
	}
	c.state = StateClosed
	close(c.done)

	relCtx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()
	err := c.h.release(relCtx)
	c.h = nil
	if err != nil {
		c.opts.logger.Warn().Err(err).Str("endpoint", c.endpoint.String()).Msg("disconnect failed, session released locally")
		return err
	}
	c.opts.logger.Info().Str("endpoint", c.endpoint.String()).Msg("disconnected from wukong proxy")
	return nil
}

func (c *Client) call(ctx context.Context, op string, code transport.Op, args ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return "", &InvalidHandleError{Op: op, State: c.state}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.h.call(callCtx, op, code, args...)
	logger := c.opts.logger.With().Str("op", op).Dur("latency", time.Since(start)).Logger()
	if err != nil {
		var rce *RemoteCallError
		if errors.As(err, &rce) && rce.Broken() {
			c.forceClose(ctx)
		}
		logger.Warn().Err(err).Msg("remote call failed")
		return "", err
	}
	logger.Debug().Msg("remote call succeeded")
	return out, nil
}

// forceClose releases a session whose transport can no longer be trusted.
func (c *Client) forceClose(ctx context.Context) {
	c.state = StateClosed
	close(c.done)
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.timeout)
	defer cancel()
	if err := c.h.release(relCtx); err != nil {
		c.opts.logger.Debug().Err(err).Msg("release of broken session")
	}
	c.h = nil
	c.opts.logger.Warn().Str("endpoint", c.endpoint.String()).Msg("transport broken, client closed")
}
