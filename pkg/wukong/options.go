package wukong

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthands/wukong/internal/bolt"
	"github.com/agenthands/wukong/internal/rpc"
	"github.com/agenthands/wukong/pkg/wukong/transport"
)

// DefaultTimeout bounds connect and every call unless overridden.
const DefaultTimeout = 8 * time.Second

const (
	TransportRPC  = "rpc"
	TransportBolt = "bolt"
)

type Option func(*options)

type options struct {
	timeout    time.Duration
	logger     zerolog.Logger
	transport  string
	dialer     transport.Dialer
	username   string
	password   string
	infoWriter io.Writer
}

func defaultOptions() options {
	return options{
		timeout:   DefaultTimeout,
		logger:    zerolog.Nop(),
		transport: TransportRPC,
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransport selects the wire protocol by name: "rpc" (default) or "bolt".
func WithTransport(name string) Option {
	return func(o *options) {
		o.transport = strings.ToLower(strings.TrimSpace(name))
	}
}

// WithDialer replaces the transport entirely.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithBasicAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithInfoWriter makes RetrieveClusterInfo print the reply to w.
func WithInfoWriter(w io.Writer) Option {
	return func(o *options) {
		o.infoWriter = w
	}
}

func (o options) newDialer() (transport.Dialer, error) {
	if o.dialer != nil {
		return o.dialer, nil
	}
	switch o.transport {
	case "", TransportRPC:
		return rpc.NewDialer(o.timeout, o.logger), nil
	case TransportBolt:
		return &bolt.Dialer{Username: o.username, Password: o.password, Logger: o.logger}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", o.transport)
	}
}
