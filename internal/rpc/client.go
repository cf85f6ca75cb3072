package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

var aLongTimeAgo = time.Unix(1, 0)

// Dialer opens native RPC sessions with a Wukong proxy.
type Dialer struct {
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

func NewDialer(connectTimeout time.Duration, logger zerolog.Logger) *Dialer {
	return &Dialer{ConnectTimeout: connectTimeout, Logger: logger}
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (transport.Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	s := &session{conn: conn, addr: addr, logger: d.Logger.With().Str("addr", addr).Logger()}
	token, err := s.roundTrip(ctx, CodeConnect, "", ProtocolVersion)
	if err != nil {
		conn.Close()
		var remote *transport.RemoteError
		if errors.As(err, &remote) {
			return nil, fmt.Errorf("bind %s: %w: %w", addr, transport.ErrRejected, err)
		}
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if token == "" {
		conn.Close()
		return nil, fmt.Errorf("bind %s: %w: empty session token", addr, transport.ErrRejected)
	}
	s.token = token
	s.logger.Debug().Str("session", token).Msg("session opened")
	return s, nil
}

type session struct {
	mu     sync.Mutex
	conn   net.Conn
	addr   string
	token  string
	logger zerolog.Logger

	nextID uint64
	broken bool
	closed bool
}

func (s *session) Call(ctx context.Context, op transport.Op, args ...string) (string, error) {
	var code uint32
	switch op {
	case transport.OpInfo:
		code = CodeInfo
	case transport.OpSparql:
		code = CodeSparql
	default:
		return "", fmt.Errorf("unsupported operation %s", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.broken {
		return "", fmt.Errorf("%w: session to %s is no longer usable", transport.ErrBroken, s.addr)
	}
	return s.roundTrip(ctx, code, s.token, args...)
}

// Close sends DISCONNECT unless the stream is already torn, then drops the connection.
func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if !s.broken {
		_, err = s.roundTrip(ctx, CodeDisconnect, s.token)
	}
	if cerr := s.conn.Close(); err == nil && cerr != nil {
		err = cerr
	}
	s.logger.Debug().Str("session", s.token).Msg("session closed")
	return err
}

func (s *session) roundTrip(ctx context.Context, code uint32, token string, args ...string) (string, error) {
	// nothing has touched the stream yet, so the session stays usable
	frame, err := encodeFrame(request{ID: s.nextID + 1, Code: code, Session: token, Args: args})
	if errors.Is(err, errFrameTooLarge) {
		return "", fmt.Errorf("%w: limit is %d bytes", transport.ErrTooLarge, maxFrameSize)
	}
	if err != nil {
		return "", err
	}
	s.nextID++
	id := s.nextID

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetDeadline(deadline); err != nil {
		return "", s.fail(ctx, err, true)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(aLongTimeAgo)
		close(fired)
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	n, err := s.conn.Write(frame)
	if err != nil {
		return "", s.fail(ctx, err, n > 0)
	}

	for {
		var rep reply
		started, err := readFrame(s.conn, &rep)
		if err != nil {
			return "", s.fail(ctx, err, started)
		}
		if rep.ID < id {
			// reply to a call that already timed out
			s.logger.Debug().Uint64("id", rep.ID).Msg("discarding stale reply")
			continue
		}
		if rep.ID != id {
			s.broken = true
			return "", fmt.Errorf("%w: reply id %d, want %d", transport.ErrBroken, rep.ID, id)
		}
		if rep.Status != transport.StatusOK {
			return "", &transport.RemoteError{Code: rep.Status, Message: rep.Error}
		}
		return rep.Body, nil
	}
}

func (s *session) fail(ctx context.Context, err error, torn bool) error {
	if !torn && isTimeout(err) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", transport.ErrTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
	}
	s.broken = true
	return fmt.Errorf("%w: %w", transport.ErrBroken, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
