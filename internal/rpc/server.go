package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

var ErrServerClosed = errors.New("rpc: server closed")

// Handler serves the operations of an established session.
type Handler interface {
	ClusterInfo(ctx context.Context) (string, error)
	ExecuteSparql(ctx context.Context, query, plan string) (string, error)
}

type ServerOption func(*Server)

// WithAdmission replaces the default protocol-version check run on CONNECT.
func WithAdmission(fn func(version string) error) ServerOption {
	return func(s *Server) {
		s.admit = fn
	}
}

func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the proxy side of the native protocol.
type Server struct {
	handler  Handler
	logger   zerolog.Logger
	admit    func(version string) error
	newToken func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	sessions map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(h Handler, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler:  h,
		logger:   zerolog.Nop(),
		admit:    checkVersion,
		newToken: uuid.NewString,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
		sessions: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkVersion(version string) error {
	if version != ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: client %q, server %q", version, ProtocolVersion)
	}
	return nil
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("proxy listening for RPC")
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.serveConn(conn)
	}
}

// Addr returns the listener address once Serve has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// OpenSessions reports how many sessions are bound and not yet released.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	s.wg.Done()
}

func (s *Server) openSession() string {
	token := s.newToken()
	s.mu.Lock()
	s.sessions[token] = struct{}{}
	s.mu.Unlock()
	return token
}

func (s *Server) dropSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	var token string
	defer func() {
		if token != "" {
			s.dropSession(token)
			logger.Info().Str("session", token).Msg("session dropped with connection")
		}
	}()

	for {
		var req request
		if _, err := readFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("read request")
			}
			return
		}

		rep := reply{ID: req.ID}
		done := false
		switch {
		case req.Code == CodeConnect:
			if token != "" {
				rep.Status, rep.Error = transport.StatusInvalid, "session already bound on this connection"
				break
			}
			if err := s.admit(arg(req.Args, 0)); err != nil {
				logger.Warn().Err(err).Msg("session rejected")
				rep.Status, rep.Error = transport.StatusConnectionFailed, err.Error()
				done = true
				break
			}
			token = s.openSession()
			rep.Body = token
			logger.Info().Str("session", token).Msg("session opened")
		case token == "" || req.Session != token:
			rep.Status, rep.Error = transport.StatusConnectionError, "invalid session"
		case req.Code == CodeInfo:
			logger.Info().Msg("receive INFO_RPC request")
			rep.Body, rep.Status, rep.Error = result(s.handler.ClusterInfo(s.ctx))
		case req.Code == CodeSparql:
			logger.Info().Msg("receive SPARQL_RPC request")
			rep.Body, rep.Status, rep.Error = result(s.handler.ExecuteSparql(s.ctx, arg(req.Args, 0), arg(req.Args, 1)))
		case req.Code == CodeDisconnect:
			s.dropSession(token)
			logger.Info().Str("session", token).Msg("session released")
			token = ""
			done = true
		default:
			rep.Status, rep.Error = transport.StatusInvalid, fmt.Sprintf("unknown rpc code %#x", req.Code)
		}

		if _, err := writeFrame(conn, rep); err != nil {
			logger.Debug().Err(err).Msg("write reply")
			return
		}
		if done {
			return
		}
	}
}

func result(body string, err error) (string, int, string) {
	if err == nil {
		return body, transport.StatusOK, ""
	}
	var remote *transport.RemoteError
	if errors.As(err, &remote) {
		return "", remote.Code, remote.Message
	}
	return "", transport.StatusEngineError, err.Error()
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
