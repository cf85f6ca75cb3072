// Package bolt forwards cluster operations over the Bolt protocol, for
// deployments that front the engine with a Bolt-speaking gateway.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/agenthands/wukong/pkg/wukong/transport"
)

type Dialer struct {
	Username string
	Password string
	Logger   zerolog.Logger
}

func URI(host string, port int) string {
	return "bolt://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func (d *Dialer) Dial(ctx context.Context, host string, port int) (transport.Session, error) {
	uri := URI(host, port)
	auth := neo4j.NoAuth()
	if d.Username != "" {
		auth = neo4j.BasicAuth(d.Username, d.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create bolt driver for %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		var neoErr *neo4j.Neo4jError
		if errors.As(err, &neoErr) {
			return nil, fmt.Errorf("verify %s: %w: %w", uri, transport.ErrRejected, err)
		}
		return nil, fmt.Errorf("verify %s: %w", uri, err)
	}

	d.Logger.Debug().Str("uri", uri).Msg("connected over bolt")
	return &session{driver: driver, uri: uri}, nil
}

type session struct {
	mu     sync.Mutex
	driver neo4j.DriverWithContext
	uri    string
	closed bool
}

func (s *session) Call(ctx context.Context, op transport.Op, args ...string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", fmt.Errorf("%w: bolt session to %s is closed", transport.ErrBroken, s.uri)
	}

	switch op {
	case transport.OpInfo:
		info, err := s.driver.GetServerInfo(ctx)
		if err != nil {
			return "", classify(ctx, err)
		}
		v := info.ProtocolVersion()
		return fmt.Sprintf("\taddress: %s\n\tagent: %s\n\tprotocol: %d.%d\n", info.Address(), info.Agent(), v.Major, v.Minor), nil
	case transport.OpSparql:
		if len(args) > 1 && args[1] != "" {
			return "", &transport.RemoteError{Code: transport.StatusInvalid, Message: "explicit plans are not supported over bolt"}
		}
		query := ""
		if len(args) > 0 {
			query = args[0]
		}
		result, err := neo4j.ExecuteQuery(ctx, s.driver, query, nil, neo4j.EagerResultTransformer)
		if err != nil {
			return "", classify(ctx, err)
		}
		return encodeResult(result)
	default:
		return "", fmt.Errorf("unsupported operation %s", op)
	}
}

func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.driver.Close(ctx)
}

type resultSet struct {
	Keys []string `json:"keys"`
	Rows [][]any  `json:"rows"`
}

func encodeResult(result *neo4j.EagerResult) (string, error) {
	rs := resultSet{Keys: result.Keys, Rows: make([][]any, 0, len(result.Records))}
	if rs.Keys == nil {
		rs.Keys = []string{}
	}
	for _, rec := range result.Records {
		rs.Rows = append(rs.Rows, rec.Values)
	}
	out, err := json.Marshal(rs)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(out), nil
}

func classify(ctx context.Context, err error) error {
	var neoErr *neo4j.Neo4jError
	switch {
	case errors.As(err, &neoErr):
		return &transport.RemoteError{Code: transport.StatusEngineError, Message: neoErr.Msg}
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
	default:
		return err
	}
}
