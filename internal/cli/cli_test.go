package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/wukong/internal/rpc"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_PATH", "WUKONG_HOST", "WUKONG_PORT", "WUKONG_TRANSPORT", "WUKONG_TIMEOUT",
		"WUKONG_USER", "WUKONG_PASSWORD", "GATEWAY_LISTEN", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func startProxy(t *testing.T, h *rpc.StaticHandler) (string, string) {
	t.Helper()
	srv := rpc.NewServer(h)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInfoCommand(t *testing.T) {
	clearEnv(t)
	host, port := startProxy(t, &rpc.StaticHandler{Info: rpc.DefaultClusterInfo(3, 0, 1)})

	out, err := run(t, "", "info", "--host", host, "--port", port, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "[Cluster Info]:\n\tnode num: 3\n\tcurrent node: 0\n\tproxy num(per node): 1\n\n", out)
}

func TestQueryCommand(t *testing.T) {
	clearEnv(t)
	h := &rpc.StaticHandler{
		Results: map[string]string{"ASK {}": "true"},
		Default: "none",
	}
	host, port := startProxy(t, h)

	t.Run("argument", func(t *testing.T) {
		out, err := run(t, "", "query", "ASK {}", "--host", host, "--port", port, "--log-level", "error")
		require.NoError(t, err)
		assert.Equal(t, "true\n", out)
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := run(t, "SELECT ?s WHERE { ?s ?p ?o }", "query", "--host", host, "--port", port, "--log-level", "error")
		require.NoError(t, err)
		assert.Equal(t, "none\n", out)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "q.sparql")
		require.NoError(t, os.WriteFile(path, []byte("ASK {}"), 0o644))
		out, err := run(t, "", "query", "-f", path, "--host", host, "--port", port, "--log-level", "error")
		require.NoError(t, err)
		assert.Equal(t, "true\n", out)
	})

	assert.Contains(t, h.Queries(), "SELECT ?s WHERE { ?s ?p ?o }")
}

func TestQueryRemoteFailure(t *testing.T) {
	clearEnv(t)
	host, port := startProxy(t, &rpc.StaticHandler{Err: assert.AnError})

	_, err := run(t, "", "query", "ASK {}", "--host", host, "--port", port, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute query")
}

func TestConfigFileAndEnv(t *testing.T) {
	clearEnv(t)
	host, port := startProxy(t, &rpc.StaticHandler{Info: "from config"})

	path := filepath.Join(t.TempDir(), "wukong.toml")
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	content := "[cluster]\nhost = \"" + host + "\"\nport = " + strconv.Itoa(p) + "\n\n[logging]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := run(t, "", "info", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "from config")

	t.Setenv("CONFIG_PATH", path)
	out, err = run(t, "", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "from config")
}

func TestFlagValidation(t *testing.T) {
	clearEnv(t)

	_, err := run(t, "", "info", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = run(t, "", "info", "--transport", "carrier-pigeon")
	require.Error(t, err)

	_, err = run(t, "", "info", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestReadQuery(t *testing.T) {
	_, err := readQuery(strings.NewReader(""), []string{"ASK {}"}, "q.sparql")
	assert.Error(t, err)

	q, err := readQuery(strings.NewReader("from stdin"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", q)
}

func TestServeStopsWhenSessionLost(t *testing.T) {
	blockUntilDone := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}

	sessionDone := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(sessionDone)
	}()
	err := serveUntilClosed(context.Background(), sessionDone, blockUntilDone)
	assert.ErrorIs(t, err, errSessionLost)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err = serveUntilClosed(ctx, make(chan struct{}), blockUntilDone)
	assert.NoError(t, err)
}

func TestQueryWithPlanFile(t *testing.T) {
	clearEnv(t)
	host, port := startProxy(t, &rpc.StaticHandler{Default: "ok"})

	planFile := filepath.Join(t.TempDir(), "plan.txt")
	require.NoError(t, os.WriteFile(planFile, []byte("?s <p> ?o ."), 0o644))

	out, err := run(t, "", "query", "ASK {}", "--plan-file", planFile, "--host", host, "--port", port, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}
