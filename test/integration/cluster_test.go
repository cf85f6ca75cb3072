//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/wukong/internal/config"
	"github.com/agenthands/wukong/internal/server"
	"github.com/agenthands/wukong/pkg/wukong"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	_ = godotenv.Load("../../.env")

	if os.Getenv("WUKONG_HOST") == "" {
		t.Skip("Skipping integration test: WUKONG_HOST not set")
	}
	cfg, err := config.LoadOptional(os.Getenv("CONFIG_PATH"))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv(os.Getenv))
	require.NoError(t, cfg.Validate())
	return cfg
}

func connect(t *testing.T, cfg *config.Config) *wukong.Client {
	t.Helper()
	opts := []wukong.Option{
		wukong.WithTimeout(cfg.Cluster.Timeout.Duration),
		wukong.WithTransport(cfg.Cluster.Transport),
		wukong.WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
	}
	if cfg.Cluster.User != "" {
		opts = append(opts, wukong.WithBasicAuth(cfg.Cluster.User, cfg.Cluster.Password))
	}
	c, err := wukong.New(context.Background(), cfg.Cluster.Host, cfg.Cluster.Port, opts...)
	require.NoError(t, err)
	return c
}

func testQuery() string {
	if q := os.Getenv("WUKONG_TEST_QUERY"); q != "" {
		return q
	}
	// A leading comment keeps each run's query text distinct in proxy logs.
	return fmt.Sprintf("# run %s\nSELECT ?s WHERE { ?s ?p ?o } LIMIT 1", uuid.NewString())
}

func TestClusterSession(t *testing.T) {
	cfg := loadConfig(t)
	ctx := context.Background()

	c := connect(t, cfg)
	assert.Equal(t, wukong.StateConnected, c.State())

	info, err := c.ClusterInfo(ctx)
	require.NoError(t, err)
	t.Logf("Cluster Info: %s", info)

	// a second session can be acquired and released alongside the first
	c2 := connect(t, cfg)
	require.NoError(t, c2.Close(ctx))

	result, err := c.ExecuteQuery(ctx, testQuery())
	require.NoError(t, err)
	assert.NotEmpty(t, result)
	t.Logf("Query Result: %s", result)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, wukong.StateClosed, c.State())

	_, err = c.ExecuteQuery(ctx, testQuery())
	assert.ErrorIs(t, err, wukong.ErrInvalidHandle)

	var sb strings.Builder
	err = wukong.With(ctx, cfg.Cluster.Host, cfg.Cluster.Port, func(c *wukong.Client) error {
		return c.RetrieveClusterInfo(ctx)
	}, wukong.WithTransport(cfg.Cluster.Transport), wukong.WithInfoWriter(&sb),
		wukong.WithBasicAuth(cfg.Cluster.User, cfg.Cluster.Password))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sb.String(), "[Cluster Info]:\n"))
}

func TestGatewayAgainstCluster(t *testing.T) {
	cfg := loadConfig(t)
	gin.SetMode(gin.TestMode)
	q := testQuery()

	c := connect(t, cfg)
	defer c.Close(context.Background())

	srv := server.NewServer(c, server.Options{Breaker: cfg.Breaker, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.SetupRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/cluster/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := json.Marshal(server.QueryRequest{Query: &q})
	require.NoError(t, err)
	resp, err = http.Post(ts.URL+"/sparql", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
