package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/agenthands/wukong/internal/config"
	"github.com/agenthands/wukong/internal/telemetry"
	"github.com/agenthands/wukong/pkg/wukong"
	"github.com/agenthands/wukong/pkg/wukong/transport"
)

// Cluster is the part of *wukong.Client the gateway forwards to.
type Cluster interface {
	ClusterInfo(ctx context.Context) (string, error)
	ExecuteQueryWithPlan(ctx context.Context, query, plan string) (string, error)
	State() wukong.State
}

type Options struct {
	Breaker  config.BreakerConfig
	Metrics  telemetry.Collector
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type Server struct {
	cluster  Cluster
	breaker  *gobreaker.CircuitBreaker[string]
	metrics  telemetry.Collector
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

func NewServer(cluster Cluster, opts Options) *Server {
	s := &Server{
		cluster:  cluster,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		logger:   opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}
	if opts.Breaker.Enabled {
		s.breaker = s.newBreaker(opts.Breaker)
		s.metrics.SetBreakerState(s.breaker.State().String())
	}
	s.metrics.SetClientState(cluster.State().String())
	return s
}

func (s *Server) newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[string] {
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "wukong-cluster",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.OpenTimeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// an engine-side error means the cluster answered; an oversize request never reached it
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, transport.ErrTooLarge) {
				return true
			}
			var rce *wukong.RemoteCallError
			if errors.As(err, &rce) {
				_, answered := rce.Status()
				return answered
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			s.metrics.SetBreakerState(to.String())
		},
	})
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/cluster/info", s.ClusterInfo)
	r.POST("/sparql", s.Query)
	r.GET("/healthz", s.Health)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// Run serves the gateway on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) ClusterInfo(c *gin.Context) {
	info, err := s.forward(c.Request.Context(), "info", func(ctx context.Context) (string, error) {
		return s.cluster.ClusterInfo(ctx)
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.String(http.StatusOK, info)
}

type QueryRequest struct {
	Query *string `json:"query"`
	Plan  string  `json:"plan"`
}

type QueryResponse struct {
	Result string `json:"result"`
}

func (s *Server) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Query == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	result, err := s.forward(c.Request.Context(), "sparql", func(ctx context.Context) (string, error) {
		return s.cluster.ExecuteQueryWithPlan(ctx, *req.Query, req.Plan)
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, QueryResponse{Result: result})
}

func (s *Server) Health(c *gin.Context) {
	state := s.cluster.State()
	code := http.StatusOK
	if state != wukong.StateConnected {
		code = http.StatusServiceUnavailable
	}
	body := gin.H{"client": state.String()}
	if s.breaker != nil {
		body["breaker"] = s.breaker.State().String()
	}
	c.JSON(code, body)
}

func (s *Server) forward(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	start := time.Now()
	var (
		out string
		err error
	)
	if s.breaker != nil {
		out, err = s.breaker.Execute(func() (string, error) {
			return fn(ctx)
		})
	} else {
		out, err = fn(ctx)
	}
	s.metrics.ObserveCall(op, outcome(err), time.Since(start))
	s.metrics.SetClientState(s.cluster.State().String())
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("cluster call failed")
	}
	return out, err
}

func outcome(err error) string {
	var rce *wukong.RemoteCallError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, wukong.ErrInvalidHandle):
		return "invalid_handle"
	case errors.Is(err, transport.ErrTooLarge):
		return "too_large"
	case errors.As(err, &rce) && rce.Timeout():
		return "timeout"
	case errors.As(err, &rce):
		if _, ok := rce.Status(); ok {
			return "remote_error"
		}
		return "transport_error"
	default:
		return "error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	var rce *wukong.RemoteCallError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cluster unavailable"})
	case errors.Is(err, wukong.ErrInvalidHandle):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cluster session closed"})
	case errors.Is(err, transport.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Query too large"})
	case errors.As(err, &rce) && rce.Timeout():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Cluster call timed out"})
	case errors.As(err, &rce):
		body := gin.H{"error": rce.Err.Error()}
		if code, ok := rce.Status(); ok {
			body["status"] = code
		}
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process request"})
	}
}
