package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records gateway traffic towards the cluster.
type Collector interface {
	ObserveCall(op, outcome string, d time.Duration)
	SetBreakerState(state string)
	SetClientState(state string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveCall(string, string, time.Duration) {}
func (noopCollector) SetBreakerState(string)                    {}
func (noopCollector) SetClientState(string)                     {}

var (
	breakerStates = []string{"closed", "half-open", "open"}
	clientStates  = []string{"uninitialized", "connected", "closed"}
)

// PrometheusCollector exposes gateway metrics via Prometheus.
type PrometheusCollector struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	breaker *prometheus.GaugeVec
	client  *prometheus.GaugeVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered there.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	calls, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wukong_gateway_calls_total",
		Help: "Calls forwarded to the cluster by operation and outcome.",
	}, []string{"op", "outcome"}))
	if err != nil {
		return nil, err
	}
	latency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wukong_gateway_call_duration_seconds",
		Help:    "Latency of calls forwarded to the cluster.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"op"}))
	if err != nil {
		return nil, err
	}
	breaker, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wukong_gateway_breaker_state",
		Help: "Circuit breaker state in front of the cluster (1 for the current state).",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}
	client, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wukong_gateway_client_state",
		Help: "State of the gateway's cluster session (1 for the current state).",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{calls: calls, latency: latency, breaker: breaker, client: client}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (p *PrometheusCollector) ObserveCall(op, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.calls.WithLabelValues(op, outcome).Inc()
	p.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusCollector) SetBreakerState(state string) {
	if p == nil {
		return
	}
	setOneHot(p.breaker, breakerStates, state)
}

func (p *PrometheusCollector) SetClientState(state string) {
	if p == nil {
		return
	}
	setOneHot(p.client, clientStates, state)
}

func setOneHot(g *prometheus.GaugeVec, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		g.WithLabelValues(s).Set(v)
	}
}
