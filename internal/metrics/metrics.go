// Package metrics implements the injected metrics capability on top of
// Prometheus. Metric names and labels mirror what the dashboards and
// the ops watcher expect: request counters keyed by route and code,
// and per-dependency op counters keyed by op and result.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prometheus struct {
	registry *prometheus.Registry

	reqs   *prometheus.CounterVec
	reqLat *prometheus.HistogramVec

	cacheOps *prometheus.CounterVec
	cacheLat *prometheus.HistogramVec

	storeOps *prometheus.CounterVec
	storeLat *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		reqs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"route", "code"}),
		reqLat: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_latency_seconds",
			Help: "Request latency (s)",
		}, []string{"route"}),
		cacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_ops_total",
			Help: "Redis operations",
		}, []string{"op", "result"}),
		cacheLat: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "redis_op_latency_seconds",
			Help: "Redis op latency (s)",
		}, []string{"op"}),
		storeOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "db_ops_total",
			Help: "DB operations",
		}, []string{"op", "result"}),
		storeLat: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "db_op_latency_seconds",
			Help: "DB op latency (s)",
		}, []string{"op"}),
	}
}

func (p *Prometheus) ObserveRequest(route, code string, seconds float64) {
	p.reqs.WithLabelValues(route, code).Inc()
	p.reqLat.WithLabelValues(route).Observe(seconds)
}

func (p *Prometheus) ObserveCacheOp(op, result string, seconds float64) {
	p.cacheOps.WithLabelValues(op, result).Inc()
	p.cacheLat.WithLabelValues(op).Observe(seconds)
}

func (p *Prometheus) ObserveStoreOp(op, result string, seconds float64) {
	p.storeOps.WithLabelValues(op, result).Inc()
	p.storeLat.WithLabelValues(op).Observe(seconds)
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Nop discards every observation. Used in tests and as a default when
// no sink is wired.
type Nop struct{}

func (Nop) ObserveRequest(route, code string, seconds float64) {}
func (Nop) ObserveCacheOp(op, result string, seconds float64)  {}
func (Nop) ObserveStoreOp(op, result string, seconds float64)  {}
