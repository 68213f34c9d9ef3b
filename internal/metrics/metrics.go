// Package metrics defines the Prometheus collectors of the federation
// service. All recording methods are safe on a nil *Metrics, which records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamware/vmm/internal/model"
)

const (
	Namespace = "vmm"

	EngineSubsystem     = "engine"
	RepositorySubsystem = "repository"
	PageCacheSubsystem  = "pagecache"
)

var (
	// OperationLabels label engine requests.
	OperationLabels = []string{"operation", "outcome"}
	// RepositoryLabels label per-repository series.
	RepositoryLabels = []string{"repository"}

	// LatencyBuckets cover repository calls from 1ms to 30s.
	LatencyBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}
)

// Metrics holds the collectors.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	repositoryCalls   *prometheus.CounterVec
	repositoryLatency *prometheus.HistogramVec
	repositorySkipped *prometheus.CounterVec
	repositoryUp      *prometheus.GaugeVec
	pageCacheLookups  *prometheus.CounterVec
	pageCacheEvicted  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: EngineSubsystem,
				Name:      "requests_total",
				Help:      "Engine requests by operation and outcome (ok or error kind).",
			},
			OperationLabels,
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: EngineSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Engine request latency by operation.",
				Buckets:   LatencyBuckets,
			},
			[]string{"operation"},
		),
		repositoryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: RepositorySubsystem,
				Name:      "calls_total",
				Help:      "Adapter calls by repository and outcome.",
			},
			append(RepositoryLabels, "outcome"),
		),
		repositoryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: RepositorySubsystem,
				Name:      "call_duration_seconds",
				Help:      "Adapter call latency by repository.",
				Buckets:   LatencyBuckets,
			},
			RepositoryLabels,
		),
		repositorySkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: RepositorySubsystem,
				Name:      "skipped_total",
				Help:      "Repositories left out of tolerant requests after a failure.",
			},
			RepositoryLabels,
		),
		repositoryUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: RepositorySubsystem,
				Name:      "up",
				Help:      "1 when the last health checks succeeded, 0 when the repository is down.",
			},
			RepositoryLabels,
		),
		pageCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: PageCacheSubsystem,
				Name:      "lookups_total",
				Help:      "Paged search lookups by result (hit or miss).",
			},
			[]string{"result"},
		),
		pageCacheEvicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: PageCacheSubsystem,
				Name:      "evictions_total",
				Help:      "Page cache removals by reason.",
			},
			[]string{"reason"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.requestDuration,
		m.repositoryCalls, m.repositoryLatency, m.repositorySkipped, m.repositoryUp,
		m.pageCacheLookups, m.pageCacheEvicted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Outcome labels an error by its kind, or "ok".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.KindOf(err).String()
}

// RecordRequest records one engine request.
func (m *Metrics) RecordRequest(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, Outcome(err)).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRepository records one adapter call.
func (m *Metrics) ObserveRepository(id string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.repositoryCalls.WithLabelValues(id, Outcome(err)).Inc()
	m.repositoryLatency.WithLabelValues(id).Observe(elapsed.Seconds())
}

// RecordSkipped counts a repository left out of a tolerant request.
func (m *Metrics) RecordSkipped(id string) {
	if m == nil {
		return
	}
	m.repositorySkipped.WithLabelValues(id).Inc()
}

// SetRepositoryUp records the health of a repository.
func (m *Metrics) SetRepositoryUp(id string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.repositoryUp.WithLabelValues(id).Set(v)
}

// RecordPageLookup counts a paged search served from (hit) or missing in
// the page cache.
func (m *Metrics) RecordPageLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.pageCacheLookups.WithLabelValues(result).Inc()
}

// RecordEviction counts a page cache removal.
func (m *Metrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.pageCacheEvicted.WithLabelValues(reason).Inc()
}
