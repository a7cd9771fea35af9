// Package metrics exposes folio's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupBypass      = "bypass"
	LookupPassthrough = "passthrough"
)

// UnknownKind labels tasks whose kind is not registered with SetTaskKinds.
const UnknownKind = "unknown"

// Metrics tracks folio's Prometheus metrics.
//
// All metrics use the folio_ prefix. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// CacheLookups counts intercepted requests by lookup result
	CacheLookups *prometheus.CounterVec

	// Revalidations counts background refreshes by outcome
	Revalidations *prometheus.CounterVec

	// CacheWrites counts stored responses by generation kind ("static", "dynamic") and result
	CacheWrites *prometheus.CounterVec

	// Tasks counts executed tasks by kind and outcome
	Tasks *prometheus.CounterVec

	// TaskDuration tracks task latency by kind
	TaskDuration *prometheus.HistogramVec

	// TasksInFlight tracks tasks awaiting a reply
	TasksInFlight prometheus.Gauge

	// ModuleLoads counts module loads by outcome
	ModuleLoads *prometheus.CounterVec

	// WorkerState is the worker channel state as its ordinal
	WorkerState prometheus.Gauge

	gatherer prometheus.Gatherer

	kindsMu sync.RWMutex
	kinds   map[string]bool
}

// New creates folio metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg, reg)
}

// NewMetrics creates folio metrics registered on reg. gatherer backs Handler
// and may be nil when reg is prometheus.DefaultRegisterer.
//
// Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_cache_lookups_total",
				Help: "Intercepted requests by cache lookup result",
			},
			[]string{"result"},
		),
		Revalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_cache_revalidations_total",
				Help: "Background cache refreshes by outcome",
			},
			[]string{"outcome"}, // "updated", "skipped", "failed"
		),
		CacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_cache_writes_total",
				Help: "Stored responses by generation kind and result",
			},
			[]string{"generation", "result"},
		),
		Tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_tasks_total",
				Help: "Executed tasks by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "folio_task_duration_seconds",
				Help:    "Task round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		TasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "folio_tasks_in_flight",
				Help: "Tasks awaiting a reply from the background unit",
			},
		),
		ModuleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "folio_module_loads_total",
				Help: "Module loads by outcome",
			},
			[]string{"outcome"},
		),
		WorkerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "folio_worker_state",
				Help: "Worker channel state (0 uninitialized, 1 initializing, 2 ready, 3 terminated)",
			},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.CacheLookups,
		m.Revalidations,
		m.CacheWrites,
		m.Tasks,
		m.TaskDuration,
		m.TasksInFlight,
		m.ModuleLoads,
		m.WorkerState,
	)
	return m
}

// Handler serves the registered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordLookup counts one intercepted request.
func (m *Metrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordRevalidation counts one background refresh.
func (m *Metrics) RecordRevalidation(outcome string) {
	if m == nil {
		return
	}
	m.Revalidations.WithLabelValues(outcome).Inc()
}

// RecordWrite counts one cache write.
func (m *Metrics) RecordWrite(generation, result string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(generation, result).Inc()
}

// TaskStarted marks a task as in flight.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksInFlight.Inc()
}

// RecordTask records a completed task and clears it from the in-flight gauge.
func (m *Metrics) RecordTask(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	kind = m.kindLabel(kind)
	m.TasksInFlight.Dec()
	m.Tasks.WithLabelValues(kind, outcome).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetTaskKinds limits the kind label to kinds. Any other kind, including
// ones callers invent over the API, is recorded as UnknownKind. With no
// kinds set every kind is recorded as given.
func (m *Metrics) SetTaskKinds(kinds ...string) {
	if m == nil {
		return
	}
	set := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		set[kind] = true
	}
	m.kindsMu.Lock()
	m.kinds = set
	m.kindsMu.Unlock()
}

func (m *Metrics) kindLabel(kind string) string {
	m.kindsMu.RLock()
	defer m.kindsMu.RUnlock()
	if len(m.kinds) == 0 || m.kinds[kind] {
		return kind
	}
	return UnknownKind
}

// RecordModuleLoad counts one module load.
func (m *Metrics) RecordModuleLoad(outcome string) {
	if m == nil {
		return
	}
	m.ModuleLoads.WithLabelValues(outcome).Inc()
}

// SetWorkerState publishes the worker channel state ordinal.
func (m *Metrics) SetWorkerState(state int) {
	if m == nil {
		return
	}
	m.WorkerState.Set(float64(state))
}
