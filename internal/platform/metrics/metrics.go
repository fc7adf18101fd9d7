package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the VOD pipeline.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	assetsIngestedTotal prometheus.Counter
	stageRunsTotal      *prometheus.CounterVec
	unitsCreatedTotal   prometheus.Counter
	unitsFailedTotal    prometheus.Counter
	engineTimeoutsTotal prometheus.Counter
	assetsTotal         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	assetsIngestedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_assets_ingested_total",
		Help: "Total number of assets ingested",
	})
	stageRunsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vod_stage_runs_total",
		Help: "Total number of completed stage invocations, by stage",
	}, []string{"stage"})
	unitsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_units_created_total",
		Help: "Total number of stage units (segments, rungs) that succeeded",
	})
	unitsFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_units_failed_total",
		Help: "Total number of stage units that failed",
	})
	engineTimeoutsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vod_engine_timeouts_total",
		Help: "Total number of engine invocations that exceeded their bound",
	})
	assetsTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vod_assets_total",
		Help: "Number of assets in the store",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		assetsIngestedTotal,
		stageRunsTotal,
		unitsCreatedTotal,
		unitsFailedTotal,
		engineTimeoutsTotal,
		assetsTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		assetsIngestedTotal: assetsIngestedTotal,
		stageRunsTotal:      stageRunsTotal,
		unitsCreatedTotal:   unitsCreatedTotal,
		unitsFailedTotal:    unitsFailedTotal,
		engineTimeoutsTotal: engineTimeoutsTotal,
		assetsTotal:         assetsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncAssetsIngested increments the ingested assets counter.
func (m *Metrics) IncAssetsIngested() {
	m.assetsIngestedTotal.Inc()
}

// IncStageRuns increments the stage run counter for the given stage.
func (m *Metrics) IncStageRuns(stage string) {
	m.stageRunsTotal.WithLabelValues(stage).Inc()
}

// AddUnitsCreated adds to the succeeded units counter.
func (m *Metrics) AddUnitsCreated(n int) {
	m.unitsCreatedTotal.Add(float64(n))
}

// AddUnitsFailed adds to the failed units counter.
func (m *Metrics) AddUnitsFailed(n int) {
	m.unitsFailedTotal.Add(float64(n))
}

// IncEngineTimeouts increments the engine timeout counter.
func (m *Metrics) IncEngineTimeouts() {
	m.engineTimeoutsTotal.Inc()
}

// SetAssets sets the stored assets gauge.
func (m *Metrics) SetAssets(n int) {
	m.assetsTotal.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. asset count).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
