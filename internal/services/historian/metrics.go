package historian

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics raccoglie le metriche dello storico su un registry proprio.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ingestedTotal     *prometheus.CounterVec
	ingestErrors      prometheus.Counter
	recomputeTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "historian_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_ingested_total",
			Help: "MQTT messages written to InfluxDB by kind.",
		}, []string{"kind"}),
		ingestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "historian_ingest_errors_total",
			Help: "MQTT messages that could not be decoded or written.",
		}),
		recomputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_recompute_total",
			Help: "State recomputations by outcome.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ingestedTotal,
		m.ingestErrors,
		m.recomputeTotal,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Ingested(kind string) { m.ingestedTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) IngestError() { m.ingestErrors.Inc() }

func (m *Metrics) Recompute(status string) { m.recomputeTotal.WithLabelValues(status).Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware misura le richieste usando il pattern chi come etichetta di route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
