// Package metrics defines the Prometheus collectors for the store and the
// HTTP surface, and exposes a scrape handler.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragstore"

// Metrics holds all Prometheus collectors. It satisfies vectorstore.Observer.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        prometheus.Histogram
	SearchResultsCount   prometheus.Histogram
	AddLatency           prometheus.Histogram
	PassagesEmbedded     prometheus.Counter
	StorePassages        prometheus.Gauge
	BootstrapsTotal      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed.",
		}),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Similarity searches by outcome (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Similarity search latency including query embedding.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SearchResultsCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results_count",
			Help:      "Number of passages returned per search.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		AddLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "add_latency_seconds",
			Help:      "Time to embed and insert a batch of passages.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		PassagesEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passages_embedded_total",
			Help:      "Passages embedded and inserted into the store.",
		}),
		StorePassages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_passages",
			Help:      "Passages held by the ready store.",
		}),
		BootstrapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstraps_total",
				Help:      "Store bootstraps by terminal state.",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.AddLatency,
		m.PassagesEmbedded,
		m.StorePassages,
		m.BootstrapsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSearch implements vectorstore.Observer.
func (m *Metrics) ObserveSearch(elapsed time.Duration, results int, err error) {
	m.SearchLatency.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		m.SearchesTotal.WithLabelValues("error").Inc()
	case results == 0:
		m.SearchesTotal.WithLabelValues("zero_result").Inc()
		m.SearchResultsCount.Observe(0)
	default:
		m.SearchesTotal.WithLabelValues("hit").Inc()
		m.SearchResultsCount.Observe(float64(results))
	}
}

// ObserveAdd implements vectorstore.Observer.
func (m *Metrics) ObserveAdd(elapsed time.Duration, passages int, err error) {
	m.AddLatency.Observe(elapsed.Seconds())
	if err == nil {
		m.PassagesEmbedded.Add(float64(passages))
	}
}

// ObserveBootstrap records the terminal state and size of a ready store.
func (m *Metrics) ObserveBootstrap(state string, passages int) {
	m.BootstrapsTotal.WithLabelValues(state).Inc()
	m.StorePassages.Set(float64(passages))
}

// RegisterCacheStats exposes embedding cache counters read from stats.
func (m *Metrics) RegisterCacheStats(stats func() (hits, misses int64)) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Embedding cache hits.",
		}, func() float64 { h, _ := stats(); return float64(h) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Embedding cache misses.",
		}, func() float64 { _, mi := stats(); return float64(mi) }),
	)
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records HTTP request count, latency, and in-flight gauge.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// Hijack hands the connection over, e.g. for a websocket upgrade. A hijacked
// request is counted as 101 Switching Protocols.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", sw.ResponseWriter)
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		sw.status = http.StatusSwitchingProtocols
		sw.wroteHeader = true
	}
	return conn, rw, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
