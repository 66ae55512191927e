// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musicbox"

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestDurations *prometheus.SummaryVec
	requestBytes     *prometheus.CounterVec
	responseBytes    *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	blobBytesServed  prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDurations: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace:  namespace,
				Subsystem:  "http",
				Name:       "request_duration_seconds",
				Help:       "Seconds spent serving HTTP requests.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"handler", "code"},
		),
		requestBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_bytes_total",
				Help:      "Total volume of request payloads.",
			},
			[]string{"handler"},
		),
		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_bytes_total",
				Help:      "Total volume of response payloads.",
			},
			[]string{"handler"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Media uploads by result.",
			},
			[]string{"result"},
		),
		blobBytesServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_bytes_served_total",
				Help:      "Blob bytes streamed to clients.",
			},
		),
	}

	m.registry.MustRegister(
		m.requestDurations,
		m.requestBytes,
		m.responseBytes,
		m.uploads,
		m.blobBytesServed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Upload counts one upload outcome: "ok", "invalid" or "error".
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// BlobBytesServed adds n streamed bytes.
func (m *Metrics) BlobBytesServed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.blobBytesServed.Add(float64(n))
}

// Instrument records duration, status and payload sizes of next under name.
func (m *Metrics) Instrument(name string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		if r.ContentLength > 0 {
			m.requestBytes.WithLabelValues(name).Add(float64(r.ContentLength))
		}
		m.responseBytes.WithLabelValues(name).Add(float64(rw.written))
		m.requestDurations.WithLabelValues(name, strconv.Itoa(rw.status())).Observe(time.Since(start).Seconds())
	})
}

type countingWriter struct {
	http.ResponseWriter
	code    int
	written int64
}

func (w *countingWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *countingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *countingWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}
