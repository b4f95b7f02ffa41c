// Package metrics exposes run counters in the Prometheus format
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
)

const namespace = "zoom_recordings"

// Metrics holds the counters of one run on a private registry. A nil
// *Metrics ignores every call.
type Metrics struct {
	registry *prometheus.Registry

	files       *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	rateLimited prometheus.Counter
	inFlight    prometheus.Gauge
}

// New creates and registers the counters
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Recording files by terminal outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes downloaded, or measured in size mode.",
		}, []string{"mode"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried requests by error kind.",
		}, []string{"kind"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Rate limit responses from the Zoom API.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Transfers currently streaming.",
		}),
	}
	m.registry.MustRegister(m.files, m.bytes, m.retries, m.rateLimited, m.inFlight)
	return m
}

// Registry returns the registry the counters live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FileDone counts a file that reached outcome
func (m *Metrics) FileDone(outcome string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(outcome).Inc()
}

// AddBytes counts bytes for mode
func (m *Metrics) AddBytes(mode string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(mode).Add(float64(n))
}

// Retry counts a retried request. Rate limits are also counted on their own.
func (m *Metrics) Retry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
	if kind == "rate_limit" {
		m.rateLimited.Inc()
	}
}

// TransferStarted and TransferFinished track streaming transfers
func (m *Metrics) TransferStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) TransferFinished() {
	if m != nil {
		m.inFlight.Dec()
	}
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Info("Started metrics listener at http://%s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
