// Package metrics provides Prometheus collectors for redtap runs.
//
// # Basic Usage
//
//	// Count emitted records
//	metrics.RecordsEmitted.WithLabelValues("public-orders", "bulk_export").Inc()
//
//	// Time an export job
//	timer := metrics.NewTimer()
//	err := job.Run(ctx)
//	metrics.ExportJobDuration.WithLabelValues(string(job.State())).Observe(timer.Stop().Seconds())
//
// Collectors register with the default registry on package load; Serve
// exposes them over HTTP when metrics_addr is set.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/logger"
)

var (
	// RecordsEmitted tracks RECORD messages written per stream.
	// Labels: stream, strategy (direct/bulk_export)
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redtap_records_emitted_total",
			Help: "Total number of RECORD messages emitted",
		},
		[]string{"stream", "strategy"},
	)

	// StreamsFinished tracks stream outcomes.
	// Labels: status (success/failure/skipped)
	StreamsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redtap_streams_finished_total",
			Help: "Streams finished by outcome",
		},
		[]string{"status"},
	)

	// ExportJobDuration tracks bulk export job wall time by terminal state.
	ExportJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redtap_export_job_duration_seconds",
			Help:    "Bulk export job duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"state"},
	)

	// ActiveExportJobs tracks export jobs between ISSUED and a terminal state
	ActiveExportJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redtap_export_jobs_active",
			Help: "Number of bulk export jobs in flight",
		},
	)

	// ExportFilesDownloaded tracks staged shards fetched from object storage
	ExportFilesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redtap_export_files_downloaded_total",
			Help: "Staged export files downloaded",
		},
	)

	// ExportBytesDownloaded tracks bytes fetched from object storage
	ExportBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redtap_export_bytes_downloaded_total",
			Help: "Staged export bytes downloaded",
		},
	)

	// CleanupFailures tracks staged prefixes that could not be fully removed
	CleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redtap_export_cleanup_failures_total",
			Help: "Export cleanups that left objects behind",
		},
	)

	// StateCheckpoints tracks STATE messages emitted per stream
	StateCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redtap_state_checkpoints_total",
			Help: "STATE messages emitted",
		},
		[]string{"stream"},
	)
)

// Timer measures elapsed wall time from creation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts serving the default registry on addr in the background.
func Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
