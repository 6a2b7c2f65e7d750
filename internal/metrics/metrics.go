// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the daemon's counters and histograms.
type Metrics struct {
	SyncsTotal       *prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	HeaderMismatches prometheus.Counter
	SyncDuration     *prometheus.HistogramVec
}

// New registers the daemon metrics on a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		SyncsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabsync_syncs_total",
			Help: "Completed sync attempts by mode and result.",
		}, []string{"mode", "result"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabsync_retries_total",
			Help: "Remote operation retries.",
		}),
		HeaderMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabsync_header_mismatches_total",
			Help: "Syncs rejected because the local header diverged from the table schema.",
		}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabsync_sync_duration_seconds",
			Help:    "Wall time of a sync from event to committed state.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
	}
	return m, reg
}

// Serve exposes /metrics on addr until ctx is cancelled. Returns when the
// server has shut down.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
