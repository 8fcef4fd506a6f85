package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbguardian_backups_total",
			Help: "Backup invocations by outcome",
		},
		[]string{"status"}, // "success", "skipped", "failure"
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbguardian_backup_duration_seconds",
			Help:    "Wall time of completed backup pipelines",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"database"},
	)

	BackupUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbguardian_backup_uploads_total",
			Help: "Artifacts stored, by storage kind",
		},
		[]string{"storage"}, // "primary", "fallback"
	)

	ScheduleRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbguardian_schedule_refreshes_total",
			Help: "Dispatcher refreshes by result",
		},
		[]string{"result"},
	)

	ActiveTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbguardian_active_triggers",
			Help: "Schedules with a live trigger",
		},
	)

	ListenerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbguardian_listener_reconnects_total",
			Help: "Times the schedule change listener re-subscribed",
		},
	)

	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbguardian_change_events_total",
			Help: "Schedule change notifications received",
		},
		[]string{"action"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbguardian_circuit_breaker_state",
			Help: "0 = closed, 1 = half-open, 2 = open",
		},
		[]string{"name"},
	)
)

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
