package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics contains the collected metrics
type Metrics struct {
	registry      *prometheus.Registry
	totalBackups  *prometheus.CounterVec
	totalRestores *prometheus.CounterVec
	backupSuccess prometheus.Gauge
	backupSize    prometheus.Gauge
	totalErrors   *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
}

// New generates new metrics
func New() *Metrics {
	backupSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wpdocker_backup_success",
		Help: "is 1 when the last backup was successful, otherwise 0",
	},
	)

	totalBackups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpdocker_backup_total_backups",
		Help: "total number of successful backups",
	},
		[]string{"provider"},
	)

	totalRestores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpdocker_backup_total_restores",
		Help: "total number of successful restores",
	},
		[]string{"type"},
	)

	totalErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpdocker_backup_errors",
		Help: "total number of errors during backups",
	},
		[]string{"operation"},
	)

	backupSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wpdocker_backup_size",
		Help: "size of last backup in bytes",
	},
	)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wpdocker_scheduled_job_runs",
		Help: "total number of scheduled job runs",
	},
		[]string{"job_type", "status"},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(backupSuccess, totalBackups, totalRestores, totalErrors, backupSize, jobRuns)

	return &Metrics{
		registry:      registry,
		totalBackups:  totalBackups,
		totalRestores: totalRestores,
		backupSuccess: backupSuccess,
		totalErrors:   totalErrors,
		backupSize:    backupSize,
		jobRuns:       jobRuns,
	}
}

// Start serves the metrics on addr until the context is done
func (m *Metrics) Start(ctx context.Context, log *zap.SugaredLogger, addr string) {
	log.Infow("starting metrics server", "addr", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`<html>
			<head><title>wp-docker backup metrics</title></head>
			<body>
			<h1>wp-docker backup metrics</h1>
			<p><a href='/metrics'>Metrics</a></p></body></html>`))
		if err != nil {
			log.Errorw("error handling metrics root endpoint", "error", err)
		}
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 1 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()
}

// CountBackup updates metrics counter
func (m *Metrics) CountBackup(provider string, size int64) {
	m.totalBackups.With(prometheus.Labels{"provider": provider}).Inc()
	m.backupSuccess.Set(1)
	m.backupSize.Set(float64(size))
}

// CountRestore increases the restore counter for the given backup type
func (m *Metrics) CountRestore(backupType string) {
	m.totalRestores.With(prometheus.Labels{"type": backupType}).Inc()
}

// CountError increases error counter for the given operation
func (m *Metrics) CountError(op string) {
	m.totalErrors.With(prometheus.Labels{"operation": op}).Inc()
	m.backupSuccess.Set(0)
}

// CountJobRun increases the counter of scheduled job runs
func (m *Metrics) CountJobRun(jobType, status string) {
	m.jobRuns.With(prometheus.Labels{"job_type": jobType, "status": status}).Inc()
}
