// Package telemetry provides the logging, metrics and tracing ambient
// stack shared by every ditox component: a Timer with the familiar
// start/stop/threshold shape, a Prometheus metrics registry, and an
// OpenTelemetry tracer, so every component emits one consistent shape
// of signal.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the package-wide tracer name components use when starting
// spans. No SDK is wired here; in the absence of an application-provided
// SDK, otel's global tracer is a safe no-op.
const tracerName = "github.com/ditox-dev/ditox"

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span and returns the derived context alongside an end
// function, so call sites read as:
//
//	ctx, end := telemetry.StartSpan(ctx, "store.AddText")
//	defer end()
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := Tracer().Start(ctx, name)
	return ctx, func() { span.End() }
}

// Timer tracks operation timing for logging, mirroring perf.Timer.
type Timer struct {
	name      string
	startTime time.Time
	logger    logrus.FieldLogger
}

// Start begins timing an operation.
func Start(name string, logger logrus.FieldLogger) *Timer {
	return &Timer{name: name, startTime: time.Now(), logger: logger}
}

// Stop ends timing and logs the duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.startTime)
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.name,
			"duration_ms": d.Milliseconds(),
		}).Debug("operation completed")
	}
	return d
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	d := time.Since(t.startTime)
	fields := logrus.Fields{"operation": t.name, "duration_ms": d.Milliseconds()}
	if t.logger != nil {
		if d > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return d
}

// Metrics wraps the Prometheus counters and gauges shared across watcher
// ticks, capture dedupe, and sync batches. A single Metrics is created by
// the daemon wiring (cmd/ditoxd) and passed by reference into each
// component; components check for a nil *Metrics, so tests can omit it.
type Metrics struct {
	WatcherTicks      prometheus.Counter
	WatcherErrors     *prometheus.CounterVec
	CaptureDedupeHits prometheus.Counter
	CaptureAdds       *prometheus.CounterVec
	ImagesSkippedCap  prometheus.Counter
	SyncBatchSize     *prometheus.HistogramVec
	SyncErrors        *prometheus.CounterVec
	BlobBudgetBytes   prometheus.Gauge
}

// NewMetrics registers a full set of ditox metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WatcherTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ditox_watcher_ticks_total",
			Help: "Number of capture watcher sampling ticks executed.",
		}),
		WatcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ditox_watcher_errors_total",
			Help: "Driver errors observed during capture ticks, by kind.",
		}, []string{"kind"}),
		CaptureDedupeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ditox_capture_dedupe_hits_total",
			Help: "Clipboard samples discarded because they matched the dedupe window.",
		}),
		CaptureAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ditox_capture_adds_total",
			Help: "Clips persisted by the capture watcher, by kind.",
		}, []string{"kind"}),
		ImagesSkippedCap: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ditox_images_skipped_cap_total",
			Help: "Images skipped for exceeding the per-session byte cap.",
		}),
		SyncBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ditox_sync_batch_size",
			Help:    "Row count of sync push/pull batches.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"direction"}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ditox_sync_errors_total",
			Help: "Sync push/pull failures, by direction.",
		}, []string{"direction"}),
		BlobBudgetBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ditox_blob_budget_bytes",
			Help: "Total bytes tracked by the advisory blob storage budget.",
		}),
	}
	reg.MustRegister(
		m.WatcherTicks, m.WatcherErrors, m.CaptureDedupeHits, m.CaptureAdds,
		m.ImagesSkippedCap, m.SyncBatchSize, m.SyncErrors, m.BlobBudgetBytes,
	)
	return m
}
