package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance. A no-op handle until Init swaps in the
	// production logger, so callers never need a nil check.
	Logger = zap.NewNop()

	// Metrics
	restrictionsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrictions_applied_total",
			Help: "Total number of restrictions applied",
		},
		[]string{"kind"},
	)

	restrictionsLiftedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrictions_lifted_total",
			Help: "Total number of restrictions lifted",
		},
		[]string{"kind", "cause"},
	)

	liftFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restriction_lift_failures_total",
			Help: "Total number of failed lift attempts",
		},
		[]string{"kind", "cause"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restriction_sweep_duration_seconds",
			Help:    "Time spent per expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	xpAwardsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xp_awards_total",
			Help: "Total number of XP awards granted",
		},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	// Initialize logger
	production, err := zap.NewProduction()
	if err != nil {
		return err
	}
	Logger = production

	// Register metrics
	prometheus.MustRegister(restrictionsAppliedTotal)
	prometheus.MustRegister(restrictionsLiftedTotal)
	prometheus.MustRegister(liftFailuresTotal)
	prometheus.MustRegister(sweepDuration)
	prometheus.MustRegister(xpAwardsTotal)

	// Setup OpenTelemetry (simplified setup)
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	// Start Prometheus metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

func RecordRestrictionApplied(kind string) {
	restrictionsAppliedTotal.WithLabelValues(kind).Inc()
}

func RecordRestrictionLifted(kind, cause string) {
	restrictionsLiftedTotal.WithLabelValues(kind, cause).Inc()
}

func RecordLiftFailure(kind, cause string) {
	liftFailuresTotal.WithLabelValues(kind, cause).Inc()
}

func RecordXPAward() {
	xpAwardsTotal.Inc()
}

// StartSweep returns a function that records the sweep duration when called.
func StartSweep() func() {
	timer := prometheus.NewTimer(sweepDuration)
	return func() { timer.ObserveDuration() }
}
