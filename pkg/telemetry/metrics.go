package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/exshield/exshield/pkg/expr"
)

// Admission outcomes recorded on the check counter.
const (
	OutcomeAdmitted = "admitted"
	OutcomeBypassed = "bypassed"
	OutcomeRejected = "rejected"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	checkCounter     metric.Int64Counter
	checkLatency     metric.Float64Histogram
	rejectionCounter metric.Int64Counter
)

// RecordCheck emits the counters and histogram describing one admission check.
// Kind and rule are empty for admitted requests.
func RecordCheck(ctx context.Context, outcome, kind, rule string, duration time.Duration) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("shield.outcome", outcome),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String("shield.rejection_kind", kind))
	}
	if rule != "" {
		attrs = append(attrs, attribute.String("shield.rule", rule))
	}

	checkCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if duration > 0 {
		checkLatency.Record(ctx, float64(duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if outcome == OutcomeRejected {
		rejectionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// ObserveCache registers observable instruments reporting the compiled
// expression cache's hit, miss, and occupancy statistics. The returned
// registration must be unregistered when the owning shield is replaced,
// otherwise the superseded cache keeps feeding the shared instrument names
// and shadows the live one. Failures yield a nil registration: a process
// without a metrics SDK installed simply records nothing.
func ObserveCache(cache *expr.Cache) metric.Registration {
	if cache == nil {
		return nil
	}

	meter := otel.GetMeterProvider().Meter("exshield")

	hits, err := meter.Int64ObservableCounter(
		"exshield.expr_cache.hits_total",
		metric.WithDescription("Compiled-expression cache hits"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil
	}
	misses, err := meter.Int64ObservableCounter(
		"exshield.expr_cache.misses_total",
		metric.WithDescription("Compiled-expression cache misses"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil
	}
	entries, err := meter.Int64ObservableGauge(
		"exshield.expr_cache.entries",
		metric.WithDescription("Compiled expressions currently cached"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		h, m := cache.Stats()
		o.ObserveInt64(hits, int64(h))
		o.ObserveInt64(misses, int64(m))
		o.ObserveInt64(entries, int64(cache.Len()))
		return nil
	}, hits, misses, entries)
	if err != nil {
		return nil
	}
	return reg
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("exshield")

		checkCounter, metricsInitErr = meter.Int64Counter(
			"exshield.checks_total",
			metric.WithDescription("Admission checks partitioned by outcome"),
			metric.WithUnit("{check}"),
		)
		if metricsInitErr != nil {
			return
		}

		checkLatency, metricsInitErr = meter.Float64Histogram(
			"exshield.check.duration",
			metric.WithDescription("Admission check latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectionCounter, metricsInitErr = meter.Int64Counter(
			"exshield.rejections_total",
			metric.WithDescription("Rejected requests partitioned by kind and rule"),
			metric.WithUnit("{request}"),
		)
	})
	return metricsInitErr
}
