package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce             sync.Once
	metricsInitErr          error
	batchCounter            metric.Int64Counter
	eventCounter            metric.Int64Counter
	droppedEventCounter     metric.Int64Counter
	frictionPatternCounter  metric.Int64Counter
	insightLatencyHistogram metric.Float64Histogram
)

// BatchMetrics captures the fields needed to record batch ingestion metrics.
// Batch and session ids stay out of the attribute set to keep cardinality
// bounded.
type BatchMetrics struct {
	Status    string
	Received  int
	Processed int
	Dropped   int
}

// RecordBatchMetrics emits counters describing one batch ingestion.
func RecordBatchMetrics(ctx context.Context, metrics BatchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("batch.status", metrics.Status),
	}

	batchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Processed > 0 {
		eventCounter.Add(ctx, int64(metrics.Processed), metric.WithAttributes(attrs...))
	}
	if metrics.Dropped > 0 {
		droppedEventCounter.Add(ctx, int64(metrics.Dropped), metric.WithAttributes(attrs...))
	}
}

// RecordInsightMetrics emits the generation latency and per-pattern counts
// for one insight read.
func RecordInsightMetrics(ctx context.Context, duration time.Duration, patternTypes []string) {
	if err := ensureMetrics(); err != nil {
		return
	}

	insightLatencyHistogram.Record(ctx, float64(duration)/float64(time.Millisecond))

	for _, patternType := range patternTypes {
		frictionPatternCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pattern.type", patternType),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("intent.ingest")

		batchCounter, metricsInitErr = meter.Int64Counter(
			"intent.ingest.batches_total",
			metric.WithDescription("Ingested batches partitioned by status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		eventCounter, metricsInitErr = meter.Int64Counter(
			"intent.ingest.events_total",
			metric.WithDescription("Events appended to session timelines"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		droppedEventCounter, metricsInitErr = meter.Int64Counter(
			"intent.ingest.events_dropped_total",
			metric.WithDescription("Events dropped during ingestion"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		frictionPatternCounter, metricsInitErr = meter.Int64Counter(
			"intent.insight.friction_patterns_total",
			metric.WithDescription("Friction patterns detected during insight generation"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		insightLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"intent.insight.generation_ms",
			metric.WithDescription("Observed insight generation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
