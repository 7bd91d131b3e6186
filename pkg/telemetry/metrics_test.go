package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func setupTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordBatchMetrics(t *testing.T) {
	reader := setupTestMeterProvider(t)

	RecordBatchMetrics(context.Background(), BatchMetrics{
		Status:    "accepted",
		Received:  5,
		Processed: 4,
		Dropped:   1,
	})

	metrics := collectMetrics(t, reader)

	batches, ok := metrics["intent.ingest.batches_total"]
	if !ok {
		t.Fatalf("missing intent.ingest.batches_total metric")
	}
	batchData, ok := batches.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for batches metric")
	}
	if len(batchData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(batchData.DataPoints))
	}
	if batchData.DataPoints[0].Value != 1 {
		t.Fatalf("expected batch count 1, got %d", batchData.DataPoints[0].Value)
	}
	if value, ok := batchData.DataPoints[0].Attributes.Value(attribute.Key("batch.status")); !ok || value.AsString() != "accepted" {
		t.Fatalf("expected batch.status attribute to be accepted, got %v", value)
	}

	events, ok := metrics["intent.ingest.events_total"]
	if !ok {
		t.Fatalf("missing intent.ingest.events_total metric")
	}
	eventData := events.Data.(metricdata.Sum[int64])
	if eventData.DataPoints[0].Value != 4 {
		t.Fatalf("expected event count 4, got %d", eventData.DataPoints[0].Value)
	}

	dropped, ok := metrics["intent.ingest.events_dropped_total"]
	if !ok {
		t.Fatalf("missing intent.ingest.events_dropped_total metric")
	}
	droppedData := dropped.Data.(metricdata.Sum[int64])
	if droppedData.DataPoints[0].Value != 1 {
		t.Fatalf("expected dropped count 1, got %d", droppedData.DataPoints[0].Value)
	}
}

func TestRecordInsightMetrics(t *testing.T) {
	reader := setupTestMeterProvider(t)

	RecordInsightMetrics(context.Background(), 150*time.Millisecond,
		[]string{"performance_degradation", "cognitive_overload"})

	metrics := collectMetrics(t, reader)

	hist, ok := metrics["intent.insight.generation_ms"]
	if !ok {
		t.Fatalf("missing intent.insight.generation_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}

	patterns, ok := metrics["intent.insight.friction_patterns_total"]
	if !ok {
		t.Fatalf("missing intent.insight.friction_patterns_total metric")
	}
	patternData := patterns.Data.(metricdata.Sum[int64])
	if len(patternData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(patternData.DataPoints))
	}
}
