package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jabber-ai/jabber/internal/observe"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.STTDuration.Record(ctx, 0.12)
	m.RecordTurn(ctx, "ok")
	m.RecordPipelineError(ctx, "transcription")
	m.RecordDiscard(ctx, "too_short")
	m.ActiveSessions.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := map[string]bool{
		"jabber.stt.duration":         false,
		"jabber.turns":                false,
		"jabber.pipeline.errors":      false,
		"jabber.utterances.discarded": false,
		"jabber.active_sessions":      false,
	}
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			if _, ok := want[inst.Name]; ok {
				want[inst.Name] = true
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %q was not collected", name)
		}
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()

	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span: got %q, want empty", got)
	}
}
