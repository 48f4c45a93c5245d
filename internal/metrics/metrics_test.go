package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestDefaultMetricsRecord(t *testing.T) {
	m := DefaultMetrics

	before := counterValue(t, m.Submissions.WithLabelValues("ok"))
	m.RecordSubmission("ok")
	if got := counterValue(t, m.Submissions.WithLabelValues("ok")); got != before+1 {
		t.Errorf("expected submissions to grow by 1, got %v -> %v", before, got)
	}

	m.RecordConnected("measurements", true)
	var g dto.Metric
	if err := m.TransportState.WithLabelValues("measurements").Write(&g); err != nil {
		t.Fatal(err)
	}
	if g.GetGauge().GetValue() != 1 {
		t.Errorf("expected connected gauge 1, got %v", g.GetGauge().GetValue())
	}
	m.RecordConnected("measurements", false)
	if err := m.TransportState.WithLabelValues("measurements").Write(&g); err != nil {
		t.Fatal(err)
	}
	if g.GetGauge().GetValue() != 0 {
		t.Errorf("expected connected gauge 0, got %v", g.GetGauge().GetValue())
	}
}
