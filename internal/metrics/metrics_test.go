package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, func() float64 { return 3 })

	m.Requests.WithLabelValues("playlist", OutcomeOK).Inc()
	m.Playlists.WithLabelValues("media").Add(2)
	m.SegmentBytes.Add(188)
	m.UpstreamDuration.WithLabelValues("segment").Observe(0.2)

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("playlist", OutcomeOK)); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentBytes); got != 188 {
		t.Errorf("expected 188 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.TrackedClients); got != 3 {
		t.Errorf("expected 3 tracked clients, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("expected 5 metric families, got %d", len(families))
	}
}

func TestNew_WithoutTrackedClients(t *testing.T) {
	m := New(prometheus.NewRegistry(), nil)
	if m.TrackedClients != nil {
		t.Error("expected no tracked clients gauge")
	}
}
