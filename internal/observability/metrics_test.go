package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncRequest("completed")
	m.IncDispatch("add_transaction", true)
	m.ObserveRound("round1", time.Second)
	m.IncChunks(3)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IncRequest("completed")
	m.IncRequest("completed")
	m.IncRequest("fallback")
	m.IncDispatch("add_transaction", true)
	m.IncDispatch("add_transaction", false)
	m.IncChunks(5)
	m.IncChunks(0)

	if got := testutil.ToFloat64(m.chatRequests.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed requests = %v", got)
	}
	if got := testutil.ToFloat64(m.chatRequests.WithLabelValues("fallback")); got != 1 {
		t.Errorf("fallback requests = %v", got)
	}
	if got := testutil.ToFloat64(m.toolDispatch.WithLabelValues("add_transaction", "false")); got != 1 {
		t.Errorf("failed dispatches = %v", got)
	}
	if got := testutil.ToFloat64(m.streamChunks); got != 5 {
		t.Errorf("chunks = %v", got)
	}
}
