package observability_test

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"railledger/internal/observability"
)

// NewMetrics registers every collector against the default Prometheus
// registry by name, so only one instance may be constructed per test
// binary — a second call would panic on duplicate registration. All
// metrics subtests below share this single instance.
var (
	sharedMetrics     *observability.Metrics
	sharedMetricsOnce sync.Once
)

func metricsForTest(t *testing.T) *observability.Metrics {
	t.Helper()
	sharedMetricsOnce.Do(func() {
		sharedMetrics = observability.NewMetrics()
	})
	return sharedMetrics
}

func TestNewMetrics_PopulatesEveryCollector(t *testing.T) {
	m := metricsForTest(t)

	if m.CommandsApplied == nil || m.CommandsRejected == nil || m.CommandDuration == nil {
		t.Fatal("dispatcher metrics should be non-nil")
	}
	if m.SettlementsCompleted == nil || m.SettlementAmount == nil {
		t.Fatal("settlement metrics should be non-nil")
	}
	if m.PersistCommandsWritten == nil || m.PersistErrors == nil {
		t.Fatal("persistence metrics should be non-nil")
	}
	if m.QueryRequests == nil || m.QueryDuration == nil {
		t.Fatal("query metrics should be non-nil")
	}
}

func TestSetChannelMetrics_ComputesUtilization(t *testing.T) {
	m := metricsForTest(t)

	m.SetChannelMetrics("persist", 5, 10)

	size := testutil.ToFloat64(m.ChannelSize.WithLabelValues("persist"))
	capacity := testutil.ToFloat64(m.ChannelCapacity.WithLabelValues("persist"))
	util := testutil.ToFloat64(m.ChannelUtilization.WithLabelValues("persist"))

	if size != 5 {
		t.Errorf("channel size = %v, want 5", size)
	}
	if capacity != 10 {
		t.Errorf("channel capacity = %v, want 10", capacity)
	}
	if util != 0.5 {
		t.Errorf("channel utilization = %v, want 0.5", util)
	}
}

func TestSetChannelMetrics_ZeroCapacitySkipsUtilization(t *testing.T) {
	m := metricsForTest(t)

	// A zero capacity must not divide-by-zero; utilization simply isn't set.
	m.SetChannelMetrics("empty", 0, 0)
}
