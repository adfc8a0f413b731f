package dbpool

import (
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sketchsage/server/internal/metrics"
)

func TestStatsReporterUpdatesGauge(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	stop := startStatsReporter(func() sql.DBStats {
		return sql.DBStats{OpenConnections: 7}
	}, m, 10*time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if promtest.ToFloat64(m.DBConnectionsActive) == 7 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gauge never reached 7, got %.0f", promtest.ToFloat64(m.DBConnectionsActive))
}

func TestStatsReporterStops(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	calls := make(chan struct{}, 64)
	stop := startStatsReporter(func() sql.DBStats {
		select {
		case calls <- struct{}{}:
		default:
		}
		return sql.DBStats{}
	}, m, time.Millisecond)

	// Wait for at least one sample, then stop and verify sampling ceases.
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter never sampled")
	}
	stop()

	time.Sleep(20 * time.Millisecond)
	drain(calls)
	time.Sleep(20 * time.Millisecond)
	if len(calls) != 0 {
		t.Error("reporter kept sampling after stop")
	}
}

func drain(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
