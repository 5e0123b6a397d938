package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_IncAndAdd(t *testing.T) {
	r := NewRegistry()

	r.Inc(CyclesTotal)
	r.Add(CyclesTotal, 2)

	assert.Equal(t, 3.0, r.Value(CyclesTotal))
}

func TestRegistry_LabelsAreIndependent(t *testing.T) {
	r := NewRegistry()

	r.Inc(DeliveriesTotal, "channel", "log", "result", "ok")
	r.Inc(DeliveriesTotal, "channel", "log", "result", "ok")
	r.Inc(DeliveriesTotal, "channel", "push", "result", "error")

	assert.Equal(t, 2.0, r.Value(DeliveriesTotal, "channel", "log", "result", "ok"))
	assert.Equal(t, 2.0, r.Value(DeliveriesTotal, "result", "ok", "channel", "log"))
	assert.Equal(t, 1.0, r.Value(DeliveriesTotal, "channel", "push", "result", "error"))
	assert.Equal(t, 0.0, r.Value(DeliveriesTotal, "channel", "email", "result", "ok"))
}

func TestRegistry_SetGauge(t *testing.T) {
	r := NewRegistry()
	r.Set(DaemonRunning, 1)
	r.Set(DaemonRunning, 0)
	assert.Equal(t, 0.0, r.Value(DaemonRunning))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	r.Inc(CyclesTotal)
	r.Set(DaemonRunning, 1)
	assert.Equal(t, 0.0, r.Value(CyclesTotal))
	assert.Empty(t, r.Snapshot())
	assert.NoError(t, r.WriteText(&bytes.Buffer{}))
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	workers, increments := 50, 100
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				r.Inc(AlertsTotal, "source", "db_pool", "priority", "critical")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(workers*increments), r.Value(AlertsTotal, "source", "db_pool", "priority", "critical"))
}

func TestRegistry_SnapshotKeys(t *testing.T) {
	r := NewRegistry()
	r.Inc(CyclesTotal)
	r.Inc(CheckFailuresTotal, "check", "host")

	snap := r.Snapshot()
	assert.Equal(t, 1.0, snap["sentinel_cycles_total"])
	assert.Equal(t, 1.0, snap[`sentinel_check_failures_total{check="host"}`])
}

func TestRegistry_WriteTextRoundTrips(t *testing.T) {
	r := NewRegistry()
	r.Add(CyclesTotal, 7)
	r.Set(DaemonRunning, 1)
	r.Inc(ActionsTotal, "type", "restart", "status", "succeeded")

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.True(t, strings.Contains(buf.String(), "# TYPE sentinel_cycles_total counter"))

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	require.NoError(t, err)

	require.Contains(t, mfs, "sentinel_cycles_total")
	assert.Equal(t, 7.0, mfs["sentinel_cycles_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, mfs["sentinel_daemon_running"].GetMetric()[0].GetGauge().GetValue())

	labels := mfs["sentinel_actions_total"].GetMetric()[0].GetLabel()
	require.Len(t, labels, 2)
	assert.Equal(t, "status", labels[0].GetName())
	assert.Equal(t, "type", labels[1].GetName())
}
