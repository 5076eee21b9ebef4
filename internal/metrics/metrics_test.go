package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "shard1")

	m.BatchCount.Set(3)
	m.FastPathFetches.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawBatchCount bool
	for _, f := range families {
		if f.GetName() == "stateversions_batch_count" {
			sawBatchCount = true
			require.Len(t, f.Metric, 1)
			require.Equal(t, float64(3), f.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, sawBatchCount)
}

func TestUnregisterRemovesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "shard1")
	m.Unregister()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}
