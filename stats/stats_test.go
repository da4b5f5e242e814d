package stats_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/lattice/stats"
)

func TestNopClientDiscardsEverything(t *testing.T) {
	assert.NotPanics(t, func() {
		stats.NopClient.Count("x", 1)
		stats.NopClient.Gauge("y", 1.0)
		stats.NopClient.Timing("z", time.Second)
	})
}

func TestPromClientCountSanitizesDottedNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := stats.NewPromClient("lattice", reg)

	// The storage engine names its metrics with dots (e.g.
	// "sm.tile_cache.hit"); Prometheus metric names permit only
	// [a-zA-Z0-9_:], so the client must sanitize before registering.
	c.Count("sm.tile_cache.hit", 1)
	c.Count("sm.tile_cache.hit", 2, "array-a")

	mf, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mf, 1)
	assert.Equal(t, "lattice_sm_tile_cache_hit", mf[0].GetName())

	var total float64
	for _, m := range mf[0].GetMetric() {
		total += m.GetCounter().GetValue()
	}
	assert.Equal(t, float64(3), total)
}

func TestPromClientGaugeReusesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := stats.NewPromClient("lattice", reg)

	c.Gauge("sm.in_progress", 1)
	c.Gauge("sm.in_progress", 5) // same metric name: must reuse, not re-register

	mf, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mf, 1)
	require.Len(t, mf[0].GetMetric(), 1)
	assert.Equal(t, float64(5), mf[0].GetMetric()[0].GetGauge().GetValue())
}
