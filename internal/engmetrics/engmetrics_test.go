package engmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_CreatesAndIncrementsCounter(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	require.NoError(t, reg.Observe(KindCounter, "rules_evaluated_total", map[string]string{"rule": "r1"}, 1))
	require.NoError(t, reg.Observe(KindCounter, "rules_evaluated_total", map[string]string{"rule": "r1"}, 1))

	c, ok := reg.counters["rules_evaluated_total"]
	require.True(t, ok)
	assert.Equal(t, float64(2), testutil.ToFloat64(c.WithLabelValues("r1")))
}

func TestObserve_RejectsLabelSchemaMismatch(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	require.NoError(t, reg.Observe(KindGauge, "queue_depth", map[string]string{"engine": "e1"}, 3))
	err := reg.Observe(KindGauge, "queue_depth", map[string]string{"engine": "e1", "extra": "x"}, 4)
	assert.Error(t, err)
}

func TestObserve_HistogramRecordsObservation(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	require.NoError(t, reg.Observe(KindHistogram, "action_duration_seconds", map[string]string{"kind": "set_fact"}, 0.01))
	_, ok := reg.histograms["action_duration_seconds"]
	assert.True(t, ok)
}

func TestObserve_UnknownKindReturnsError(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	err := reg.Observe(Kind("bogus"), "x", nil, 1)
	assert.Error(t, err)
}
