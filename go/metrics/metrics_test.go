package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectorsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NotNil(t, c.CommitDuration)
	require.NotNil(t, c.PendingDepth)
	require.NotNil(t, c.SourceWrites)
	require.NotNil(t, c.SourceReverts)
	require.NotNil(t, c.ConflictsTotal)
	require.NotNil(t, c.CommitsTotal)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metricFamilies)
}

func TestRegisteringTwiceOnTheSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}

func TestCommitsTotalIsLabeledByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.CommitsTotal.WithLabelValues("committed").Inc()
	c.CommitsTotal.WithLabelValues("faulted").Inc()

	require.Equal(t, float64(1), testCounterValue(t, c.CommitsTotal.WithLabelValues("committed")))
	require.Equal(t, float64(1), testCounterValue(t, c.CommitsTotal.WithLabelValues("faulted")))
}

func testCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, counter.Write(&m))
	return m.GetCounter().GetValue()
}
