package metrics_test

import (
	"testing"
	"time"

	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	m := metrics.NewMetrics(reg)
	m.Transitions.WithLabelValues("claim", "ok").Inc()
	m.Notifications.WithLabelValues("unreachable").Add(2)
	m.ObserveQuery("client_name", time.Now().Add(-time.Second))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("claim", "ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Notifications.WithLabelValues("unreachable")), 0)

	assert.Equal(t, 1, testutil.CollectAndCount(m.DBQueryDuration))

	// A second registration on the same registry must fail loudly.
	require.Panics(t, func() { metrics.NewMetrics(reg) })
}
