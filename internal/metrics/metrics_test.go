package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New(func() float64 { return 3 })
	require.NotNil(t, m)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.InstancesActive))
}

func TestHandlerServesRegisteredSeries(t *testing.T) {
	m := New(func() float64 { return 1 })
	m.RPCCallsTotal.WithLabelValues("ping", "ok").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "agenthost_rpc_calls_total")
}

func TestMultipleMetricsInstancesDoNotCollide(t *testing.T) {
	m1 := New(func() float64 { return 0 })
	m2 := New(func() float64 { return 0 })

	m1.SchedulerFires.WithLabelValues("ping", "ok").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m1.SchedulerFires.WithLabelValues("ping", "ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m2.SchedulerFires.WithLabelValues("ping", "ok")))
}
