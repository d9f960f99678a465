package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveTick("BTCUSDT", "EMACross", "OK", "enter", 3*time.Millisecond)
	m.ObserveTick("BTCUSDT", "EMACross", "NO_ACTION", "none", time.Millisecond)
	m.ObserveOrder("BTCUSDT", "MARKET_BUY", "OK")
	m.ObserveOptimization("ETHUSDT", 7, time.Second)
	m.SetVirtualCapital("SOLUSDT", 1012.5)
	m.ObserveCorruption("BTCUSDT", []string{"stopPrice", "gridPhase"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues("BTCUSDT", "EMACross", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("BTCUSDT", "enter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("BTCUSDT", "MARKET_BUY", "OK")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OptimizerMemory.WithLabelValues("ETHUSDT")))
	assert.Equal(t, 1012.5, testutil.ToFloat64(m.VirtualCapital.WithLabelValues("SOLUSDT")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StateCorruption))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gq_ticks_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTick("p", "s", "OK", "none", 0)
		m.ObserveOrder("p", "k", "OK")
		m.ObserveOptimization("p", 1, 0)
		m.SetVirtualCapital("p", 1)
		m.ObserveCorruption("p", []string{"x"})
	})
	assert.Nil(t, m.Registry())
}
