package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTicker struct{}

func (stubTicker) Tick(_ context.Context, tc *models.TickContext, st *models.PairState) models.Decision {
	st.FSMState = models.InPosition
	st.EntryPrice = 100
	st.StopPrice = 95
	return models.Decision{
		Intent: models.IntentNone,
		Status: models.StatusNoAction,
		Reason: "holding",
		Diagnostics: []models.Diagnostic{
			{Label: "State", Value: "IN_POSITION"},
		},
	}
}

type pairs []*statemanager.StateManager

func (p pairs) Managers() []*statemanager.StateManager { return p }

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	sm := statemanager.NewStateManager("binance", "BTCUSDT", nil, nil, stubTicker{}, zap.NewNop())
	sm.Start()
	t.Cleanup(sm.Stop)
	_, err := sm.Dispatch(context.Background(), &models.TickContext{Pair: "BTCUSDT"})
	require.NoError(t, err)

	m := metrics.New()
	return NewRouter(pairs{sm}, m, zap.NewNop()), m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPairsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := get(t, h, "/pairs")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []PairSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "BTCUSDT", out[0].Pair)
	assert.Equal(t, models.InPosition, out[0].FSMState)
	assert.Equal(t, 95.0, out[0].StopPrice)
	assert.Equal(t, models.StatusNoAction, out[0].LastStatus)
	assert.Equal(t, "holding", out[0].LastReason)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := get(t, h, "/pairs/BTCUSDT/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status      models.Status       `json:"status"`
		Diagnostics []models.Diagnostic `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.StatusNoAction, body.Status)
	require.Len(t, body.Diagnostics, 1)
	assert.Equal(t, "State", body.Diagnostics[0].Label)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/pairs/ETHUSDT/diagnostics").Code)
}

func TestStrategyEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := get(t, h, "/strategies/EMACross/schema")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GQ_EMACROSS_FAST")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/strategies/Nope/schema").Code)

	rec = get(t, h, "/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 14)
}

func TestMetricsAndHealth(t *testing.T) {
	h, m := newTestRouter(t)
	m.ObserveOrder("BTCUSDT", "MARKET_BUY", "OK")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gq_")

	rec = get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pairs":1`)
}
