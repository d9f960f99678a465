package reporter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"quant-grid-bot-go/internal/exchange"
	"quant-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatBar(e *exchange.BacktestExchange, t int64, p float64) {
	e.SetBar(t, p, p, p, p, 1)
}

func TestGenerateReport(t *testing.T) {
	ctx := context.Background()
	const h = int64(3600_000)
	be := exchange.NewBacktestExchange("BTCUSDT", models.BacktestSettings{InitialBalance: 1000}, nil)

	flatBar(be, 0, 100)
	_, err := be.PlaceOrder(ctx, "BTCUSDT", models.Buy, models.Market, 1, 100, "")
	require.NoError(t, err)
	flatBar(be, h, 110)
	_, err = be.PlaceOrder(ctx, "BTCUSDT", models.Sell, models.Market, 1, 110, "")
	require.NoError(t, err)
	_, err = be.PlaceOrder(ctx, "BTCUSDT", models.Buy, models.Market, 1, 110, "")
	require.NoError(t, err)
	flatBar(be, 2*h, 99)
	_, err = be.PlaceOrder(ctx, "BTCUSDT", models.Sell, models.Market, 1, 99, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	m := GenerateReport(be, Options{
		RunID:     "run-1",
		Strategy:  "EMACross",
		DataPath:  "data/btc.csv",
		StartTime: time.UnixMilli(0),
		EndTime:   time.UnixMilli(2 * h),
	}, &buf)

	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, 2, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 10.0/11.0, m.AvgProfitLoss, 1e-9)
	assert.InDelta(t, 999.0, m.FinalBalance, 1e-9)
	assert.InDelta(t, -0.1, m.ProfitPercentage, 1e-9)
	assert.InDelta(t, 11.0/1010.0*100, m.MaxDrawdown, 1e-9)
	assert.Zero(t, m.TotalAssetQty)

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "EMACross")
	assert.Contains(t, out, "交易记录")
}

func TestGenerateReportWithoutWriter(t *testing.T) {
	be := exchange.NewBacktestExchange("BTCUSDT", models.BacktestSettings{InitialBalance: 500}, nil)
	flatBar(be, 0, 10)
	m := GenerateReport(be, Options{RunID: "r"}, nil)
	assert.Equal(t, 500.0, m.FinalBalance)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.MaxDrawdown)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, calculateMaxDrawdown([]float64{100}))
	assert.InDelta(t, 0.5, calculateMaxDrawdown([]float64{100, 200, 100, 150}), 1e-12)
}
