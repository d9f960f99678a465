package bot

import (
	"context"
	"math"
	"testing"
	"time"

	"quant-grid-bot-go/internal/exchange"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = int64(3600_000)

// downUpDown 下跌、反弹、再下跌，产生一次金叉和一次死叉
func downUpDown() models.Candles {
	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-float64(i)*2)
	}
	for i := 1; i <= 30; i++ {
		closes = append(closes, 122+float64(i)*3)
	}
	for i := 1; i <= 25; i++ {
		closes = append(closes, 212-float64(i)*4)
	}
	var c models.Candles
	prev := closes[0]
	for i, cl := range closes {
		c.Append(int64(i)*hour, prev, math.Max(prev, cl)+0.5, math.Min(prev, cl)-0.5, cl, 10)
		prev = cl
	}
	return c
}

func testConfig() *models.Config {
	return &models.Config{
		ExchangeName:   "backtest",
		CandleInterval: "1h",
		CandleLimit:    200,
		Pairs: []models.PairConfig{{
			Symbol:      "BTCUSDT",
			Base:        "BTC",
			Quote:       "USDT",
			Strategy:    "EMACross",
			BuyEnabled:  true,
			SellEnabled: true,
			Params:      map[string]any{"GQ_EMACROSS_FAST": 5, "GQ_EMACROSS_SLOW": 20},
		}},
		Backtest: models.BacktestSettings{InitialBalance: 1000},
	}
}

func TestRunReplayTradesOneRoundTrip(t *testing.T) {
	cfg := testConfig()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	be := exchange.NewBacktestExchange("BTCUSDT", cfg.Backtest, nil)
	m := metrics.New()
	r := NewRunner(cfg, be, repo, m, nil)
	assert.NotEmpty(t, r.RunID)

	require.NoError(t, r.RunReplay(context.Background(), be, downUpDown(), 25))

	require.Len(t, be.Fills(), 2, "one entry and one exit")
	assert.Equal(t, models.Buy, be.Fills()[0].Side)
	assert.Equal(t, models.Sell, be.Fills()[1].Side)
	require.Len(t, be.TradeLog, 1)
	assert.Greater(t, be.TradeLog[0].ExitPrice, 0.0)

	st, corrupted, err := repo.LoadState("backtest", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, corrupted)
	assert.Equal(t, models.Idle, st.FSMState)
	assert.Equal(t, int64(94)*hour, st.LastBarOpenTime)
	assert.Empty(t, r.Managers(), "managers are released after the replay")
}

func TestRunReplayRejectsShortData(t *testing.T) {
	cfg := testConfig()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	be := exchange.NewBacktestExchange("BTCUSDT", cfg.Backtest, nil)
	r := NewRunner(cfg, be, repo, nil, nil)
	c := downUpDown().Tail(10)
	assert.Error(t, r.RunReplay(context.Background(), be, c, 25))

	other := exchange.NewBacktestExchange("ETHUSDT", cfg.Backtest, nil)
	assert.Error(t, r.RunReplay(context.Background(), other, c, 5))
}

func TestBuildTickContext(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DryRun = true
	pc := cfg.Pairs[0]
	pc.MinVolumeToSell = 50
	pc.TickSize = 0.01

	be := exchange.NewBacktestExchange("BTCUSDT", cfg.Backtest, nil)
	be.SetBar(0, 100, 100, 100, 100, 1)
	_, err := be.PlaceOrder(ctx, "BTCUSDT", models.Buy, models.Market, 0.4, 100, "")
	require.NoError(t, err)
	be.SetBar(hour, 100, 100, 100, 100, 1)

	r := NewRunner(cfg, be, nil, nil, nil)
	now := time.UnixMilli(hour + 1000)
	tc, err := r.BuildTickContext(ctx, pc, 0, now)
	require.NoError(t, err)

	assert.Equal(t, 2, tc.Candles.Len())
	assert.Equal(t, 100.0, tc.Bid)
	assert.InDelta(t, 960.0, tc.QuoteBalance, 1e-9)
	assert.InDelta(t, 0.4, tc.BaseBalance, 1e-12)
	assert.False(t, tc.GotBag, "40 USDT of holdings is below the 50 minimum")
	assert.InDelta(t, 100.0, tc.BreakEven, 1e-9)
	assert.Len(t, tc.Orders, 1)
	assert.True(t, tc.DryRun)
	assert.Equal(t, 0.01, tc.TickSize)
	assert.Equal(t, now, tc.Now)

	pc.MinVolumeToSell = 10
	tc, err = r.BuildTickContext(ctx, pc, 0, now)
	require.NoError(t, err)
	assert.True(t, tc.GotBag)

	tc, err = r.BuildTickContext(ctx, pc, hour, now)
	require.NoError(t, err)
	assert.Empty(t, tc.Orders, "fills before since are not fetched")
}
