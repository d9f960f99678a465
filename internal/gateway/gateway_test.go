package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type placed struct {
	side     models.Side
	typ      models.OrderType
	quantity float64
	price    float64
	clientID string
}

// mockHost 记录所有下单和撤单调用
type mockHost struct {
	mu        sync.Mutex
	placed    []placed
	cancelled []string
	err       error
	panicMsg  string
}

func (m *mockHost) PlaceOrder(_ context.Context, _ string, side models.Side, typ models.OrderType, quantity, price float64, clientID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.err != nil {
		return nil, m.err
	}
	m.placed = append(m.placed, placed{side, typ, quantity, price, clientID})
	return &models.Order{ID: clientID, Side: side, OrderType: typ, Price: price, Amount: quantity}, nil
}

func (m *mockHost) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func tick() *models.TickContext {
	return &models.TickContext{
		Pair:         "ETHUSDT",
		BaseBalance:  1.5,
		QuoteBalance: 500,
		BuyEnabled:   true,
		SellEnabled:  true,
		StepSize:     0.001,
	}
}

func TestExecutePlacesOrder(t *testing.T) {
	host := &mockHost{}
	g := New(host, zap.NewNop())

	res, err := g.Execute(context.Background(), tick(), models.OrderCommand{Kind: models.LimitBuy, Amount: 0.12345, Price: 2000})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, res.Status)
	require.Len(t, host.placed, 1)
	assert.Equal(t, models.Buy, host.placed[0].side)
	assert.Equal(t, models.Limit, host.placed[0].typ)
	assert.InDelta(t, 0.123, host.placed[0].quantity, 1e-12, "floored to the step size")
	assert.Equal(t, res.ClientOrderID, host.placed[0].clientID)
	assert.NotNil(t, res.Order)

	_, err = g.Execute(context.Background(), tick(), models.OrderCommand{Kind: models.MarketSell, Amount: 1.5, Price: 2000})
	require.NoError(t, err)
	assert.Equal(t, models.Market, host.placed[1].typ)
	assert.Equal(t, models.Sell, host.placed[1].side)
}

func TestExecuteRefusals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(tc *models.TickContext)
		cmd    models.OrderCommand
		status models.Status
		err    error
	}{
		{"dry run", func(tc *models.TickContext) { tc.DryRun = true }, models.OrderCommand{Kind: models.MarketBuy, Amount: 0.1, Price: 100}, models.StatusWatchMode, ErrWatchMode},
		{"dry run cancel", func(tc *models.TickContext) { tc.DryRun = true }, models.OrderCommand{Kind: models.Cancel, OrderID: "x"}, models.StatusWatchMode, ErrWatchMode},
		{"buys disabled", func(tc *models.TickContext) { tc.BuyEnabled = false }, models.OrderCommand{Kind: models.LimitBuy, Amount: 0.1, Price: 100}, models.StatusDisabled, ErrDisabled},
		{"sells disabled", func(tc *models.TickContext) { tc.SellEnabled = false }, models.OrderCommand{Kind: models.MarketSell, Amount: 0.1, Price: 100}, models.StatusDisabled, ErrDisabled},
		{"quote short", func(*models.TickContext) {}, models.OrderCommand{Kind: models.MarketBuy, Amount: 1, Price: 501}, models.StatusInsufficientFund, ErrInsufficientFunds},
		{"base short", func(*models.TickContext) {}, models.OrderCommand{Kind: models.LimitSell, Amount: 2, Price: 100}, models.StatusInsufficientFund, ErrInsufficientFunds},
		{"below step", func(*models.TickContext) {}, models.OrderCommand{Kind: models.MarketBuy, Amount: 0.0004, Price: 100}, models.StatusInsufficientFund, ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := &mockHost{}
			ctx := tick()
			tc.mutate(ctx)
			res, err := New(host, zap.NewNop()).Execute(context.Background(), ctx, tc.cmd)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.status, res.Status)
			assert.Empty(t, host.placed)
			assert.Empty(t, host.cancelled)
		})
	}
}

func TestExecuteSpendsWholeBalance(t *testing.T) {
	host := &mockHost{}
	ctx := tick()
	ctx.StepSize = 0
	ctx.QuoteBalance = 0.3
	_, err := New(host, nil).Execute(context.Background(), ctx, models.OrderCommand{Kind: models.MarketBuy, Amount: 0.1 + 0.2, Price: 1})
	assert.NoError(t, err)
}

func TestExecuteContainsHostFailures(t *testing.T) {
	host := &mockHost{err: errors.New("timeout")}
	g := New(host, zap.NewNop())

	res, err := g.Execute(context.Background(), tick(), models.OrderCommand{Kind: models.MarketBuy, Amount: 0.1, Price: 100})
	assert.ErrorIs(t, err, ErrHostFailure)
	assert.Equal(t, models.StatusGatewayFailure, res.Status)

	res, err = g.Execute(context.Background(), tick(), models.OrderCommand{Kind: models.Cancel, OrderID: "42"})
	assert.ErrorIs(t, err, ErrHostFailure)
	assert.Equal(t, models.StatusGatewayFailure, res.Status)

	host.err = nil
	host.panicMsg = "boom"
	assert.NotPanics(t, func() {
		res, err = g.Execute(context.Background(), tick(), models.OrderCommand{Kind: models.MarketBuy, Amount: 0.1, Price: 100})
	})
	assert.ErrorIs(t, err, ErrHostFailure)
	assert.Equal(t, models.StatusGatewayFailure, res.Status)
}

func TestExecuteCancel(t *testing.T) {
	host := &mockHost{}
	res, err := New(host, zap.NewNop()).Execute(context.Background(), tick(), models.OrderCommand{Kind: models.Cancel, OrderID: "42"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, res.Status)
	assert.Equal(t, []string{"42"}, host.cancelled)
}

func TestRoundStep(t *testing.T) {
	assert.InDelta(t, 0.123, RoundStep(0.1239, 0.001), 1e-15)
	assert.InDelta(t, 3.0, RoundStep(3.0, 0.1), 1e-15)
	assert.Equal(t, 0.1239, RoundStep(0.1239, 0))
	assert.Zero(t, RoundStep(0.00009, 0.0001))
}

func TestNewClientOrderID(t *testing.T) {
	at := time.Unix(1700000000, 123)
	a := NewClientOrderID("BTCUSDT", at)
	b := NewClientOrderID("ETHUSDT", at)
	c := NewClientOrderID("BTCUSDT", at.Add(time.Nanosecond))

	assert.True(t, strings.HasPrefix(a, "gq"))
	assert.LessOrEqual(t, len(a), 36)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, NewClientOrderID("BTCUSDT", at))
}
