package exchange

import (
	"context"

	"quant-grid-bot-go/internal/models"
)

// Exchange 定义了与现货交易所交互的接口，实盘与回测共用
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (bid, ask float64, err error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) (models.Candles, error)
	GetBalances(ctx context.Context, base, quote string) (models.Balances, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	// GetOrderHistory 返回 since (毫秒) 之后的成交记录，时间升序
	GetOrderHistory(ctx context.Context, symbol string, since int64) ([]models.Order, error)
	PlaceOrder(ctx context.Context, symbol string, side models.Side, orderType models.OrderType, quantity, price float64, clientOrderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// BreakEvener 由能够报告持仓成本价的交易所实现
type BreakEvener interface {
	BreakEven(symbol string) float64
}
