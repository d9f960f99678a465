package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

const tradeHistoryLimit = 1000

// LiveExchange 通过币安现货 REST 接口实现 Exchange
type LiveExchange struct {
	client  *binance.Client
	streams map[string]*PriceStream
	logger  *zap.Logger
}

// NewLiveExchange 创建一个新的 LiveExchange 实例。baseURL 为空时使用 go-binance 的默认地址。
func NewLiveExchange(apiKey, secretKey, baseURL string, testnet bool, logger *zap.Logger) *LiveExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &LiveExchange{client: client, streams: map[string]*PriceStream{}, logger: logger}
}

// WithPriceStream 让该交易对的 GetTicker 优先读取 WebSocket 推送的最优买卖价。须在开始交易前调用。
func (e *LiveExchange) WithPriceStream(symbol string, s *PriceStream) *LiveExchange {
	e.streams[symbol] = s
	return e
}

// CheckTimeSync 返回服务器时间与本地时间的偏差(毫秒)
func (e *LiveExchange) CheckTimeSync(ctx context.Context) (int64, error) {
	serverTime, err := e.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取服务器时间失败: %w", err)
	}
	return serverTime - time.Now().UnixMilli(), nil
}

// SymbolFilters 从交易规则中读取价格精度与数量精度
func (e *LiveExchange) SymbolFilters(ctx context.Context, symbol string) (tickSize, stepSize float64, err error) {
	info, err := e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("获取交易规则失败: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if f := s.PriceFilter(); f != nil {
			tickSize, _ = strconv.ParseFloat(f.TickSize, 64)
		}
		if f := s.LotSizeFilter(); f != nil {
			stepSize, _ = strconv.ParseFloat(f.StepSize, 64)
		}
		return tickSize, stepSize, nil
	}
	return 0, 0, fmt.Errorf("交易对 %s 不存在", symbol)
}

func (e *LiveExchange) GetTicker(ctx context.Context, symbol string) (float64, float64, error) {
	if s, ok := e.streams[symbol]; ok {
		if bid, ask, ok := s.Quote(); ok {
			return bid, ask, nil
		}
	}
	tickers, err := e.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("获取盘口失败: %w", err)
	}
	if len(tickers) == 0 {
		return 0, 0, fmt.Errorf("交易对 %s 无盘口数据", symbol)
	}
	bid, err := strconv.ParseFloat(tickers[0].BidPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("解析买一价失败: %w", err)
	}
	ask, err := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("解析卖一价失败: %w", err)
	}
	return bid, ask, nil
}

func (e *LiveExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) (models.Candles, error) {
	klines, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return models.Candles{}, fmt.Errorf("获取K线失败: %w", err)
	}
	return ConvertKlines(klines)
}

// ConvertKlines 将币安K线转换为对齐的 OHLCV 序列
func ConvertKlines(klines []*binance.Kline) (models.Candles, error) {
	var c models.Candles
	for _, k := range klines {
		var ohlcv [5]float64
		for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return models.Candles{}, fmt.Errorf("解析K线 %d 失败: %w", k.OpenTime, err)
			}
			ohlcv[i] = v
		}
		c.Append(k.OpenTime, ohlcv[0], ohlcv[1], ohlcv[2], ohlcv[3], ohlcv[4])
	}
	return c, nil
}

func (e *LiveExchange) GetBalances(ctx context.Context, base, quote string) (models.Balances, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.Balances{}, fmt.Errorf("获取账户信息失败: %w", err)
	}
	var b models.Balances
	for _, bal := range account.Balances {
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			continue
		}
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		switch bal.Asset {
		case base:
			b.Base, b.BaseLocked = free, locked
		case quote:
			b.Quote, b.QuoteLocked = free, locked
		}
	}
	return b, nil
}

func (e *LiveExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	orders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取挂单失败: %w", err)
	}
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
		out = append(out, models.Order{
			ID:        strconv.FormatInt(o.OrderID, 10),
			Side:      models.Side(o.Side),
			OrderType: models.OrderType(o.Type),
			Price:     price,
			Amount:    qty - executed,
			Timestamp: o.Time,
		})
	}
	return out, nil
}

// GetOrderHistory 以成交明细(myTrades)作为成交历史
func (e *LiveExchange) GetOrderHistory(ctx context.Context, symbol string, since int64) ([]models.Order, error) {
	svc := e.client.NewListTradesService().Symbol(symbol).Limit(tradeHistoryLimit)
	if since > 0 {
		svc = svc.StartTime(since)
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取成交历史失败: %w", err)
	}
	out := make([]models.Order, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		cost, _ := strconv.ParseFloat(t.QuoteQuantity, 64)
		side := models.Sell
		if t.IsBuyer {
			side = models.Buy
		}
		out = append(out, models.Order{
			ID:        strconv.FormatInt(t.OrderID, 10),
			Side:      side,
			Price:     price,
			Amount:    qty,
			Cost:      cost,
			Timestamp: t.Time,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (e *LiveExchange) PlaceOrder(ctx context.Context, symbol string, side models.Side, orderType models.OrderType, quantity, price float64, clientOrderID string) (*models.Order, error) {
	svc := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderType(orderType)).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64))
	if orderType == models.Limit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(strconv.FormatFloat(price, 'f', -1, 64))
	}
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下单失败: %w", err)
	}
	e.logger.Info("订单已提交",
		zap.String("symbol", symbol),
		zap.Int64("orderId", resp.OrderID),
		zap.String("clientOrderId", resp.ClientOrderID),
		zap.String("side", string(side)),
		zap.String("status", string(resp.Status)),
	)

	order := &models.Order{
		ID:        strconv.FormatInt(resp.OrderID, 10),
		Side:      side,
		OrderType: orderType,
		Price:     price,
		Amount:    quantity,
		Timestamp: resp.TransactTime,
	}
	if executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64); executed > 0 {
		order.Cost, _ = strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
		order.Price = order.Cost / executed
	}
	return order, nil
}

func (e *LiveExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的订单ID %q: %w", orderID, err)
	}
	if _, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("取消订单 %d 失败: %w", id, err)
	}
	return nil
}
