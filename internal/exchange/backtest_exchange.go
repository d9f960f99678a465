package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"quant-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// ErrInsufficientBalance 模拟交易所的余额不足拒单
var ErrInsufficientBalance = errors.New("余额不足")

const dust = 1e-9

type simOrder struct {
	models.Order
	locked float64 // 挂单冻结的资金：买单为计价货币，卖单为基础货币
}

// BacktestExchange 实现了 Exchange 接口，用于模拟单一交易对的现货交易所行为以进行回测。
type BacktestExchange struct {
	Symbol         string
	InitialBalance float64
	CurrentPrice   float64   // 当前K线收盘价
	CurrentTime    time.Time // 当前K线开盘时间

	freeBase, lockedBase   float64
	freeQuote, lockedQuote float64

	candles     models.Candles
	orders      map[int64]*simOrder
	fills       []models.Order
	avgEntry    float64
	entryTime   time.Time
	TradeLog    []models.CompletedTrade
	EquityCurve []float64
	dailyEquity map[string]float64
	NextOrderID int64

	// 回测引擎特定配置
	TakerFeeRate      float64
	MakerFeeRate      float64
	SlippageRate      float64
	TotalFees         float64
	MaxWalletExposure float64 // 回测期间最大的持仓占权益比例

	logger *zap.Logger
	mu     sync.Mutex
}

// NewBacktestExchange 创建一个新的 BacktestExchange 实例，初始资金全部为计价货币。
func NewBacktestExchange(symbol string, cfg models.BacktestSettings, logger *zap.Logger) *BacktestExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacktestExchange{
		Symbol:         symbol,
		InitialBalance: cfg.InitialBalance,
		freeQuote:      cfg.InitialBalance,
		orders:         make(map[int64]*simOrder),
		TradeLog:       make([]models.CompletedTrade, 0),
		EquityCurve:    make([]float64, 0, 10000),
		dailyEquity:    make(map[string]float64),
		NextOrderID:    1,
		TakerFeeRate:   cfg.TakerFeeRate,
		MakerFeeRate:   cfg.MakerFeeRate,
		SlippageRate:   cfg.SlippageRate,
		logger:         logger.With(zap.String("symbol", symbol)),
	}
}

// SetBar 推进一根K线：追加到K线历史，并按 O->L->H->C 的路径撮合挂单。
// t 为开盘时间(毫秒)。
func (e *BacktestExchange) SetBar(t int64, open, high, low, close, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.CurrentTime = time.UnixMilli(t)
	e.candles.Append(t, open, high, low, close, volume)

	e.CurrentPrice = open
	e.checkLimitOrdersAtPrice(open)
	e.CurrentPrice = low
	e.checkLimitOrdersAtPrice(low)
	e.CurrentPrice = high
	e.checkLimitOrdersAtPrice(high)
	e.CurrentPrice = close
	e.checkLimitOrdersAtPrice(close)

	e.updateEquity()
}

// checkLimitOrdersAtPrice 按订单号顺序检查挂单能否在该价格点成交。必须在持有锁的情况下调用。
func (e *BacktestExchange) checkLimitOrdersAtPrice(price float64) {
	ids := make([]int64, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := e.orders[id]
		if (o.Side == models.Buy && price <= o.Price) || (o.Side == models.Sell && price >= o.Price) {
			delete(e.orders, id)
			e.release(o)
			// 挂单按挂单价成交，记 Maker 费率
			e.fill(o.Order, o.Price, o.Price, e.MakerFeeRate)
		}
	}
}

func (e *BacktestExchange) release(o *simOrder) {
	if o.Side == models.Buy {
		e.lockedQuote -= o.locked
		e.freeQuote += o.locked
	} else {
		e.lockedBase -= o.locked
		e.freeBase += o.locked
	}
}

// fill 结算一笔成交。手续费总是以计价货币支付。必须在持有锁的情况下调用。
// ref 为滑点前的参考价。
func (e *BacktestExchange) fill(o models.Order, execPrice, ref, feeRate float64) models.Order {
	qty := o.Amount
	cost := execPrice * qty
	fee := cost * feeRate
	e.TotalFees += fee

	o.Price = execPrice
	o.Cost = cost
	o.Timestamp = e.CurrentTime.UnixMilli()

	if o.Side == models.Buy {
		if e.freeBase+e.lockedBase <= dust {
			e.entryTime = e.CurrentTime
		}
		held := e.freeBase + e.lockedBase
		e.avgEntry = (e.avgEntry*held + cost) / (held + qty)
		e.freeQuote -= cost + fee
		e.freeBase += qty
	} else {
		e.freeBase -= qty
		e.freeQuote += cost - fee
		if e.avgEntry > 0 {
			pnl := (execPrice - e.avgEntry) * qty
			o.RealizedPnl = &pnl
			e.TradeLog = append(e.TradeLog, models.CompletedTrade{
				Symbol:       e.Symbol,
				Quantity:     qty,
				EntryTime:    e.entryTime,
				ExitTime:     e.CurrentTime,
				HoldDuration: e.CurrentTime.Sub(e.entryTime),
				EntryPrice:   e.avgEntry,
				ExitPrice:    execPrice,
				Profit:       pnl - fee,
				Fee:          fee,
				Slippage:     (ref - execPrice) * qty,
			})
		}
		if e.freeBase+e.lockedBase <= dust {
			e.freeBase, e.avgEntry = 0, 0
		}
	}
	e.fills = append(e.fills, o)

	equity := e.equity()
	exposure := 0.0
	if equity > 0 {
		exposure = (e.freeBase + e.lockedBase) * e.CurrentPrice / equity
	}
	if exposure > e.MaxWalletExposure {
		e.MaxWalletExposure = exposure
	}

	e.logger.Debug("[回测] 订单成交",
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.OrderType)),
		zap.Float64("price", execPrice),
		zap.Float64("quantity", qty),
		zap.Float64("fee", fee),
		zap.Float64("avgEntry", e.avgEntry),
		zap.Float64("quote", e.freeQuote+e.lockedQuote),
		zap.Float64("base", e.freeBase+e.lockedBase),
		zap.Float64("equity", equity),
		zap.Time("time", e.CurrentTime),
	)
	return o
}

func (e *BacktestExchange) equity() float64 {
	return e.freeQuote + e.lockedQuote + (e.freeBase+e.lockedBase)*e.CurrentPrice
}

// updateEquity 计算并记录当前权益。必须在持有锁的情况下调用。
func (e *BacktestExchange) updateEquity() {
	equity := e.equity()
	e.EquityCurve = append(e.EquityCurve, equity)
	e.dailyEquity[e.CurrentTime.UTC().Format("2006-01-02")] = equity
}

// --- Exchange 接口实现 ---

func (e *BacktestExchange) GetTicker(_ context.Context, _ string) (float64, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CurrentPrice, e.CurrentPrice, nil
}

func (e *BacktestExchange) GetCandles(_ context.Context, _ string, _ string, limit int) (models.Candles, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tail := e.candles.Tail(limit)
	// 返回副本，避免调用方持有的切片被后续 SetBar 改写
	return models.Candles{
		Open:   append([]float64(nil), tail.Open...),
		High:   append([]float64(nil), tail.High...),
		Low:    append([]float64(nil), tail.Low...),
		Close:  append([]float64(nil), tail.Close...),
		Volume: append([]float64(nil), tail.Volume...),
		Time:   append([]int64(nil), tail.Time...),
	}, nil
}

func (e *BacktestExchange) GetBalances(_ context.Context, _, _ string) (models.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.Balances{Base: e.freeBase, Quote: e.freeQuote, BaseLocked: e.lockedBase, QuoteLocked: e.lockedQuote}, nil
}

func (e *BacktestExchange) GetOpenOrders(_ context.Context, _ string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.Order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp || (out[i].Timestamp == out[j].Timestamp && out[i].ID < out[j].ID) })
	return out, nil
}

func (e *BacktestExchange) GetOrderHistory(_ context.Context, _ string, since int64) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, 0, len(e.fills))
	for _, f := range e.fills {
		if f.Timestamp >= since {
			out = append(out, f)
		}
	}
	return out, nil
}

// PlaceOrder 市价单按当前价加滑点立即成交(Taker)，限价单冻结资金后挂单等待撮合(Maker)。
func (e *BacktestExchange) PlaceOrder(_ context.Context, _ string, side models.Side, orderType models.OrderType, quantity, price float64, clientOrderID string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if quantity <= 0 {
		return nil, fmt.Errorf("无效的下单数量: %f", quantity)
	}
	order := models.Order{
		ID:        strconv.FormatInt(e.NextOrderID, 10),
		Side:      side,
		OrderType: orderType,
		Price:     price,
		Amount:    quantity,
		Timestamp: e.CurrentTime.UnixMilli(),
	}

	if orderType == models.Market {
		execPrice := e.CurrentPrice * (1 + e.SlippageRate)
		if side == models.Sell {
			execPrice = e.CurrentPrice * (1 - e.SlippageRate)
		}
		if side == models.Buy && e.CurrentPrice*quantity > e.freeQuote+dust {
			return nil, fmt.Errorf("%w: 需要 %.8f, 可用 %.8f", ErrInsufficientBalance, e.CurrentPrice*quantity, e.freeQuote)
		}
		// 滑点和手续费超出可用资金的部分按比例缩减数量
		if maxQty := e.freeQuote / (execPrice * (1 + e.TakerFeeRate)); side == models.Buy && quantity > maxQty {
			quantity = maxQty
			order.Amount = quantity
		}
		if side == models.Sell && quantity > e.freeBase+dust {
			return nil, fmt.Errorf("%w: 需要 %.8f, 可用 %.8f", ErrInsufficientBalance, quantity, e.freeBase)
		}
		if side == models.Sell && quantity > e.freeBase {
			quantity = e.freeBase
			order.Amount = quantity
		}
		e.NextOrderID++
		filled := e.fill(order, execPrice, e.CurrentPrice, e.TakerFeeRate)
		return &filled, nil
	}

	if price <= 0 {
		return nil, fmt.Errorf("限价单价格无效: %f", price)
	}
	so := &simOrder{Order: order}
	if side == models.Buy {
		so.locked = price * quantity * (1 + e.MakerFeeRate)
		if so.locked > e.freeQuote+dust {
			return nil, fmt.Errorf("%w: 需要 %.8f, 可用 %.8f", ErrInsufficientBalance, so.locked, e.freeQuote)
		}
		e.freeQuote -= so.locked
		e.lockedQuote += so.locked
	} else {
		so.locked = quantity
		if so.locked > e.freeBase+dust {
			return nil, fmt.Errorf("%w: 需要 %.8f, 可用 %.8f", ErrInsufficientBalance, so.locked, e.freeBase)
		}
		e.freeBase -= so.locked
		e.lockedBase += so.locked
	}
	e.orders[e.NextOrderID] = so
	e.NextOrderID++
	placed := so.Order
	return &placed, nil
}

func (e *BacktestExchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的订单ID %q: %w", orderID, err)
	}
	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("订单 ID %d 在回测中未找到", id)
	}
	delete(e.orders, id)
	e.release(o)
	return nil
}

// BreakEven 返回当前持仓的平均成本价，无持仓时为 0
func (e *BacktestExchange) BreakEven(_ string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avgEntry
}

// --- 回测报告使用的访问方法 ---

func (e *BacktestExchange) GetCurrentTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CurrentTime
}

// Fills 返回全部成交记录的副本
func (e *BacktestExchange) Fills() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Order(nil), e.fills...)
}

// DailyEquity 返回按日期(UTC)记录的日终权益
func (e *BacktestExchange) DailyEquity() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.dailyEquity))
	for k, v := range e.dailyEquity {
		out[k] = v
	}
	return out
}

// Equity 返回按当前价计算的账户总权益
func (e *BacktestExchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity()
}

// GetAccountState 返回持仓市值与账户总权益
func (e *BacktestExchange) GetAccountState() (positionValue, accountEquity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return (e.freeBase + e.lockedBase) * e.CurrentPrice, e.equity()
}
