// Package gateway is the single path through which decisions reach the
// exchange. It enforces the watch-mode and buy/sell switches, checks funds,
// rounds quantities to the pair step size and contains host failures.
package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrWatchMode         = errors.New("watch mode: order suppressed")
	ErrDisabled          = errors.New("order side disabled")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrHostFailure       = errors.New("order call failed")
)

// fundsTolerance absorbs float noise when a command spends the whole balance.
const fundsTolerance = 1e-9

// Host is the set of order primitives the exchange adapters provide.
type Host interface {
	PlaceOrder(ctx context.Context, symbol string, side models.Side, orderType models.OrderType, quantity, price float64, clientOrderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// Result describes one executed (or refused) command.
type Result struct {
	Status        models.Status
	Command       models.OrderCommand
	ClientOrderID string
	Order         *models.Order
}

// Gateway executes order commands against a Host.
type Gateway struct {
	host   Host
	logger *zap.Logger
	now    func() time.Time
}

// New 创建订单网关
func New(host Host, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{host: host, logger: logger, now: time.Now}
}

// Execute runs cmd with the switches and balances of tc. It never panics; a
// host error or panic comes back as GATEWAY_FAILURE wrapped in ErrHostFailure.
func (g *Gateway) Execute(ctx context.Context, tc *models.TickContext, cmd models.OrderCommand) (res Result, err error) {
	res = Result{Command: cmd}
	log := g.logger.With(zap.String("pair", tc.Pair), zap.String("kind", string(cmd.Kind)), zap.String("reason", cmd.Reason))

	if cmd.Kind != models.Cancel {
		if status, err := g.check(tc, &res.Command); err != nil {
			res.Status = status
			log.Info("订单未提交", zap.String("status", string(status)), zap.Error(err))
			return res, err
		}
	} else if tc.DryRun {
		res.Status = models.StatusWatchMode
		return res, ErrWatchMode
	}

	defer func() {
		if r := recover(); r != nil {
			res.Status = models.StatusGatewayFailure
			err = fmt.Errorf("%w: panic: %v", ErrHostFailure, r)
			log.Error("订单调用发生 panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if cmd.Kind == models.Cancel {
		if err := g.host.CancelOrder(ctx, tc.Pair, cmd.OrderID); err != nil {
			res.Status = models.StatusGatewayFailure
			log.Error("撤单失败", zap.String("orderId", cmd.OrderID), zap.Error(err))
			return res, fmt.Errorf("%w: cancel %s: %v", ErrHostFailure, cmd.OrderID, err)
		}
		res.Status = models.StatusOK
		log.Info("撤单成功", zap.String("orderId", cmd.OrderID))
		return res, nil
	}

	orderType := models.Market
	if cmd.Kind == models.LimitBuy || cmd.Kind == models.LimitSell {
		orderType = models.Limit
	}
	res.ClientOrderID = NewClientOrderID(tc.Pair, g.now())
	c := res.Command
	order, err := g.host.PlaceOrder(ctx, tc.Pair, c.Kind.Side(), orderType, c.Amount, c.Price, res.ClientOrderID)
	if err != nil {
		res.Status = models.StatusGatewayFailure
		log.Error("下单失败", zap.Float64("amount", c.Amount), zap.Float64("price", c.Price), zap.Error(err))
		return res, fmt.Errorf("%w: %s %s: %v", ErrHostFailure, c.Kind, tc.Pair, err)
	}
	res.Order = order
	res.Status = models.StatusOK
	log.Info("下单成功",
		zap.String("clientOrderId", res.ClientOrderID),
		zap.Float64("amount", c.Amount),
		zap.Float64("price", c.Price),
	)
	return res, nil
}

// check applies the switches, the step size and the balance checks to a
// placement command, rounding cmd.Amount in place.
func (g *Gateway) check(tc *models.TickContext, cmd *models.OrderCommand) (models.Status, error) {
	side := cmd.Kind.Side()
	if tc.DryRun {
		return models.StatusWatchMode, ErrWatchMode
	}
	if (side == models.Buy && !tc.BuyEnabled) || (side == models.Sell && !tc.SellEnabled) {
		return models.StatusDisabled, fmt.Errorf("%w: %s", ErrDisabled, side)
	}

	cmd.Amount = RoundStep(cmd.Amount, tc.StepSize)
	if cmd.Amount <= 0 {
		return models.StatusInsufficientFund, fmt.Errorf("%w: amount below step size %g", ErrInsufficientFunds, tc.StepSize)
	}
	switch side {
	case models.Buy:
		if cost := cmd.Cost(); cost > tc.QuoteBalance*(1+fundsTolerance) {
			return models.StatusInsufficientFund, fmt.Errorf("%w: cost %.8f > quote %.8f", ErrInsufficientFunds, cost, tc.QuoteBalance)
		}
	case models.Sell:
		if cmd.Amount > tc.BaseBalance*(1+fundsTolerance) {
			return models.StatusInsufficientFund, fmt.Errorf("%w: amount %.8f > base %.8f", ErrInsufficientFunds, cmd.Amount, tc.BaseBalance)
		}
	}
	return models.StatusOK, nil
}

// RoundStep floors amount to a multiple of step. A non-positive step leaves
// amount unchanged.
func RoundStep(amount, step float64) float64 {
	if step <= 0 || amount <= 0 {
		return amount
	}
	s := decimal.NewFromFloat(step)
	v, _ := decimal.NewFromFloat(amount).Div(s).Floor().Mul(s).Float64()
	return v
}

// NewClientOrderID returns a compact id: "gq" followed by the base62 encoding
// of a pair hash and the submission time in nanoseconds.
func NewClientOrderID(pair string, at time.Time) string {
	h := fnv.New64a()
	h.Write([]byte(pair))
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], h.Sum64())
	binary.BigEndian.PutUint64(buf[8:], uint64(at.UnixNano()))
	return "gq" + base62.EncodeToString(buf)
}
