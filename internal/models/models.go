package models

import (
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet       bool             `json:"is_testnet" yaml:"is_testnet"` // 是否使用测试网
	DBPath          string           `json:"db_path" yaml:"db_path" validate:"required"`
	LiveAPIURL      string           `json:"live_api_url" yaml:"live_api_url"`
	LiveWSURL       string           `json:"live_ws_url" yaml:"live_ws_url"`
	TestnetAPIURL   string           `json:"testnet_api_url" yaml:"testnet_api_url"`
	TestnetWSURL    string           `json:"testnet_ws_url" yaml:"testnet_ws_url"`
	ExchangeName    string           `json:"exchange" yaml:"exchange"`                                      // 交易所名称，写入持久化键
	DryRun          bool             `json:"dry_run" yaml:"dry_run"`                                        // 观察模式：只做决策，不下单
	TickIntervalSec int              `json:"tick_interval_sec" yaml:"tick_interval_sec" validate:"gte=0"`   // 实盘 tick 间隔(秒)
	CandleInterval  string           `json:"candle_interval" yaml:"candle_interval"`                        // K线周期, e.g. "1h"
	CandleLimit     int              `json:"candle_limit" yaml:"candle_limit" validate:"gte=0,lte=1000"`    // 每次 tick 拉取的K线数量
	MetricsAddr     string           `json:"metrics_addr" yaml:"metrics_addr"`                              // 状态/指标 HTTP 地址，空则不启动
	Pairs           []PairConfig     `json:"pairs" yaml:"pairs" validate:"required,min=1,dive"`             // 交易对列表
	LogConfig       LogConfig        `json:"log" yaml:"log"`                                                // 日志配置
	Backtest        BacktestSettings `json:"backtest" yaml:"backtest"`                                      // 回测引擎配置

	WebSocketPingIntervalSec int `json:"websocket_ping_interval_sec,omitempty" yaml:"websocket_ping_interval_sec"` // WebSocket Ping 间隔(秒)

	BaseURL   string `json:"base_url" yaml:"-"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url" yaml:"-"` // WebSocket基础地址 (将由程序动态设置)
}

// PairConfig 定义单个交易对的策略与开关
type PairConfig struct {
	Symbol          string         `json:"symbol" yaml:"symbol" validate:"required"`     // 交易对，如 "BTCUSDT"
	Base            string         `json:"base" yaml:"base" validate:"required"`         // 基础货币，如 "BTC"
	Quote           string         `json:"quote" yaml:"quote" validate:"required"`       // 计价货币，如 "USDT"
	Strategy        string         `json:"strategy" yaml:"strategy" validate:"required"` // 策略名称
	BuyEnabled      bool           `json:"buy_enabled" yaml:"buy_enabled"`
	SellEnabled     bool           `json:"sell_enabled" yaml:"sell_enabled"`
	MinVolumeToSell float64        `json:"min_volume_to_sell" yaml:"min_volume_to_sell" validate:"gte=0"` // 交易所最小卖出名义价值
	TickSize        float64        `json:"tick_size" yaml:"tick_size" validate:"gte=0"`                   // 价格精度
	StepSize        float64        `json:"step_size" yaml:"step_size" validate:"gte=0"`                   // 数量精度
	Params          map[string]any `json:"params" yaml:"params"`                                          // 策略参数字典
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// BacktestSettings 回测引擎特定配置
type BacktestSettings struct {
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance" validate:"gte=0"` // 初始计价货币余额
	TakerFeeRate   float64 `json:"taker_fee_rate" yaml:"taker_fee_rate" validate:"gte=0"`   // 吃单手续费率
	MakerFeeRate   float64 `json:"maker_fee_rate" yaml:"maker_fee_rate" validate:"gte=0"`   // 挂单手续费率
	SlippageRate   float64 `json:"slippage_rate" yaml:"slippage_rate" validate:"gte=0"`     // 滑点率
	Warmup         int     `json:"warmup" yaml:"warmup" validate:"gte=0"`                   // 首次 tick 前累积的K线数量
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Order is an exchange-owned order or fill as seen by the decision core.
// Timestamps are unix milliseconds.
type Order struct {
	ID          string    `json:"id"`
	Side        Side      `json:"type"`
	OrderType   OrderType `json:"orderType,omitempty"`
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"`
	Cost        float64   `json:"cost"`
	Timestamp   int64     `json:"timestamp"`
	RealizedPnl *float64  `json:"realizedPnl,omitempty"`
}

// Notional returns the order value in quote currency.
func (o Order) Notional() float64 {
	if o.Cost > 0 {
		return o.Cost
	}
	return o.Price * o.Amount
}

// Balances 交易对两侧的余额，Base/Quote 为可用部分，Locked 为挂单冻结部分
type Balances struct {
	Base        float64
	Quote       float64
	BaseLocked  float64
	QuoteLocked float64
}

// TotalBase 返回基础货币的总持有量
func (b Balances) TotalBase() float64 {
	return b.Base + b.BaseLocked
}

// CompletedTrade 记录一笔完成的交易（买入和卖出）
type CompletedTrade struct {
	Symbol       string
	Quantity     float64
	EntryTime    time.Time
	ExitTime     time.Time
	HoldDuration time.Duration
	EntryPrice   float64
	ExitPrice    float64
	Profit       float64
	Fee          float64
	Slippage     float64
}
