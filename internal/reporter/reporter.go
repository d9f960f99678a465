package reporter

import (
	"fmt"
	"io"
	"math"
	"time"

	"quant-grid-bot-go/internal/exchange"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	RunID            string
	Symbol           string
	Strategy         string
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	TotalFees        float64
	MaxExposure      float64
	EndingCash       float64 // 期末现金
	EndingAssetValue float64 // 期末持仓市值
	TotalAssetQty    float64 // 持有资产的总数量
	StartTime        time.Time
	EndTime          time.Time
}

// Options 描述一次回放
type Options struct {
	RunID     string
	Strategy  string
	DataPath  string
	StartTime time.Time
	EndTime   time.Time
}

// GenerateReport 根据回测交易所的状态计算性能指标，并把报告表格写入 w (w 为 nil 时只计算)
func GenerateReport(be *exchange.BacktestExchange, opts Options, w io.Writer) *Metrics {
	m := CalculateMetrics(be)
	m.RunID = opts.RunID
	m.Strategy = opts.Strategy
	m.StartTime = opts.StartTime
	m.EndTime = opts.EndTime
	if w == nil {
		return m
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("回测结果报告")
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"运行ID", m.RunID},
		{"数据文件", opts.DataPath},
		{"交易对", m.Symbol},
		{"策略", m.Strategy},
		{"回测周期", fmt.Sprintf("%s 到 %s", m.StartTime.UTC().Format("2006-01-02 15:04"), m.EndTime.UTC().Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f", m.FinalBalance)},
		{"总利润", fmt.Sprintf("%.2f", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"总手续费", fmt.Sprintf("%.4f", m.TotalFees)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"最大持仓占比", fmt.Sprintf("%.2f%%", m.MaxExposure)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"期末现金", fmt.Sprintf("%.2f", m.EndingCash)},
		{"期末持仓市值", fmt.Sprintf("%.2f (共 %.6f)", m.EndingAssetValue, m.TotalAssetQty)},
	})
	t.Render()

	if len(be.TradeLog) > 0 {
		renderTrades(be, w)
	}
	return m
}

func renderTrades(be *exchange.BacktestExchange, w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("交易记录")
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "开仓时间", "平仓时间", "数量", "开仓价", "平仓价", "利润", "手续费"})
	for i, tr := range be.TradeLog {
		t.AppendRow(table.Row{
			i + 1,
			tr.EntryTime.UTC().Format("2006-01-02 15:04"),
			tr.ExitTime.UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%.6f", tr.Quantity),
			fmt.Sprintf("%.4f", tr.EntryPrice),
			fmt.Sprintf("%.4f", tr.ExitPrice),
			fmt.Sprintf("%.4f", tr.Profit),
			fmt.Sprintf("%.4f", tr.Fee),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

// CalculateMetrics 计算回测指标
func CalculateMetrics(be *exchange.BacktestExchange) *Metrics {
	m := &Metrics{
		Symbol:         be.Symbol,
		InitialBalance: be.InitialBalance,
		TotalTrades:    len(be.TradeLog),
		TotalFees:      be.TotalFees,
		MaxExposure:    be.MaxWalletExposure * 100,
	}

	var totalProfit, totalLoss float64
	for _, trade := range be.TradeLog {
		if trade.Profit > 0 {
			m.WinningTrades++
			totalProfit += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	// 计算期末资产详情
	positionValue, equity := be.GetAccountState()
	m.EndingAssetValue = positionValue
	m.EndingCash = equity - positionValue
	if be.CurrentPrice > 0 {
		m.TotalAssetQty = positionValue / be.CurrentPrice
	}
	m.FinalBalance = equity

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(be.EquityCurve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
