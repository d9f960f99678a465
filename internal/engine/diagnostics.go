package engine

import (
	"fmt"

	"quant-grid-bot-go/internal/indicator"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/optimizer"
)

func (e *Engine) baseDiagnostics(t *tick) []models.Diagnostic {
	st := t.st
	state := models.Diagnostic{Label: "State", Value: string(st.FSMState), Tooltip: "position reconciler state"}
	if st.PendingEntry != nil {
		state.Value += " (pending)"
		state.Color = "yellow"
	} else if st.FSMState == models.InPosition {
		state.Color = "green"
	}
	return []models.Diagnostic{
		state,
		{Label: "Trading limit", Value: fmt.Sprintf("%.2f", t.limit), Tooltip: "notional of the next entry"},
		{Label: "New bar", Value: fmt.Sprintf("%t", t.newBar), Tooltip: "entries are evaluated once per bar"},
		{Label: "Entry", Value: price(st.EntryPrice), Tooltip: "confirmed entry price"},
		{Label: "Stop", Value: price(st.StopPrice), Color: "red", Tooltip: "active stop loss"},
		{Label: "Take profit", Value: price(st.TakeProfitPrice), Color: "green", Tooltip: "active price target"},
	}
}

func optimizerDiagnostics(st *models.PairState, series *optimizer.Series) []models.Diagnostic {
	d := []models.Diagnostic{
		{Label: "Param memory", Value: fmt.Sprintf("%d", len(st.BestParamsMemory)), Tooltip: "ranked parameter sets"},
		{Label: "Last optimization", Value: fmt.Sprintf("bar %d", st.LastOptimizationBarIndex), Tooltip: "absolute bar index"},
	}
	if len(st.BestParamsMemory) > 0 {
		best := st.BestParamsMemory[0]
		d = append(d, models.Diagnostic{
			Label:   "Best",
			Value:   fmt.Sprintf("SMA %d/%d score %.2f", best.Params.FastPeriod, best.Params.SlowPeriod, best.Score),
			Tooltip: "top ranked parameter set",
		})
	}
	if p := st.EntryParams; p != nil {
		d = append(d, models.Diagnostic{
			Label:   "Trade params",
			Value:   fmt.Sprintf("SMA %d/%d vol %d x%.1f", p.FastPeriod, p.SlowPeriod, p.ATRPeriod, p.ATRMult),
			Color:   "green",
			Tooltip: "parameter set of the open trade",
		})
	}
	if p, ok := watchedParams(st); ok {
		d = append(d, slopeDiagnostic(series, p))
	}
	return d
}

// watchedParams is the open trade's set, else the top ranked one.
func watchedParams(st *models.PairState) (models.MomentumParams, bool) {
	if st.EntryParams != nil {
		return *st.EntryParams, true
	}
	if len(st.BestParamsMemory) > 0 {
		return st.BestParamsMemory[0].Params, true
	}
	return models.MomentumParams{}, false
}

// slopeDiagnostic 显示快慢均线的回归斜率，快线斜率更陡时为绿色
func slopeDiagnostic(series *optimizer.Series, p models.MomentumParams) models.Diagnostic {
	diag := models.Diagnostic{Label: "SMA slope", Value: "-", Tooltip: fmt.Sprintf("regression slope of SMA %d / SMA %d", p.FastPeriod, p.SlowPeriod)}
	if series == nil || p.FastPeriod <= 0 || p.SlowPeriod <= 0 || len(series.Close) == 0 {
		return diag
	}
	i := len(series.Close) - 1
	fast, slow := series.Slope(p.FastPeriod)[i], series.Slope(p.SlowPeriod)[i]
	if !indicator.Valid(fast, slow) {
		return diag
	}
	diag.Value = fmt.Sprintf("%.4g / %.4g", fast, slow)
	diag.Color = "red"
	if fast > slow {
		diag.Color = "green"
	}
	return diag
}

func price(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.8g", v)
}
