package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// FSMState is the position reconciler state.
type FSMState string

const (
	Idle       FSMState = "IDLE"
	InPosition FSMState = "IN_POSITION"
)

// GridPhase is the grid engine lifecycle state.
type GridPhase string

const (
	GridUninitialized GridPhase = "UNINITIALIZED"
	GridActive        GridPhase = "ACTIVE"
)

// PendingEntry marks an entry order that was submitted but whose fill has not been observed yet.
type PendingEntry struct {
	SubmittedAt int64 `json:"submittedAt"` // unix ms
}

// MomentumParams is one cell of the optimizer parameter grid.
type MomentumParams struct {
	FastPeriod int     `json:"fast"`
	SlowPeriod int     `json:"slow"`
	ATRPeriod  int     `json:"atrPeriod"`
	ATRMult    float64 `json:"atrMult"`
}

// ScoredParams is a ranked optimizer result.
type ScoredParams struct {
	Params MomentumParams `json:"params"`
	Score  float64        `json:"score"`
}

// PairState 是每个交易对在两次 tick 之间持久化的全部状态。
// Zero-valued price fields mean "unset".
type PairState struct {
	FSMState               FSMState      `json:"fsmState"`
	LastBarOpenTime        int64         `json:"lastBarOpenTime"`
	PendingEntry           *PendingEntry `json:"pendingEntry"`
	EntryPrice             float64       `json:"entryPrice"`
	StopPrice              float64       `json:"stopPrice"`
	PendingStopPrice       float64       `json:"pendingStopPrice"`
	TakeProfitPrice        float64       `json:"takeProfitPrice"`
	PendingTakeProfitPrice float64       `json:"pendingTakeProfitPrice"`

	// grid variant
	VirtualCapital float64   `json:"virtualCapital"`
	GridPhase      GridPhase `json:"gridPhase"`
	GridBuyLevels  []float64 `json:"gridBuyLevels"`
	GridSellLevels []float64 `json:"gridSellLevels"`
	GridLastCheck  int64     `json:"gridLastCheck"`

	// 部分成交挂单等待期间已处理过的订单ID
	GridAppliedOrders []string `json:"gridAppliedOrders,omitempty"`

	// optimizer variant; LastOptimizationBarIndex is an absolute bar index (open time / bar interval)
	LastOptimizationBarIndex int64           `json:"lastOptimizationBarIndex"`
	BestParamsMemory         []ScoredParams  `json:"bestParamsMemory"`
	EntryParams              *MomentumParams `json:"entryParams"`
}

// NewPairState returns the lazily-created initial state.
func NewPairState() *PairState {
	return &PairState{
		FSMState:  Idle,
		GridPhase: GridUninitialized,
	}
}

// Clone returns a deep copy.
func (s *PairState) Clone() *PairState {
	if s == nil {
		return nil
	}
	c := *s
	if s.PendingEntry != nil {
		p := *s.PendingEntry
		c.PendingEntry = &p
	}
	if s.EntryParams != nil {
		p := *s.EntryParams
		c.EntryParams = &p
	}
	c.GridBuyLevels = append([]float64(nil), s.GridBuyLevels...)
	c.GridSellLevels = append([]float64(nil), s.GridSellLevels...)
	if s.GridAppliedOrders != nil {
		c.GridAppliedOrders = append([]string(nil), s.GridAppliedOrders...)
	}
	c.BestParamsMemory = append([]ScoredParams(nil), s.BestParamsMemory...)
	return &c
}

// Encode serializes the state. Non-finite prices are stored as unset.
func (s *PairState) Encode() ([]byte, error) {
	c := s.Clone()
	for _, f := range []*float64{
		&c.EntryPrice, &c.StopPrice, &c.PendingStopPrice, &c.TakeProfitPrice,
		&c.PendingTakeProfitPrice, &c.VirtualCapital,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return json.Marshal(c)
}

// DecodePairState decodes a persisted record field by field. A field that is
// missing keeps its default; a field with the wrong type or shape is defaulted
// and its key is returned in corrupted. The record as a whole never fails.
func DecodePairState(raw []byte) (state *PairState, corrupted []string) {
	state = NewPairState()
	if len(bytes.TrimSpace(raw)) == 0 {
		return state, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return state, []string{"<record>"}
	}

	d := fieldDecoder{fields: fields}
	d.decode("fsmState", &state.FSMState)
	d.decode("lastBarOpenTime", &state.LastBarOpenTime)
	d.decode("pendingEntry", &state.PendingEntry)
	d.number("entryPrice", &state.EntryPrice)
	d.number("stopPrice", &state.StopPrice)
	d.number("pendingStopPrice", &state.PendingStopPrice)
	d.number("takeProfitPrice", &state.TakeProfitPrice)
	d.number("pendingTakeProfitPrice", &state.PendingTakeProfitPrice)
	d.number("virtualCapital", &state.VirtualCapital)
	d.decode("gridPhase", &state.GridPhase)
	d.decode("gridBuyLevels", &state.GridBuyLevels)
	d.decode("gridSellLevels", &state.GridSellLevels)
	d.decode("gridLastCheck", &state.GridLastCheck)
	d.decode("gridAppliedOrders", &state.GridAppliedOrders)
	d.decode("lastOptimizationBarIndex", &state.LastOptimizationBarIndex)
	d.decode("bestParamsMemory", &state.BestParamsMemory)
	d.decode("entryParams", &state.EntryParams)

	if state.FSMState != Idle && state.FSMState != InPosition {
		d.corrupt("fsmState")
		state.FSMState = Idle
	}
	if state.GridPhase != GridUninitialized && state.GridPhase != GridActive {
		d.corrupt("gridPhase")
		state.GridPhase = GridUninitialized
	}
	if state.VirtualCapital < 0 {
		d.corrupt("virtualCapital")
		state.VirtualCapital = 0
	}
	return state, d.corrupted
}

type fieldDecoder struct {
	fields    map[string]json.RawMessage
	corrupted []string
}

func (d *fieldDecoder) corrupt(key string) {
	d.corrupted = append(d.corrupted, key)
}

func (d *fieldDecoder) raw(key string) (json.RawMessage, bool) {
	v, ok := d.fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// decode unmarshals into a temporary so a failed field never leaves a partial value behind.
func (d *fieldDecoder) decode(key string, dst any) {
	v, ok := d.raw(key)
	if !ok {
		return
	}
	switch p := dst.(type) {
	case *FSMState:
		var tmp FSMState
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = tmp })
	case *GridPhase:
		var tmp GridPhase
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = tmp })
	case *int64:
		var tmp json.Number
		err := json.Unmarshal(v, &tmp)
		if err == nil {
			var n int64
			if n, err = tmp.Int64(); err != nil {
				var f float64
				if f, err = tmp.Float64(); err == nil {
					n = int64(f)
				}
			}
			d.apply(key, err, func() { *p = n })
			return
		}
		d.apply(key, err, nil)
	case **PendingEntry:
		var tmp PendingEntry
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = &tmp })
	case *[]float64:
		var tmp []float64
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = tmp })
	case *[]string:
		var tmp []string
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = tmp })
	case *[]ScoredParams:
		var tmp []ScoredParams
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = tmp })
	case **MomentumParams:
		var tmp MomentumParams
		d.apply(key, json.Unmarshal(v, &tmp), func() { *p = &tmp })
	default:
		d.corrupt(key)
	}
}

// number accepts both JSON numbers and numeric strings.
func (d *fieldDecoder) number(key string, dst *float64) {
	v, ok := d.raw(key)
	if !ok {
		return
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		*dst = f
		return
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			*dst = f
			return
		}
	}
	d.corrupt(key)
}

func (d *fieldDecoder) apply(key string, err error, set func()) {
	if err != nil {
		d.corrupt(key)
		return
	}
	if set != nil {
		set()
	}
}
