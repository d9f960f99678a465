// Package api exposes a small read-only HTTP surface over the running pairs:
// Prometheus metrics, per-pair state and diagnostics, and the strategy catalogue.
package api

import (
	"encoding/json"
	"net/http"

	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/statemanager"
	"quant-grid-bot-go/internal/strategy"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// PairSource lists the state managers of the running pairs.
type PairSource interface {
	Managers() []*statemanager.StateManager
}

// PairSummary is one row of GET /pairs.
type PairSummary struct {
	Pair            string          `json:"pair"`
	FSMState        models.FSMState `json:"fsmState"`
	Pending         bool            `json:"pendingEntry"`
	EntryPrice      float64         `json:"entryPrice"`
	StopPrice       float64         `json:"stopPrice"`
	TakeProfitPrice float64         `json:"takeProfitPrice"`
	VirtualCapital  float64         `json:"virtualCapital,omitempty"`
	LastStatus      models.Status   `json:"lastStatus,omitempty"`
	LastReason      string          `json:"lastReason,omitempty"`
}

type server struct {
	pairs   PairSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRouter builds the status router.
func NewRouter(pairs PairSource, m *metrics.Metrics, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{pairs: pairs, metrics: m, logger: logger}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")
	r.HandleFunc("/pairs", s.handlePairs).Methods("GET")
	r.HandleFunc("/pairs/{pair}/diagnostics", s.handleDiagnostics).Methods("GET")
	r.HandleFunc("/strategies", s.handleStrategies).Methods("GET")
	r.HandleFunc("/strategies/{name}/schema", s.handleSchema).Methods("GET")
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pairs": len(s.pairs.Managers())})
}

func (s *server) handlePairs(w http.ResponseWriter, r *http.Request) {
	managers := s.pairs.Managers()
	out := make([]PairSummary, 0, len(managers))
	for _, sm := range managers {
		st := sm.Snapshot()
		d := sm.LastDecision()
		out = append(out, PairSummary{
			Pair:            sm.Pair(),
			FSMState:        st.FSMState,
			Pending:         st.PendingEntry != nil,
			EntryPrice:      st.EntryPrice,
			StopPrice:       st.StopPrice,
			TakeProfitPrice: st.TakeProfitPrice,
			VirtualCapital:  st.VirtualCapital,
			LastStatus:      d.Status,
			LastReason:      d.Reason,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	for _, sm := range s.pairs.Managers() {
		if sm.Pair() != pair {
			continue
		}
		d := sm.LastDecision()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"pair":        pair,
			"status":      d.Status,
			"intent":      d.Intent,
			"reason":      d.Reason,
			"diagnostics": d.Diagnostics,
		})
		return
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pair " + pair})
}

func (s *server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	defs := strategy.Catalogue()
	out := make([]entry, 0, len(defs))
	for _, d := range defs {
		out = append(out, entry{Name: d.Name, Category: d.Category, Description: d.Description})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, ok := strategy.Lookup(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown strategy " + name})
		return
	}
	schema, err := def.Schema()
	if err != nil {
		s.logger.Error("生成参数 schema 失败", zap.String("strategy", name), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(schema))
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}
