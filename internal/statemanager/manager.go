// Package statemanager serializes the ticks of one pair and persists its
// state asynchronously. Each pair gets its own manager; the decision core
// itself holds no locks and relies on this actor for exclusive access.
package statemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quant-grid-bot-go/internal/engine"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/persistence"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("state manager stopped")

// Ticker runs one decision against the pair state. It is implemented by the engine.
type Ticker interface {
	Tick(ctx context.Context, tc *models.TickContext, st *models.PairState) models.Decision
}

type tickRequest struct {
	ctx   context.Context
	tc    *models.TickContext
	reply chan models.Decision
}

// StateManager is responsible for all state mutations and persistence of one pair.
// It ensures that all ticks are processed serially.
type StateManager struct {
	exchange string
	pair     string

	mu           sync.RWMutex
	state        *models.PairState
	lastDecision models.Decision

	repo            persistence.StateRepository
	ticker          Ticker
	requests        chan tickRequest
	persistenceChan chan *models.PairState
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. A nil initialState starts from the defaults.
func NewStateManager(exchange, pair string, initialState *models.PairState, repo persistence.StateRepository, ticker Ticker, logger *zap.Logger) *StateManager {
	if initialState == nil {
		initialState = models.NewPairState()
	}
	return &StateManager{
		exchange:        exchange,
		pair:            pair,
		state:           initialState,
		repo:            repo,
		ticker:          ticker,
		requests:        make(chan tickRequest),
		persistenceChan: make(chan *models.PairState, 128), // Buffered channel for state snapshots to be persisted
		stopChan:        make(chan struct{}),
		logger:          logger.With(zap.String("pair", pair)),
	}
}

// LoadState reads the persisted record of a pair. A missing record yields the
// defaults; corrupted fields are defaulted, logged and counted.
func LoadState(repo persistence.StateRepository, exchange, pair string, m *metrics.Metrics, logger *zap.Logger) (*models.PairState, error) {
	st, corrupted, err := repo.LoadState(exchange, pair)
	if err != nil {
		return nil, err
	}
	if st == nil {
		logger.Info("未找到持久化状态，使用初始状态", zap.String("pair", pair))
		return models.NewPairState(), nil
	}
	if len(corrupted) > 0 {
		m.ObserveCorruption(pair, corrupted)
		logger.Warn("持久化状态字段损坏，已重置为默认值",
			zap.String("pair", pair),
			zap.Strings("fields", corrupted),
			zap.Error(fmt.Errorf("%s/%s: %w", exchange, pair, engine.ErrStateCorruption)),
		)
	}
	return st, nil
}

// Start begins the state manager's tick processing and persistence loops.
func (sm *StateManager) Start() {
	sm.wg.Add(2)
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Info("StateManager started.")
}

// Stop shuts down both loops and saves the latest state once more.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		sm.wg.Wait()
		if sm.repo != nil {
			if err := sm.repo.SaveState(sm.exchange, sm.pair, sm.Snapshot()); err != nil {
				sm.logger.Error("Failed to save final state", zap.Error(err))
			}
		}
		sm.logger.Info("StateManager stopped.")
	})
}

// Dispatch runs one tick on the manager's goroutine and waits for its decision.
func (sm *StateManager) Dispatch(ctx context.Context, tc *models.TickContext) (models.Decision, error) {
	req := tickRequest{ctx: ctx, tc: tc, reply: make(chan models.Decision, 1)}
	select {
	case sm.requests <- req:
	case <-sm.stopChan:
		return models.Decision{}, ErrStopped
	case <-ctx.Done():
		return models.Decision{}, ctx.Err()
	}
	select {
	case d := <-req.reply:
		return d, nil
	case <-ctx.Done():
		return models.Decision{}, ctx.Err()
	}
}

// Snapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) Snapshot() *models.PairState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Clone()
}

// LastDecision returns the decision of the most recent tick.
func (sm *StateManager) LastDecision() models.Decision {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastDecision
}

// Pair returns the managed pair.
func (sm *StateManager) Pair() string { return sm.pair }

// eventLoop is the core processing loop that handles all ticks serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case req := <-sm.requests:
			sm.process(req)
		case <-sm.stopChan:
			return
		}
	}
}

// process ticks on a private copy so snapshots never observe a half-applied tick.
func (sm *StateManager) process(req tickRequest) {
	sm.mu.RLock()
	work := sm.state.Clone()
	sm.mu.RUnlock()

	d := sm.ticker.Tick(req.ctx, req.tc, work)

	sm.mu.Lock()
	sm.state = work
	sm.lastDecision = d
	sm.mu.Unlock()
	req.reply <- d

	// After processing, send a deep copy of the new state to the persistence channel.
	select {
	case sm.persistenceChan <- work.Clone():
	case <-sm.stopChan:
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveState(sm.exchange, sm.pair, stateToSave); err != nil {
					sm.logger.Error("CRITICAL: Failed to save state", zap.Error(err))
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}
