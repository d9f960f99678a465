package statemanager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockStateRepository is a mock implementation of the StateRepository interface for testing.
type mockStateRepository struct {
	sync.Mutex
	savedState   *models.PairState
	saveCalls    int
	loadState    *models.PairState
	loadCorrupt  []string
	loadError    error
	saveError    error
	saveDoneChan chan bool // Channel to signal when SaveState is done
}

func newMockStateRepository() *mockStateRepository {
	return &mockStateRepository{
		saveDoneChan: make(chan bool, 16),
	}
}

func (m *mockStateRepository) SaveState(_, _ string, state *models.PairState) error {
	m.Lock()
	defer m.Unlock()

	m.saveCalls++
	m.savedState = state.Clone()

	// Signal that save is complete
	select {
	case m.saveDoneChan <- true:
	default:
	}

	return m.saveError
}

func (m *mockStateRepository) LoadState(_, _ string) (*models.PairState, []string, error) {
	m.Lock()
	defer m.Unlock()
	return m.loadState, m.loadCorrupt, m.loadError
}

func (m *mockStateRepository) Close() error {
	return nil
}

func (m *mockStateRepository) getSavedState() *models.PairState {
	m.Lock()
	defer m.Unlock()
	return m.savedState
}

func (m *mockStateRepository) saveCount() int {
	m.Lock()
	defer m.Unlock()
	return m.saveCalls
}

// countingTicker bumps EntryPrice on every tick and records overlapping calls.
type countingTicker struct {
	active     atomic.Int32
	overlapped atomic.Bool
	delay      time.Duration
}

func (c *countingTicker) Tick(_ context.Context, tc *models.TickContext, st *models.PairState) models.Decision {
	if c.active.Add(1) > 1 {
		c.overlapped.Store(true)
	}
	defer c.active.Add(-1)
	time.Sleep(c.delay)
	st.EntryPrice++
	return models.Decision{Status: models.StatusOK, Reason: tc.Pair}
}

func waitSave(t *testing.T, repo *mockStateRepository) {
	t.Helper()
	select {
	case <-repo.saveDoneChan:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state to be saved")
	}
}

// TestNewStateManager verifies that the StateManager is initialized correctly.
func TestNewStateManager(t *testing.T) {
	sm := NewStateManager("binance", "BTCUSDT", nil, newMockStateRepository(), &countingTicker{}, zap.NewNop())
	require.NotNil(t, sm)

	snapshot := sm.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, models.Idle, snapshot.FSMState)
	assert.Equal(t, "BTCUSDT", sm.Pair())
	assert.NotNil(t, sm.requests)
	assert.NotNil(t, sm.persistenceChan)
	assert.NotNil(t, sm.stopChan)
}

func TestDispatchAppliesTickAndPersists(t *testing.T) {
	repo := newMockStateRepository()
	sm := NewStateManager("binance", "BTCUSDT", nil, repo, &countingTicker{}, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	d, err := sm.Dispatch(context.Background(), &models.TickContext{Pair: "BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, d.Status)
	assert.Equal(t, d, sm.LastDecision())
	assert.Equal(t, 1.0, sm.Snapshot().EntryPrice)

	waitSave(t, repo)
	saved := repo.getSavedState()
	require.NotNil(t, saved)
	assert.Equal(t, 1.0, saved.EntryPrice)
}

func TestSnapshotIsACopy(t *testing.T) {
	initial := models.NewPairState()
	initial.GridBuyLevels = []float64{1, 2}
	sm := NewStateManager("binance", "BTCUSDT", initial, nil, &countingTicker{}, zap.NewNop())

	snap := sm.Snapshot()
	snap.GridBuyLevels[0] = 99
	assert.Equal(t, 1.0, sm.Snapshot().GridBuyLevels[0])
}

// TestConcurrentDispatchIsSerialized 验证同一交易对的 tick 不会并发执行
func TestConcurrentDispatchIsSerialized(t *testing.T) {
	ticker := &countingTicker{delay: time.Millisecond}
	sm := NewStateManager("binance", "BTCUSDT", nil, nil, ticker, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sm.Dispatch(context.Background(), &models.TickContext{Pair: "BTCUSDT"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, ticker.overlapped.Load())
	assert.Equal(t, 20.0, sm.Snapshot().EntryPrice)
}

func TestDispatchAfterStop(t *testing.T) {
	repo := newMockStateRepository()
	sm := NewStateManager("binance", "BTCUSDT", nil, repo, &countingTicker{}, zap.NewNop())
	sm.Start()
	sm.Stop()
	sm.Stop()

	_, err := sm.Dispatch(context.Background(), &models.TickContext{})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, repo.saveCount(), "final state saved once on stop")
}

func TestDispatchHonoursContext(t *testing.T) {
	sm := NewStateManager("binance", "BTCUSDT", nil, nil, &countingTicker{}, zap.NewNop())
	// not started: nobody receives the request
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sm.Dispatch(ctx, &models.TickContext{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestAsyncPersistence verifies that state persistence happens asynchronously.
func TestAsyncPersistence(t *testing.T) {
	repo := newMockStateRepository()
	repo.Lock() // SaveState blocks until released
	sm := NewStateManager("binance", "BTCUSDT", nil, repo, &countingTicker{}, zap.NewNop())
	sm.Start()

	_, err := sm.Dispatch(context.Background(), &models.TickContext{Pair: "BTCUSDT"})
	require.NoError(t, err, "dispatch returns while the save is still pending")
	assert.Equal(t, 0, repo.saveCalls)
	repo.Unlock()

	waitSave(t, repo)
	assert.Equal(t, 1.0, repo.getSavedState().EntryPrice)
	sm.Stop()
}

func TestLoadState(t *testing.T) {
	m := metrics.New()
	repo := newMockStateRepository()

	st, err := LoadState(repo, "binance", "BTCUSDT", m, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, models.NewPairState(), st, "missing record starts from defaults")

	stored := models.NewPairState()
	stored.StopPrice = 42
	repo.loadState = stored
	repo.loadCorrupt = []string{"entryPrice"}
	st, err = LoadState(repo, "binance", "BTCUSDT", m, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 42.0, st.StopPrice)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateCorruption.WithLabelValues("BTCUSDT", "entryPrice")))
}
