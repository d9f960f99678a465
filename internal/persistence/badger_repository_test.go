package persistence

import (
	"testing"

	"quant-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	repo := newRepo(t)

	st := models.NewPairState()
	st.FSMState = models.InPosition
	st.EntryPrice = 101.5
	st.StopPrice = 97
	st.PendingEntry = &models.PendingEntry{SubmittedAt: 1700000000000}
	st.GridBuyLevels = []float64{98.03, 99.01}
	st.GridAppliedOrders = []string{"42"}
	st.BestParamsMemory = []models.ScoredParams{{Params: models.MomentumParams{FastPeriod: 10, SlowPeriod: 90, ATRPeriod: 14, ATRMult: 2}, Score: 4.2}}
	require.NoError(t, repo.SaveState("binance", "BTCUSDT", st))

	got, corrupted, err := repo.LoadState("binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, corrupted)
	assert.Equal(t, st, got)
}

func TestLoadMissingRecord(t *testing.T) {
	repo := newRepo(t)
	got, corrupted, err := repo.LoadState("binance", "ETHUSDT")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, corrupted)
}

func TestRecordsAreIsolatedPerPair(t *testing.T) {
	repo := newRepo(t)
	a := models.NewPairState()
	a.EntryPrice = 1
	b := models.NewPairState()
	b.EntryPrice = 2
	require.NoError(t, repo.SaveState("binance", "AAAUSDT", a))
	require.NoError(t, repo.SaveState("kraken", "AAAUSDT", b))

	got, _, err := repo.LoadState("binance", "AAAUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.EntryPrice)
	got, _, err = repo.LoadState("kraken", "AAAUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.EntryPrice)
}

func TestLoadDefaultsCorruptedFields(t *testing.T) {
	repo := newRepo(t).(*badgerRepository)
	raw := `{"fsmState":"IN_POSITION","entryPrice":"abc","stopPrice":"95.5","gridBuyLevels":"oops","unknown":1}`
	require.NoError(t, repo.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key("binance", "BTCUSDT"), []byte(raw))
	}))

	got, corrupted, err := repo.LoadState("binance", "BTCUSDT")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"entryPrice", "gridBuyLevels"}, corrupted)
	assert.Equal(t, models.InPosition, got.FSMState)
	assert.Equal(t, 95.5, got.StopPrice)
	assert.Zero(t, got.EntryPrice)
	assert.Nil(t, got.GridBuyLevels)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "pair_state/binance/BTCUSDT", string(Key("binance", "BTCUSDT")))
}
