package persistence

import (
	"errors"
	"fmt"

	"quant-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const keyPrefix = "pair_state"

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository that lives only as long as the
// process, used for replays and tests.
func NewInMemoryRepository() (StateRepository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (StateRepository, error) {
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerRepository{db: db}, nil
}

// Key returns the storage key of one pair's record.
func Key(exchange, pair string) []byte {
	return []byte(keyPrefix + "/" + exchange + "/" + pair)
}

// SaveState encodes the state and stores it under the pair's key.
func (r *badgerRepository) SaveState(exchange, pair string, state *models.PairState) error {
	data, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encode state %s/%s: %w", exchange, pair, err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(exchange, pair), data)
	})
}

// LoadState loads one pair's record.
func (r *badgerRepository) LoadState(exchange, pair string) (*models.PairState, []string, error) {
	var raw []byte

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(exchange, pair))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})

	// This is the expected "no state found" case.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load state %s/%s: %w", exchange, pair, err)
	}

	state, corrupted := models.DecodePairState(raw)
	return state, corrupted, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
