package persistence

import "quant-grid-bot-go/internal/models"

// StateRepository defines the interface for per-pair state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB on disk or in memory)
// from the rest of the application. Records are keyed by exchange and pair.
type StateRepository interface {
	// SaveState atomically replaces the record of one pair.
	SaveState(exchange, pair string, state *models.PairState) error

	// LoadState loads the record of one pair. Fields that fail to decode are
	// defaulted individually and their keys returned in corrupted.
	// If no record is found, it returns (nil, nil, nil).
	LoadState(exchange, pair string) (state *models.PairState, corrupted []string, err error)

	// Close gracefully closes the connection to the database.
	Close() error
}
