package storage

import (
	"context"
	"errors"

	"sleepwatch/internal/domain"
)

// ErrStore wraps every persistence failure.
var ErrStore = errors.New("store error")

// SeenStore is the durable set of items already notified.
// Implementations must report an id as present only after its Insert committed.
type SeenStore interface {
	// LookupMany returns the subset of ids already recorded.
	// An empty input returns an empty set without touching storage.
	LookupMany(ctx context.Context, ids []int64) (map[int64]struct{}, error)

	// Insert records item. Inserting an id that is already present is a no-op.
	Insert(ctx context.Context, item domain.Item) error

	// Count returns the number of recorded items.
	Count(ctx context.Context) (int, error)

	// Close gracefully shuts down the store.
	Close() error
}
