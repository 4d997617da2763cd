package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepwatch/internal/domain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func testItem(id int64) domain.Item {
	return domain.Item{
		ID:            id,
		Link:          "https://annonces.sleepingmoney.com/fr/listings/" + strconv.FormatInt(id, 10),
		Title:         "Listing",
		OriginalPrice: decimal.RequireFromString("45.50"),
		SoldPrice:     decimal.RequireFromString("20.00"),
	}
}

// openers lets every backend run the same contract tests.
var openers = map[string]func(t *testing.T, dir string) SeenStore{
	"badger": func(t *testing.T, dir string) SeenStore {
		s, err := NewBadgerStore(dir, testLogger())
		require.NoError(t, err, "Failed to create test BadgerDB store")
		return s
	},
	"sqlite": func(t *testing.T, dir string) SeenStore {
		s, err := NewSQLiteStore(filepath.Join(dir, "items.db"), testLogger())
		require.NoError(t, err, "Failed to create test SQLite store")
		return s
	},
}

func TestSeenStore_LookupAndInsert(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer func() { assert.NoError(t, store.Close()) }()
			ctx := context.Background()

			found, err := store.LookupMany(ctx, nil)
			require.NoError(t, err)
			assert.Empty(t, found, "empty input is a no-op")

			found, err = store.LookupMany(ctx, []int64{1, 2, 3})
			require.NoError(t, err)
			assert.Empty(t, found)

			require.NoError(t, store.Insert(ctx, testItem(1)))
			require.NoError(t, store.Insert(ctx, testItem(3)))

			found, err = store.LookupMany(ctx, []int64{1, 2, 3})
			require.NoError(t, err)
			assert.Equal(t, map[int64]struct{}{1: {}, 3: {}}, found)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestSeenStore_InsertIsIdempotent(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer func() { assert.NoError(t, store.Close()) }()
			ctx := context.Background()

			require.NoError(t, store.Insert(ctx, testItem(42)))

			drifted := testItem(42)
			drifted.Title = "Renamed"
			require.NoError(t, store.Insert(ctx, drifted), "inserting an existing id must not error")

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "no duplicate row")
		})
	}
}

func TestSeenStore_SurvivesReopen(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			store := open(t, dir)
			require.NoError(t, store.Insert(ctx, testItem(7)))
			require.NoError(t, store.Close())

			reopened := open(t, dir)
			defer func() { assert.NoError(t, reopened.Close()) }()

			found, err := reopened.LookupMany(ctx, []int64{7, 8})
			require.NoError(t, err)
			assert.Equal(t, map[int64]struct{}{7: {}}, found)
		})
	}
}

func TestSeenStore_CancelledContext(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			store := open(t, t.TempDir())
			defer func() { assert.NoError(t, store.Close()) }()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := store.LookupMany(ctx, []int64{1})
			assert.ErrorIs(t, err, ErrStore)
		})
	}
}

// readRecord decodes the raw value stored under id's key.
func readRecord(t *testing.T, store *BadgerStore, id int64) (domain.SeenRecord, bool) {
	t.Helper()
	var rec domain.SeenRecord
	found := false
	err := store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(itemKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	require.NoError(t, err)
	return rec, found
}

func TestBadgerStore_KeepsFirstRecord(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer func() { assert.NoError(t, store.Close()) }()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testItem(5)))
	drifted := testItem(5)
	drifted.Title = "Renamed"
	require.NoError(t, store.Insert(ctx, drifted))

	rec, ok := readRecord(t, store, 5)
	require.True(t, ok)
	assert.Equal(t, "Listing", rec.Title)
	assert.True(t, decimal.RequireFromString("45.50").Equal(rec.OriginalPrice))
	assert.False(t, rec.NotifiedAt.IsZero())

	_, ok = readRecord(t, store, 6)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "seen.db"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", t.TempDir(), testLogger())
	assert.ErrorIs(t, err, ErrStore)
}
