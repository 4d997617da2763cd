package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"sleepwatch/internal/domain"
)

// BadgerStore implements SeenStore on a BadgerDB directory.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
	now func() time.Time
}

var _ SeenStore = (*BadgerStore)(nil)

// NewBadgerStore opens (and replays) the database at dbPath.
func NewBadgerStore(dbPath string, logger logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger db at %s: %v", ErrStore, dbPath, err)
	}
	logger.WithField("path", dbPath).Info("BadgerDB opened")

	return &BadgerStore{
		db:  db,
		log: logger.WithField("component", "store"),
		now: time.Now,
	}, nil
}

// Close closes the BadgerDB database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Error("Error closing BadgerDB")
		return fmt.Errorf("%w: close: %v", ErrStore, err)
	}
	s.log.Info("BadgerDB closed")
	return nil
}

var itemPrefix = []byte("item:")

// itemKey format: item:{id}
func itemKey(id int64) []byte {
	return strconv.AppendInt(append([]byte(nil), itemPrefix...), id, 10)
}

// LookupMany returns the ids that have a record.
func (s *BadgerStore) LookupMany(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	found := make(map[int64]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := txn.Get(itemKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			found[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %d ids: %v", ErrStore, len(ids), err)
	}

	s.log.WithFields(logrus.Fields{"count": len(ids), "found": len(found)}).Debug("Looked up items")
	return found, nil
}

// Insert stores item unless its id is already recorded. Existing records are never rewritten.
func (s *BadgerStore) Insert(ctx context.Context, item domain.Item) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: insert item %d: %v", ErrStore, item.ID, err)
	}

	value, err := json.Marshal(domain.NewSeenRecord(item, s.now()))
	if err != nil {
		return fmt.Errorf("%w: marshal item %d: %v", ErrStore, item.ID, err)
	}

	key := itemKey(item.ID)
	inserted := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.SetEntry(badger.NewEntry(key, value))
	})
	if err != nil {
		return fmt.Errorf("%w: insert item %d: %v", ErrStore, item.ID, err)
	}

	log := s.log.WithField("item_id", item.ID)
	if inserted {
		log.Debug("Item recorded")
	} else {
		log.Debug("Item already recorded")
	}
	return nil
}

// Count walks the item keys.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(itemPrefix); it.ValidForPrefix(itemPrefix); it.Next() {
			n++
		}
		return ctx.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStore, err)
	}
	return n, nil
}

// RunGC reclaims value-log space every interval until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.7)
			switch {
			case err == nil:
				s.log.Info("BadgerDB GC completed")
			case errors.Is(err, badger.ErrNoRewrite):
				s.log.Debug("BadgerDB GC: no rewrite needed")
			default:
				s.log.WithError(err).Error("BadgerDB GC failed")
			}
		case <-ctx.Done():
			s.log.Debug("Stopping BadgerDB GC routine")
			return
		}
	}
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
