package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"sleepwatch/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS seen_items (
	id             INTEGER PRIMARY KEY,
	link           TEXT NOT NULL,
	title          TEXT NOT NULL,
	original_price TEXT NOT NULL,
	sold_price     TEXT NOT NULL,
	image_url      TEXT NOT NULL DEFAULT '',
	notified_at    TEXT NOT NULL
);`

// SQLiteStore implements SeenStore on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
	now func() time.Time
}

var _ SeenStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and creates the schema if needed.
func NewSQLiteStore(path string, logger logrus.FieldLogger) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite at %s: %v", ErrStore, path, err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStore, err)
	}
	logger.WithField("path", path).Info("SQLite store opened")

	return &SQLiteStore{
		db:  db,
		log: logger.WithField("component", "store"),
		now: time.Now,
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStore, err)
	}
	s.log.Info("SQLite store closed")
	return nil
}

// LookupMany returns the ids that have a row.
func (s *SQLiteStore) LookupMany(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	found := make(map[int64]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM seen_items WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %d ids: %v", ErrStore, len(ids), err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %v", ErrStore, err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: lookup %d ids: %v", ErrStore, len(ids), err)
	}

	s.log.WithFields(logrus.Fields{"count": len(ids), "found": len(found)}).Debug("Looked up items")
	return found, nil
}

// Insert adds a row for item; an existing id is left untouched.
func (s *SQLiteStore) Insert(ctx context.Context, item domain.Item) error {
	rec := domain.NewSeenRecord(item, s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_items (id, link, title, original_price, sold_price, image_url, notified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Link, rec.Title,
		rec.OriginalPrice.StringFixed(2), rec.SoldPrice.StringFixed(2),
		rec.ImageURL, rec.NotifiedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: insert item %d: %v", ErrStore, item.ID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.log.WithField("item_id", item.ID).Debug("Item already recorded")
	} else {
		s.log.WithField("item_id", item.ID).Debug("Item recorded")
	}
	return nil
}

// Count returns the number of rows.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_items").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStore, err)
	}
	return n, nil
}
