package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
	"github.com/okian/roomsync/pkg/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	doc        TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists each room as one JSON document guarded by its
// version column.
type SQLiteStore struct {
	opts  options
	sqlDB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{opts: o, sqlDB: sqlDB}, nil
}

// Create inserts a new room at version 1.
func (s *SQLiteStore) Create(ctx context.Context, room *model.Room) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("sqlite", "create", sinceMs(start)) }()

	c := room.Clone()
	c.StatusVersion = 1
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO rooms (id, version, doc, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.StatusVersion, string(doc), c.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, id string) (*model.Room, error) {
	var (
		version int64
		doc     string
	)
	err := q.QueryRowContext(ctx, `SELECT version, doc FROM rooms WHERE id = ?`, id).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	var room model.Room
	if err := json.Unmarshal([]byte(doc), &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	room.StatusVersion = version
	return &room, nil
}

// Get returns the stored room.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Room, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("sqlite", "get", sinceMs(start)) }()
	return s.load(ctx, s.sqlDB, id)
}

// Update reads, mutates and writes the room in one transaction. Transactions
// begin IMMEDIATE so the write lock is taken before the read; a deferred
// transaction could not upgrade once another room committed in between. The
// write is still conditional on the version read.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn MutateFunc) (*model.Room, bool, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("sqlite", "update", sinceMs(start)) }()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, false, nil
		}
		return nil, false, err
	}
	stamp(working, current.StatusVersion, s.opts.clock.Now())

	doc, err := json.Marshal(working)
	if err != nil {
		return nil, false, fmt.Errorf("encode room: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rooms SET version = ?, doc = ?, updated_at = ? WHERE id = ? AND version = ?`,
		working.StatusVersion, string(doc), working.UpdatedAt.UTC().UnixMilli(), id, current.StatusVersion,
	)
	if err != nil {
		return nil, false, fmt.Errorf("update room: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, false, fmt.Errorf("update room: %w", err)
	} else if n != 1 {
		metrics.RecordStoreConflict()
		return nil, false, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit room: %w", err)
	}
	return working, true, nil
}

// Count returns the number of rooms.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
