package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS fx_store (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
	path   string
}

// NewSQLiteStore opens the database at config.Path, or an in-memory
// database when the path is empty.
func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.StorageConfig) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite")
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to create sqlite schema")
	}

	return &SQLiteStore{db: db, logger: logger, path: path}, nil
}

func (s *SQLiteStore) Start() error {
	s.logger.Info("SQLite store opened", zap.String("path", s.path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite")
	}
	return nil
}

func (s *SQLiteStore) IsRunning() bool { return true }

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM fx_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Errorf(types.ErrStorageKeyNotFound, "%s", key)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fx_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fx_store WHERE key = ?`, key); err != nil {
		return types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM fx_store WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix)
	if err != nil {
		return nil, types.Errorf(types.ErrStorageOperationFailed, "%v", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, types.Errorf(types.ErrStorageOperationFailed, "%v", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
