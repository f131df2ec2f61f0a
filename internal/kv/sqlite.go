package kv

import (
	"context"
	"database/sql"
	"time"
)

// SQLite stores keys in the kv table. Expiry is enforced at read time.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db, Now: time.Now}
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	var expires sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE store_key=?`, key).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		exp, perr := time.Parse(time.RFC3339Nano, expires.String)
		if perr == nil && !s.now().Before(exp) {
			return nil, ErrNotFound
		}
	}
	return []byte(value), nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = s.now().Add(ttl).UTC().Format(time.RFC3339Nano)
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO kv(store_key,value,expires_at) VALUES (?,?,?)
		 ON CONFLICT(store_key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, string(value), expires)
	return err
}

func (s *SQLite) Del(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM kv WHERE store_key=?`, key)
	return err
}
