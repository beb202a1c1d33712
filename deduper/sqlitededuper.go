package deduper

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

// sqliteDeduper persists keys in a sqlite table so record dedup holds
// across process restarts. Schema: dedup_keys(key TEXT PRIMARY KEY,
// created_at INT).
type sqliteDeduper struct {
	db  *sql.DB
	mux sync.Mutex
}

var _ Deduper = (*sqliteDeduper)(nil)

// NewPersistentSQLite opens (or creates) the database at path and
// ensures the dedup_keys table exists.
func NewPersistentSQLite(path string) (Deduper, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// This handle only serves dedup writes; one connection suffices.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dedup_keys (
			key TEXT PRIMARY KEY,
			created_at INT NOT NULL
		)
	`); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &sqliteDeduper{db: db}, nil
}

// AddIfNotExists records the key with INSERT OR IGNORE. On database
// errors it reports the key as unseen so transient failures never
// drop results.
func (d *sqliteDeduper) AddIfNotExists(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}

	d.mux.Lock()
	defer d.mux.Unlock()

	res, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO dedup_keys(key, created_at) VALUES(?, ?)",
		key, time.Now().UTC().Unix(),
	)
	if err != nil {
		return true
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return true
	}

	return rows == 1
}

// Close releases the connection.
func (d *sqliteDeduper) Close() error {
	if d == nil || d.db == nil {
		return nil
	}

	return d.db.Close()
}
