// Package postgres mirrors finished job results into a shared
// database, for deployments where the CSV on disk is not enough.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/sadewadee/mapharvest/gmaps"
	"github.com/sadewadee/mapharvest/web"
)

const maxBatchSize = 50

// Open connects and ensures the results table exists.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			job_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (job_id, data)
		)
	`)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

// ResultWriter batches records into the results table.
type ResultWriter struct {
	db *sql.DB
}

func NewResultWriter(db *sql.DB) *ResultWriter {
	return &ResultWriter{db: db}
}

func (r *ResultWriter) WriteAll(ctx context.Context, job *web.Job, records []gmaps.Business) error {
	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}

		if err := r.batchSave(ctx, job, records[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (r *ResultWriter) batchSave(ctx context.Context, job *web.Job, records []gmaps.Business) error {
	if len(records) == 0 {
		return nil
	}

	q := "INSERT INTO results (job_id, user_id, data) VALUES "

	elements := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*3)

	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return err
		}

		n := len(args)
		elements = append(elements, fmt.Sprintf("($%d, $%d, $%d)", n+1, n+2, n+3))
		args = append(args, job.ID, job.UserID, data)
	}

	q += strings.Join(elements, ", ")
	q += " ON CONFLICT DO NOTHING"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}

	return tx.Commit()
}
