// Package sqlite is the on-disk job repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/sadewadee/mapharvest/web"
)

type repo struct {
	db  *sql.DB
	mux sync.Mutex
}

var _ web.Repository = (*repo)(nil)

// New opens (or creates) the job database at path.
func New(path string) (web.Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()

		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &repo{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`)

	return err
}

func (r *repo) Get(ctx context.Context, id string) (web.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT payload FROM jobs WHERE id = ?", id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return web.Job{}, fmt.Errorf("job %s not found", id)
		}

		return web.Job{}, err
	}

	var job web.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return web.Job{}, fmt.Errorf("job %s: corrupt payload: %w", id, err)
	}

	return job, nil
}

func (r *repo) Create(ctx context.Context, job *web.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO jobs(id, user_id, status, payload, created_at) VALUES(?, ?, ?, ?, ?)",
		job.ID, job.UserID, job.Status, payload, job.CreatedAt.UTC().Unix(),
	)

	return err
}

func (r *repo) Update(ctx context.Context, job *web.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	res, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, payload = ? WHERE id = ?",
		job.Status, payload, job.ID,
	)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s not found", job.ID)
	}

	return nil
}

func (r *repo) Delete(ctx context.Context, id string) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	_, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)

	return err
}

func (r *repo) Select(ctx context.Context, params web.SelectParams) ([]web.Job, error) {
	q := "SELECT payload FROM jobs"

	var (
		conds []string
		args  []any
	)

	if params.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, params.UserID)
	}

	if params.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, params.Status)
	}

	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}

	if params.Status == web.StatusWaiting {
		// The worker drains the queue oldest first.
		q += " ORDER BY created_at ASC"
	} else {
		q += " ORDER BY created_at DESC"
	}

	if params.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", params.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []web.Job

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var job web.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
