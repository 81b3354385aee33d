// Package postgres records per-document indexing status in an optional
// PostgreSQL table so that upstream producers can see which documents made
// it into a published index generation.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
)

const (
	StatusQueued  = "QUEUED"
	StatusIndexed = "INDEXED"
	StatusDeleted = "DELETED"
	StatusFailed  = "FAILED"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_status (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	generation  BIGINT NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertStatus = `
INSERT INTO document_status (id, status, generation, updated_at)
SELECT unnest($1::text[]), $2, $3, NOW()
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, generation = EXCLUDED.generation, updated_at = EXCLUDED.updated_at`

const selectStatus = `SELECT id, status, generation, updated_at FROM document_status WHERE id = $1`

// DocumentStatus is the last recorded outcome for one document id.
type DocumentStatus struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Client struct {
	DB *sql.DB
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating document_status table: %w", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SetStatus records status for every id in statuses within one
// transaction. generation is the index generation the batch was published
// in.
func (c *Client) SetStatus(ctx context.Context, generation uint64, statuses map[string][]string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for status, ids := range statuses {
			if len(ids) == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, upsertStatus, pq.Array(ids), status, int64(generation)); err != nil {
				return fmt.Errorf("updating %d documents to %s: %w", len(ids), status, err)
			}
		}
		return nil
	})
}

// Status returns the recorded status of id. found is false when nothing was
// ever recorded for it.
func (c *Client) Status(ctx context.Context, id string) (st DocumentStatus, found bool, err error) {
	var generation int64
	err = c.DB.QueryRowContext(ctx, selectStatus, id).Scan(&st.ID, &st.Status, &generation, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentStatus{}, false, nil
	}
	if err != nil {
		return DocumentStatus{}, false, fmt.Errorf("reading status of %q: %w", id, err)
	}
	st.Generation = uint64(generation)
	return st, true, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}
