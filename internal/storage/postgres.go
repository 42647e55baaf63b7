package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig mirrors the teacher's CockroachConfig connection-pool
// shape (internal/jobs/cockroach.go), reused here for the persistence
// backend rather than the job-queue store it originally configured.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresBackend persists a single named snapshot row per chain into a
// `veronica_snapshots` table (id text primary key, data jsonb, updated_at
// timestamptz). Backup copies the current row into `veronica_snapshot_backups`.
type PostgresBackend struct {
	db *sql.DB
	id string
}

// NewPostgresBackend opens dsn and pings it before returning, exactly like
// the teacher's NewCockroachStoreFromDSN. id scopes this backend's rows to
// one chain/run so multiple chains can share a table.
func NewPostgresBackend(dsn, id string, cfg PostgresConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresBackend{db: db, id: id}, nil
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func (b *PostgresBackend) Save(data map[string]any) (bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO veronica_snapshots (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = $2, updated_at = now()
	`, b.id, payload)
	if err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}
	return true, nil
}

func (b *PostgresBackend) Load() (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM veronica_snapshots WHERE id = $1`, b.id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return data, nil
}

func (b *PostgresBackend) Backup() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO veronica_snapshot_backups (id, data, backed_up_at)
		SELECT id, data, now() FROM veronica_snapshots WHERE id = $1
	`, b.id)
	if err != nil {
		return false, fmt.Errorf("backup snapshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("backup snapshot: %w", err)
	}
	return rows > 0, nil
}
