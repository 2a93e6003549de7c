package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists each session log as a JSONB array in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_logs (
			session_key TEXT PRIMARY KEY,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_logs_updated ON chat_logs (updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, sessionKey string) ([]Message, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT messages FROM chat_logs WHERE session_key=$1`,
		sessionKey,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	return decodeLog(raw)
}

func (b *PostgresBackend) Save(ctx context.Context, sessionKey string, log []Message) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal chat log: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO chat_logs (session_key, messages, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_key) DO UPDATE SET
			messages=EXCLUDED.messages,
			updated_at=EXCLUDED.updated_at`,
		sessionKey,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chat log: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func decodeLog(raw []byte) ([]Message, error) {
	out := []Message{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode chat log: %w", err)
	}
	return out, nil
}
