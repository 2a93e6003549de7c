package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists session logs in a single-file SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_logs (
		session_key TEXT PRIMARY KEY,
		messages    TEXT NOT NULL DEFAULT '[]',
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_logs_updated ON chat_logs(updated_at DESC);
	`
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context, sessionKey string) ([]Message, error) {
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_logs WHERE session_key = ?`,
		sessionKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat log: %w", err)
	}
	return decodeLog([]byte(raw))
}

func (b *SQLiteBackend) Save(ctx context.Context, sessionKey string, log []Message) error {
	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal chat log: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO chat_logs (session_key, messages, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		sessionKey,
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save chat log: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
