package memory

import (
	"context"
	"strings"

	"github.com/ent0n29/chatrelay/internal/observability"
)

// Options selects where session logs live.
type Options struct {
	// MemoryURL points at a remote store served by Handler. It takes precedence.
	MemoryURL   string
	DatabaseURL string
	SQLitePath  string
}

// NewBackend creates a postgres-backed backend when configured, then sqlite,
// otherwise in-memory.
func NewBackend(ctx context.Context, opts Options) (Backend, string, error) {
	switch {
	case strings.TrimSpace(opts.DatabaseURL) != "":
		b, err := NewPostgresBackend(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return b, "postgres", nil
	case strings.TrimSpace(opts.SQLitePath) != "":
		b, err := NewSQLiteBackend(ctx, opts.SQLitePath)
		if err != nil {
			return nil, "", err
		}
		return b, "sqlite", nil
	default:
		return NewInMemoryBackend(), "in-memory", nil
	}
}

// NewStore returns a remote store when MemoryURL is set, otherwise a local
// SessionStore over the configured backend.
func NewStore(ctx context.Context, opts Options, metrics *observability.Metrics) (Store, string, error) {
	if u := strings.TrimSpace(opts.MemoryURL); u != "" {
		return NewRemoteStore(u), "remote", nil
	}
	backend, mode, err := NewBackend(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	return NewSessionStore(backend, metrics), mode, nil
}
