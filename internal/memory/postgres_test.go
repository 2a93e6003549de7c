package memory

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestPostgresBackendRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	b, err := NewPostgresBackend(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresBackend() error = %v", err)
	}
	defer b.Close()

	key := "test-" + uuid.NewString()
	log, err := b.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("len(Load()) = %d, want 0", len(log))
	}

	s := NewSessionStore(b, nil)
	if err := s.Append(ctx, key, UserMessage("hello")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, key, AssistantMessage("hi")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := b.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 || got[1].Role != RoleAssistant {
		t.Fatalf("Load() = %+v, want user then assistant", got)
	}
}
