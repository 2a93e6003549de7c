package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/chatrelay/internal/observability"
)

func newTestStore(t *testing.T, backend Backend) *SessionStore {
	t.Helper()
	s := NewSessionStore(backend, observability.NewMetrics("test_memory"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestListEmptySessionReturnsEmptySlice(t *testing.T) {
	s := newTestStore(t, NewInMemoryBackend())

	log, err := s.List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if log == nil || len(log) != 0 {
		t.Fatalf("List() = %#v, want empty non-nil slice", log)
	}
}

func TestAppendThenListReadsYourWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewInMemoryBackend())

	if err := s.Append(ctx, "s1", UserMessage("hello")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	want := AssistantMessage("hi there")
	if err := s.Append(ctx, "s1", want); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	log, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("len(log) = %d, want 2", len(log))
	}
	if log[len(log)-1] != want {
		t.Fatalf("last = %+v, want %+v", log[len(log)-1], want)
	}
}

func TestListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewInMemoryBackend())
	if err := s.Append(ctx, "s1", UserMessage("original")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	log, _ := s.List(ctx, "s1")
	log[0].Text = "mutated"

	again, _ := s.List(ctx, "s1")
	if again[0].Text != "original" {
		t.Fatalf("store log aliased by caller: %q", again[0].Text)
	}
}

func TestConcurrentAppendsToSameSessionAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, &slowBackend{Backend: NewInMemoryBackend(), delay: time.Millisecond})

	const n = 64
	var g errgroup.Group
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("msg-%02d", i)
		g.Go(func() error {
			return s.Append(ctx, "shared", UserMessage(text))
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	log, err := s.List(ctx, "shared")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != n {
		t.Fatalf("len(log) = %d, want %d", len(log), n)
	}
	seen := make(map[string]bool, n)
	for _, m := range log {
		if seen[m.Text] {
			t.Fatalf("duplicate entry %q", m.Text)
		}
		seen[m.Text] = true
	}
}

func TestSameSessionOperationsRunInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	backend := &gatedBackend{Backend: NewInMemoryBackend(), gate: gate, key: "s1"}
	s := newTestStore(t, backend)

	errs := make(chan error, 3)
	go func() { errs <- s.Append(ctx, "s1", UserMessage("first")) }()
	waitForMailbox(t, s, "s1", 0)
	go func() { errs <- s.Append(ctx, "s1", UserMessage("second")) }()
	waitForMailbox(t, s, "s1", 1)
	go func() { errs <- s.Append(ctx, "s1", UserMessage("third")) }()
	waitForMailbox(t, s, "s1", 2)

	close(gate)
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	log, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := []string{log[0].Text, log[1].Text, log[2].Text}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDifferentSessionsProceedIndependently(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	defer close(gate)
	s := newTestStore(t, &gatedBackend{Backend: NewInMemoryBackend(), gate: gate, key: "blocked"})

	go func() { _ = s.Append(ctx, "blocked", UserMessage("stuck")) }()
	waitForMailbox(t, s, "blocked", 0)

	done := make(chan error, 1)
	go func() { done <- s.Append(ctx, "free", UserMessage("goes through")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("append to an unrelated session waited on a blocked session")
	}
}

func TestSaveFailureReportsStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Backend: NewInMemoryBackend()}
	s := newTestStore(t, backend)

	if err := s.Append(ctx, "s1", UserMessage("kept")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	backend.setFailSave(true)
	err := s.Append(ctx, "s1", UserMessage("lost"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Append() error = %v, want ErrStorageUnavailable", err)
	}

	backend.setFailSave(false)
	log, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != 1 || log[0].Text != "kept" {
		t.Fatalf("log = %+v, want only the persisted message", log)
	}
}

func TestLoadFailureReportsStorageUnavailable(t *testing.T) {
	backend := &failingBackend{Backend: NewInMemoryBackend(), failLoad: true}
	s := newTestStore(t, backend)

	_, err := s.List(context.Background(), "s1")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("List() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t, NewInMemoryBackend())

	if err := s.Append(context.Background(), "s1", Message{Role: "system", Text: "x"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Append() error = %v, want ErrInvalidMessage", err)
	}
	if err := s.Append(context.Background(), "  ", UserMessage("x")); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Append() error = %v, want ErrInvalidMessage", err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := NewSessionStore(NewInMemoryBackend(), nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Append(context.Background(), "s1", UserMessage("late")); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Append() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestOwnersRetireWhenIdle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewInMemoryBackend())
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, fmt.Sprintf("s%d", i), UserMessage("x")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveOwners() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveOwners() = %d, want 0", s.ActiveOwners())
		}
		time.Sleep(5 * time.Millisecond)
	}

	log, err := s.List(ctx, "s3")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("len(log) = %d after owner reload, want 1", len(log))
	}
}

func TestCanceledContextFailsWithoutBlocking(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	s := newTestStore(t, &gatedBackend{Backend: NewInMemoryBackend(), gate: gate, key: "s1"})

	go func() { _ = s.Append(context.Background(), "s1", UserMessage("holds the owner")) }()
	waitForMailbox(t, s, "s1", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.List(ctx, "s1"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("List() error = %v, want ErrStorageUnavailable", err)
	}
}

// waitForMailbox blocks until sessionKey has an owner whose mailbox holds
// exactly queued operations behind the one being executed.
func waitForMailbox(t *testing.T, s *SessionStore, sessionKey string, queued int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		o, ok := s.owners[sessionKey]
		n := -1
		if ok {
			n = len(o.mailbox)
		}
		s.mu.Unlock()
		if n == queued {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mailbox for %q has %d queued, want %d", sessionKey, n, queued)
		}
		time.Sleep(time.Millisecond)
	}
}

type slowBackend struct {
	Backend
	delay time.Duration
}

func (b *slowBackend) Save(ctx context.Context, sessionKey string, log []Message) error {
	time.Sleep(b.delay)
	return b.Backend.Save(ctx, sessionKey, log)
}

// gatedBackend blocks saves for one key until gate is closed.
type gatedBackend struct {
	Backend
	gate <-chan struct{}
	key  string
}

func (b *gatedBackend) Save(ctx context.Context, sessionKey string, log []Message) error {
	if sessionKey == b.key {
		<-b.gate
	}
	return b.Backend.Save(ctx, sessionKey, log)
}

type failingBackend struct {
	Backend
	mu       sync.Mutex
	failSave bool
	failLoad bool
}

func (b *failingBackend) setFailSave(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSave = v
}

func (b *failingBackend) Load(ctx context.Context, sessionKey string) ([]Message, error) {
	b.mu.Lock()
	fail := b.failLoad
	b.mu.Unlock()
	if fail {
		return nil, errors.New("disk on fire")
	}
	return b.Backend.Load(ctx, sessionKey)
}

func (b *failingBackend) Save(ctx context.Context, sessionKey string, log []Message) error {
	b.mu.Lock()
	fail := b.failSave
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Backend.Save(ctx, sessionKey, log)
}
