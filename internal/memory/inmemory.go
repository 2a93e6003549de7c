package memory

import (
	"context"
	"sync"
)

// InMemoryBackend keeps session logs in process memory for local/dev use.
type InMemoryBackend struct {
	mu   sync.RWMutex
	logs map[string][]Message
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{logs: make(map[string][]Message)}
}

func (b *InMemoryBackend) Load(_ context.Context, sessionKey string) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneLog(b.logs[sessionKey]), nil
}

func (b *InMemoryBackend) Save(_ context.Context, sessionKey string, log []Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[sessionKey] = cloneLog(log)
	return nil
}

func (b *InMemoryBackend) Close() error { return nil }
