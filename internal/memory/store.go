package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ent0n29/chatrelay/internal/observability"
)

// SessionStore routes every operation for a session key through a single
// owner. An owner drains its mailbox in FIFO order on one goroutine and
// retires once the mailbox is empty, so idle sessions cost nothing.
type SessionStore struct {
	backend Backend
	metrics *observability.Metrics

	mu     sync.Mutex
	owners map[string]*owner
	closed bool
}

type owner struct {
	key string

	// mailbox is guarded by SessionStore.mu.
	mailbox []*op

	// log and loaded are touched only by the draining goroutine.
	log    []Message
	loaded bool
}

type op struct {
	ctx  context.Context
	name string
	run  func(ctx context.Context, o *owner) ([]Message, error)
	done chan opResult
}

type opResult struct {
	log []Message
	err error
}

var errStoreClosed = errors.New("store closed")

func NewSessionStore(backend Backend, metrics *observability.Metrics) *SessionStore {
	return &SessionStore{
		backend: backend,
		metrics: metrics,
		owners:  make(map[string]*owner),
	}
}

// Append persists current+[msg] for sessionKey.
func (s *SessionStore) Append(ctx context.Context, sessionKey string, msg Message) error {
	if err := validateKey(sessionKey); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := s.submit(ctx, sessionKey, "append", func(ctx context.Context, o *owner) ([]Message, error) {
		if err := s.ensureLoaded(ctx, o); err != nil {
			return nil, err
		}
		next := make([]Message, len(o.log), len(o.log)+1)
		copy(next, o.log)
		next = append(next, msg)
		if err := s.backend.Save(ctx, o.key, next); err != nil {
			// The write may have landed; reload on the next operation.
			o.loaded = false
			o.log = nil
			return nil, storageError("save", err)
		}
		o.log = next
		return nil, nil
	})
	return err
}

// List returns a copy of the persisted log, or an empty slice.
func (s *SessionStore) List(ctx context.Context, sessionKey string) ([]Message, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	return s.submit(ctx, sessionKey, "list", func(ctx context.Context, o *owner) ([]Message, error) {
		if err := s.ensureLoaded(ctx, o); err != nil {
			return nil, err
		}
		return cloneLog(o.log), nil
	})
}

// Close rejects new operations and closes the backend. Operations already
// queued fail with ErrStorageUnavailable once the backend is gone.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.backend.Close()
}

// ActiveOwners reports how many sessions currently have queued work.
func (s *SessionStore) ActiveOwners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}

func (s *SessionStore) submit(
	ctx context.Context,
	sessionKey, name string,
	run func(ctx context.Context, o *owner) ([]Message, error),
) ([]Message, error) {
	next := &op{ctx: ctx, name: name, run: run, done: make(chan opResult, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.metrics.ObserveStoreOp(name, "error")
		return nil, storageError(name, errStoreClosed)
	}
	o, ok := s.owners[sessionKey]
	if !ok {
		o = &owner{key: sessionKey}
		s.owners[sessionKey] = o
		s.metrics.OwnerStarted()
	}
	o.mailbox = append(o.mailbox, next)
	if !ok {
		go s.drain(o)
	}
	s.mu.Unlock()

	select {
	case res := <-next.done:
		if res.err != nil {
			s.metrics.ObserveStoreOp(name, "error")
			return nil, res.err
		}
		s.metrics.ObserveStoreOp(name, "ok")
		return res.log, nil
	case <-ctx.Done():
		// The operation may still run; callers only learn it did not finish in time.
		s.metrics.ObserveStoreOp(name, "canceled")
		return nil, storageError(name, ctx.Err())
	}
}

// drain is the owner's single execution context. An owner is registered
// exactly while drain runs for it, which keeps one owner per key.
func (s *SessionStore) drain(o *owner) {
	for {
		s.mu.Lock()
		if len(o.mailbox) == 0 {
			delete(s.owners, o.key)
			s.metrics.OwnerRetired()
			s.mu.Unlock()
			return
		}
		next := o.mailbox[0]
		o.mailbox[0] = nil
		o.mailbox = o.mailbox[1:]
		s.mu.Unlock()

		next.done <- s.execute(o, next)
	}
}

func (s *SessionStore) execute(o *owner, next *op) (res opResult) {
	if err := next.ctx.Err(); err != nil {
		return opResult{err: storageError(next.name, err)}
	}
	defer func() {
		if r := recover(); r != nil {
			o.loaded = false
			o.log = nil
			res = opResult{err: storageError(next.name, fmt.Errorf("backend panic: %v", r))}
		}
	}()
	log, err := next.run(next.ctx, o)
	return opResult{log: log, err: err}
}

func (s *SessionStore) ensureLoaded(ctx context.Context, o *owner) error {
	if o.loaded {
		return nil
	}
	log, err := s.backend.Load(ctx, o.key)
	if err != nil {
		return storageError("load", err)
	}
	o.log = log
	o.loaded = true
	return nil
}
