package convo

import (
	"context"
	"sync"
)

// MemStore is the in-process backend. It is the default when no
// persistence is configured and the fixture for unit tests.
type MemStore struct {
	mu   sync.Mutex
	max  int
	logs map[string][]Entry
}

func NewMemStore(maxMessages int) *MemStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemStore{
		max:  maxMessages,
		logs: make(map[string][]Entry),
	}
}

func (s *MemStore) Load(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tailWindow(s.logs[identity], limit), nil
}

func (s *MemStore) Append(ctx context.Context, identity string, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[identity] = trimWindow(append(s.logs[identity], entries...), s.max)
	return nil
}

func (s *MemStore) Clear(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, identity)
	return nil
}
