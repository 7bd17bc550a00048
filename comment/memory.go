package comment

import (
	"context"
	"sort"
	"sync"

	syncErrors "github.com/syncwell/commentsync/errors"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// hosts that keep their comment cache elsewhere.
type MemoryStore struct {
	mu       sync.RWMutex
	comments map[string]Comment
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{comments: make(map[string]Comment)}
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Comment, 0, len(s.comments))
	for _, c := range s.comments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, syncErrors.NewNotFound(syncErrors.OpLoad, "comment/memory",
			errNotFound(id))
	}
	return &c, nil
}

func (s *MemoryStore) Save(ctx context.Context, c Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = make(map[string]Comment)
	return nil
}

type errNotFound string

func (e errNotFound) Error() string { return "comment not found: " + string(e) }
