package syncstate

import (
	"context"
	"sort"
	"sync"
)

// MemoryEntityStore is an in-memory EntityStore.
type MemoryEntityStore struct {
	mu     sync.RWMutex
	states map[string]EntityState
}

var _ EntityStore = (*MemoryEntityStore)(nil)

func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{states: make(map[string]EntityState)}
}

func (s *MemoryEntityStore) Get(ctx context.Context, entityID string) (*EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entityID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryEntityStore) Put(ctx context.Context, state EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.EntityID] = state
	return nil
}

func (s *MemoryEntityStore) All(ctx context.Context) ([]EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EntityState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *MemoryEntityStore) Delete(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, entityID)
	return nil
}

func (s *MemoryEntityStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]EntityState)
	return nil
}

// MemoryMetadataStore is an in-memory MetadataStore.
type MemoryMetadataStore struct {
	mu    sync.RWMutex
	metas map[string]ScopeMetadata
}

var _ MetadataStore = (*MemoryMetadataStore)(nil)

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{metas: make(map[string]ScopeMetadata)}
}

func (s *MemoryMetadataStore) Get(ctx context.Context, scope string) (*ScopeMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metas[scope]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryMetadataStore) Put(ctx context.Context, meta ScopeMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[meta.Scope] = meta
	return nil
}

func (s *MemoryMetadataStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas = make(map[string]ScopeMetadata)
	return nil
}
