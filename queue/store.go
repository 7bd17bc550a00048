package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OperationStore persists the main operation queue.
// Implementations must be safe for concurrent use.
type OperationStore interface {
	// Insert persists a new operation.
	Insert(ctx context.Context, op Operation) error

	// Update replaces a persisted operation.
	Update(ctx context.Context, op Operation) error

	// Get returns an operation by id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*Operation, error)

	// Delete removes an operation by id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error

	// List returns all operations.
	List(ctx context.Context) ([]Operation, error)

	// ListByStatus returns all operations with the given status.
	ListByStatus(ctx context.Context, status Status) ([]Operation, error)

	// DeleteByStatus removes all operations with the given status and
	// returns the number removed.
	DeleteByStatus(ctx context.Context, status Status) (int, error)

	// Clear removes everything and returns the number removed.
	Clear(ctx context.Context) (int, error)
}

// DeadLetterStore persists operations that exhausted their retries. They
// remain inspectable and manually retryable.
type DeadLetterStore interface {
	// Insert adds an operation to the dead-letter store.
	Insert(ctx context.Context, op Operation) error

	// Get returns a dead-lettered operation by id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*Operation, error)

	// Remove deletes a dead-lettered operation by id.
	Remove(ctx context.Context, id string) error

	// All returns every dead-lettered operation.
	All(ctx context.Context) ([]Operation, error)

	// Clear removes everything and returns the number removed.
	Clear(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory OperationStore.
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

var _ OperationStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]Operation)}
}

func (s *MemoryStore) Insert(ctx context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(func(Operation) bool { return true }), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(func(op Operation) bool { return op.Status == status }), nil
}

func (s *MemoryStore) DeleteByStatus(ctx context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, op := range s.ops {
		if op.Status == status {
			delete(s.ops, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.ops)
	s.ops = make(map[string]Operation)
	return removed, nil
}

// snapshot copies matching operations in stable creation order.
// Callers must hold at least a read lock.
func (s *MemoryStore) snapshot(match func(Operation) bool) []Operation {
	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		if match(op) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MemoryDeadLetterStore is an in-memory DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

var _ DeadLetterStore = (*MemoryDeadLetterStore)(nil)

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{ops: make(map[string]Operation)}
}

func (s *MemoryDeadLetterStore) Insert(ctx context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryDeadLetterStore) Get(ctx context.Context, id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (s *MemoryDeadLetterStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryDeadLetterStore) All(ctx context.Context) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryDeadLetterStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.ops)
	s.ops = make(map[string]Operation)
	return removed, nil
}

// sortPending orders operations for processing: priority descending, then
// FIFO by creation time within a priority band.
func sortPending(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].ID < ops[j].ID
	})
}

// filterEligible keeps pending operations whose backoff window has passed.
func filterEligible(ops []Operation, now time.Time) []Operation {
	out := ops[:0]
	for _, op := range ops {
		if op.Eligible(now) {
			out = append(out, op)
		}
	}
	return out
}
