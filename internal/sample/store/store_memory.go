package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"auditrelay/internal/sample"
	"auditrelay/pkg/platform/sentinel"
)

// InMemory keeps sample items in a map guarded by a RWMutex. IDs come from an
// atomic counter so they are unique even across concurrent creates.
type InMemory struct {
	mu     sync.RWMutex
	items  map[int64]sample.Item
	nextID atomic.Int64
	now    func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		items: make(map[int64]sample.Item),
		now:   time.Now,
	}
}

// List returns all items ordered by id.
func (s *InMemory) List(_ context.Context) ([]sample.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]sample.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Get(_ context.Context, id int64) (sample.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return sample.Item{}, fmt.Errorf("sample item %d: %w", id, sentinel.ErrNotFound)
	}
	return item, nil
}

// Create assigns the next id and a UTC creation time.
func (s *InMemory) Create(_ context.Context, req sample.ItemRequest) (sample.Item, error) {
	item := sample.Item{
		ID:          s.nextID.Add(1),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return item, nil
}

// Update replaces name and description; id and CreatedAt are kept.
func (s *InMemory) Update(_ context.Context, id int64, req sample.ItemRequest) (sample.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return sample.Item{}, fmt.Errorf("sample item %d: %w", id, sentinel.ErrNotFound)
	}
	item.Name = req.Name
	item.Description = req.Description
	s.items[id] = item
	return item, nil
}

func (s *InMemory) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("sample item %d: %w", id, sentinel.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}
