package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in a map keyed by id. It backs the
// zero-configuration mode and the pipeline tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]audit.AuditEntry
	failing error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]audit.AuditEntry)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]audit.AuditEntry)
}

// FailWith makes every operation return err until called again with nil.
func (s *InMemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

// Insert stores entry unless its id is already present.
func (s *InMemoryStore) Insert(_ context.Context, entry audit.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return fmt.Errorf("insert audit entry: %w", s.failing)
	}
	if _, ok := s.entries[entry.ID]; ok {
		return nil
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *InMemoryStore) Count(_ context.Context, filter audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return 0, fmt.Errorf("count audit entries: %w", s.failing)
	}
	var n int64
	for _, e := range s.entries {
		if filter.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountAll(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return 0, fmt.Errorf("count audit entries: %w", s.failing)
	}
	return int64(len(s.entries)), nil
}

// Find returns matching entries newest first.
func (s *InMemoryStore) Find(_ context.Context, filter audit.Filter, offset, limit int) ([]audit.AuditEntry, error) {
	if offset < 0 {
		return nil, fmt.Errorf("find audit entries: negative offset %d", offset)
	}
	s.mu.RLock()
	if s.failing != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("find audit entries: %w", s.failing)
	}
	matched := make([]audit.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b audit.AuditEntry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if offset >= len(matched) || limit <= 0 {
		return []audit.AuditEntry{}, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (audit.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing != nil {
		return audit.AuditEntry{}, fmt.Errorf("find audit entry: %w", s.failing)
	}
	e, ok := s.entries[id]
	if !ok {
		return audit.AuditEntry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return e, nil
}
