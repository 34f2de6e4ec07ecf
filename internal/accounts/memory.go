package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps accounts in process memory. Used by tests and memory:// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Account
	aliases map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]Account{},
		aliases: map[string]string{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Merge(_ context.Context, id string, patch Patch) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	rec, ok := s.records[id]
	if !ok {
		rec = Account{CanonicalID: id, CreatedAt: now}
	}
	if !patch.Matches(rec) {
		if !ok {
			return Account{}, ErrNotFound
		}
		return rec, nil
	}
	rec = patch.Apply(rec)
	rec.UpdatedAt = now
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	for variant, owner := range s.aliases {
		if owner == id {
			delete(s.aliases, variant)
		}
	}
	return nil
}

func (s *MemoryStore) RegisterAlias(_ context.Context, id, variant string) error {
	id = strings.TrimSpace(id)
	variant = strings.TrimSpace(variant)
	if id == "" || variant == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	s.aliases[variant] = id
	return nil
}

func (s *MemoryStore) LookupAlias(_ context.Context, variant string) (string, error) {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return "", ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[variant]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
