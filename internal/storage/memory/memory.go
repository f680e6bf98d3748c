// Package memory is a process-local expense store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	items []core.Expense
	byKey map[string]int
}

var _ storage.Repository = (*Store)(nil)

func New(seed ...core.Expense) *Store {
	s := &Store{byKey: make(map[string]int)}
	for _, e := range seed {
		_ = s.Insert(context.Background(), e)
	}
	return s
}

func (s *Store) GetByIdempotencyKey(_ context.Context, key string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byKey[key]
	if !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	return s.items[i], nil
}

// Insert stores the expense unless its idempotency key is already taken.
func (s *Store) Insert(_ context.Context, e core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[e.IdempotencyKey]; ok {
		return storage.ErrDuplicateKey
	}
	s.byKey[e.IdempotencyKey] = len(s.items)
	s.items = append(s.items, e)
	return nil
}

func (s *Store) List(_ context.Context, f core.ListFilter) ([]core.Expense, error) {
	s.mu.Lock()
	out := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	if f.Sort == core.SortDateDesc {
		sort.SliceStable(out, func(i, j int) bool { return core.DateDescLess(out[i], out[j]) })
	}
	return out, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
