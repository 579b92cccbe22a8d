package storage

import (
	"context"
	"sync"
)

// MemStore keeps processed records in memory.
//
// Create appends without checking for an existing key. Delete removes the
// first entry whose key matches. It is safe for concurrent use and is meant
// to be shared by reference between watchers.
type MemStore[T Keyed[K], K comparable] struct {
	mu    sync.RWMutex
	items []T
}

func NewMemStore[T Keyed[K], K comparable](seed ...T) *MemStore[T, K] {
	return &MemStore[T, K]{items: append([]T(nil), seed...)}
}

func (s *MemStore[T, K]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]T(nil), s.items...)
	s.mu.RUnlock()
	return out, nil
}

func (s *MemStore[T, K]) Find(ctx context.Context, key K) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.Key() == key {
			return it, true, nil
		}
	}
	return zero, false, nil
}

func (s *MemStore[T, K]) Create(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return nil
}

func (s *MemStore[T, K]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = removeFirst(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len is the number of stored entries, duplicates included.
func (s *MemStore[T, K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func removeFirst[T Keyed[K], K comparable](items []T, key K) []T {
	for i, it := range items {
		if it.Key() == key {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
