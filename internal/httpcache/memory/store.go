// Package memory provides an in-process LRU cache store.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

// Store keeps cache entries in a bounded, expiring LRU.
type Store struct {
	lru *expirable.LRU[string, item]
	now func() time.Time
}

// New builds a Store holding at most size entries, each living at most ttl.
func New(size int, ttl time.Duration) (*Store, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory cache size must be > 0, got %d", size)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("memory cache ttl must be > 0, got %s", ttl)
	}
	return &Store{
		lru: expirable.NewLRU[string, item](size, nil, ttl),
		now: time.Now,
	}, nil
}

// Get returns the stored bytes for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

// Put stores value under key. A ttl shorter than the LRU's own bound is
// honored per entry.
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.lru.Add(key, it)
	return nil
}

// Delete removes key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	return s.lru.Len()
}

// Close drops every entry.
func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
