// Package store holds the in-process item sequence served by the API.
package store

import (
	"errors"
	"sync"

	"github.com/fjacquet/items_api/internal/models"
)

// ErrNotFound is returned by Get when no item carries the requested name.
var ErrNotFound = errors.New("item not found")

// ItemStore is an append-only, insertion-ordered sequence of items.
// Lookups return the first item whose name matches; duplicates are kept.
//
// Thread-safety: all methods are safe for concurrent use. The lock only
// protects the slice header; ordering semantics are the same as a plain list.
type ItemStore struct {
	mu    sync.RWMutex
	items []models.Item
}

// New creates a store pre-populated with the given items, in order.
func New(seed ...models.Item) *ItemStore {
	items := make([]models.Item, len(seed))
	copy(items, seed)
	return &ItemStore{items: items}
}

// NewSeeded creates a store holding the two items present at process start.
func NewSeeded() *ItemStore {
	return New(models.SeedItems()...)
}

// List returns a copy of every item in insertion order.
func (s *ItemStore) List() []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Item, len(s.items))
	copy(out, s.items)
	return out
}

// FindByName returns the first item named name.
func (s *ItemStore) FindByName(name string) (models.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Name == name {
			return item, true
		}
	}
	return models.Item{}, false
}

// Get is FindByName with an error result, for callers that propagate errors.
func (s *ItemStore) Get(name string) (models.Item, error) {
	item, ok := s.FindByName(name)
	if !ok {
		return models.Item{}, ErrNotFound
	}
	return item, nil
}

// Append adds item to the end of the sequence. It never fails.
func (s *ItemStore) Append(item models.Item) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
}

// Len returns the number of stored items.
func (s *ItemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
