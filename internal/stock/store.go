// Package stock is the stock/location collaborator used by row reservation
// handlers. A Store answers "how much can I earmark" and decrements
// availability atomically.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownLocation is returned when the location is not known to the store.
	ErrUnknownLocation = errors.New("unknown location")
	// ErrUnknownProduct is returned when the product has no stock record at all.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// PoolLocation is the location key of a product's unallocated pool.
const PoolLocation = ""

// Store reserves stock against a product at a location.
type Store interface {
	// Available returns the quantity currently reservable.
	Available(ctx context.Context, productRef, locationRef string) (int, error)
	// Reserve earmarks up to qty units and returns how many were reserved.
	// A short reservation is not an error.
	Reserve(ctx context.Context, productRef, locationRef string, qty int) (int, error)
	// Put adds qty units of availability.
	Put(ctx context.Context, productRef, locationRef string, qty int) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.Mutex
	levels    map[string]map[string]int // location -> product -> qty
	locations map[string]bool
}

// NewMemoryStore creates an empty store. The product pool location always exists.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		levels:    map[string]map[string]int{PoolLocation: {}},
		locations: map[string]bool{PoolLocation: true},
	}
}

// AddLocation registers a location with no stock.
func (s *MemoryStore) AddLocation(locationRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocationLocked(locationRef)
}

func (s *MemoryStore) addLocationLocked(locationRef string) {
	if !s.locations[locationRef] {
		s.locations[locationRef] = true
		s.levels[locationRef] = map[string]int{}
	}
}

func (s *MemoryStore) Available(ctx context.Context, productRef, locationRef string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locations[locationRef] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, locationRef)
	}
	qty, ok := s.levels[locationRef][productRef]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, productRef)
	}
	return qty, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, productRef, locationRef string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locations[locationRef] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLocation, locationRef)
	}
	have, ok := s.levels[locationRef][productRef]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownProduct, productRef)
	}

	n := min(have, qty)
	s.levels[locationRef][productRef] = have - n
	return n, nil
}

func (s *MemoryStore) Put(ctx context.Context, productRef, locationRef string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.addLocationLocked(locationRef)
	s.levels[locationRef][productRef] += qty
	return nil
}
