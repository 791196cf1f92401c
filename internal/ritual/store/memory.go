package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"badal/internal/ritual/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	"badal/pkg/platform/tx"
)

// InMemoryStore keeps the ledger in maps. WithBookingLock serializes
// appends per booking and WithMediaLock serializes them per media hash;
// every other method takes only the map lock, so they are safe to call from
// inside either.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    map[id.RitualEventID]*models.RitualEvent
	byBooking map[id.BookingID][]id.RitualEventID
	byHash    map[string][]id.RitualEventID
	locks     tx.ShardedMutex
	media     tx.ShardedMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:    make(map[id.RitualEventID]*models.RitualEvent),
		byBooking: make(map[id.BookingID][]id.RitualEventID),
		byHash:    make(map[string][]id.RitualEventID),
	}
}

func (s *InMemoryStore) WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error {
	unlock := s.locks.Lock(bookingID.String())
	defer unlock()
	return fn(ctx)
}

// WithMediaLock runs fn holding the lock for hash. Callers take it inside
// WithBookingLock, never the other way round. An empty hash locks nothing.
func (s *InMemoryStore) WithMediaLock(ctx context.Context, hash string, fn func(ctx context.Context) error) error {
	key := hashKey(hash)
	if key == "" {
		return fn(ctx)
	}
	unlock := s.media.Lock(key)
	defer unlock()
	return fn(ctx)
}

// Create inserts e. A second event with the same (booking, step order)
// is a conflict, mirroring the table's unique constraint.
func (s *InMemoryStore) Create(_ context.Context, e *models.RitualEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("ritual event %s: %w", e.ID, sentinel.ErrConflict)
	}
	for _, existing := range s.byBooking[e.BookingID] {
		if s.events[existing].StepOrder == e.StepOrder {
			return fmt.Errorf("booking %s step %d: %w", e.BookingID, e.StepOrder, sentinel.ErrConflict)
		}
	}
	s.events[e.ID] = e.Clone()
	s.byBooking[e.BookingID] = append(s.byBooking[e.BookingID], e.ID)
	if key := hashKey(e.MediaHash); key != "" {
		s.byHash[key] = append(s.byHash[key], e.ID)
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, eventID id.RitualEventID) (*models.RitualEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("ritual event %s: %w", eventID, sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

// ListByBooking returns the booking's events by step order.
func (s *InMemoryStore) ListByBooking(_ context.Context, bookingID id.BookingID) ([]*models.RitualEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RitualEvent, 0, len(s.byBooking[bookingID]))
	for _, eid := range s.byBooking[bookingID] {
		out = append(out, s.events[eid].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

// FindByMediaHash returns up to limit earlier events carrying hash, oldest
// first.
func (s *InMemoryStore) FindByMediaHash(_ context.Context, hash string, limit int) ([]*models.RitualEvent, error) {
	key := hashKey(hash)
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byHash[key]
	out := make([]*models.RitualEvent, 0, min(len(ids), limit))
	for _, eid := range ids {
		if len(out) == limit {
			break
		}
		out = append(out, s.events[eid].Clone())
	}
	return out, nil
}

// ListFlagged returns flagged events still awaiting a reviewer, oldest
// first.
func (s *InMemoryStore) ListFlagged(_ context.Context, limit int) ([]*models.RitualEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RitualEvent, 0)
	for _, e := range s.events {
		if e.IsFlagged && !e.Verified {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].StepOrder < out[j].StepOrder
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Execute runs validate and mutate on a copy under the map lock and stores
// the copy when validate passes.
func (s *InMemoryStore) Execute(_ context.Context, eventID id.RitualEventID, validate func(*models.RitualEvent) error, mutate func(*models.RitualEvent)) (*models.RitualEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("ritual event %s: %w", eventID, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.events[eventID] = working
	return working.Clone(), nil
}

func hashKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
