package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"badal/internal/capacity/models"
	certmodels "badal/internal/certification/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

// CertificationMutator is the locked primitive of the in-memory
// certification store. Counter changes and reservation bookkeeping both
// happen inside fn, under the provider's lock.
type CertificationMutator interface {
	Mutate(ctx context.Context, providerID id.ProviderID, fn func(*certmodels.PilgrimCertification) error) (*certmodels.PilgrimCertification, error)
}

// InMemoryStore tracks reservations next to the in-memory certifications.
type InMemoryStore struct {
	certs CertificationMutator

	mu              sync.Mutex
	reservations    map[id.ReservationID]*models.Reservation
	activeByBooking map[id.BookingID]id.ReservationID
}

func NewInMemoryStore(certs CertificationMutator) *InMemoryStore {
	return &InMemoryStore{
		certs:           certs,
		reservations:    make(map[id.ReservationID]*models.Reservation),
		activeByBooking: make(map[id.BookingID]id.ReservationID),
	}
}

// Reserve takes a slot for r.BookingID. When the booking already holds an
// active slot with the same provider, that reservation is returned with
// created=false.
func (s *InMemoryStore) Reserve(ctx context.Context, r *models.Reservation) (*models.Reservation, bool, error) {
	var (
		result  *models.Reservation
		created bool
	)
	_, err := s.certs.Mutate(ctx, r.ProviderID, func(c *certmodels.PilgrimCertification) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if existingID, ok := s.activeByBooking[r.BookingID]; ok {
			existing := s.reservations[existingID]
			if existing.ProviderID != r.ProviderID {
				return fmt.Errorf("booking %s held by another provider: %w", r.BookingID, sentinel.ErrConflict)
			}
			result = existing.Clone()
			return nil
		}
		if c.Status != certmodels.StatusVerified {
			return fmt.Errorf("provider status %s: %w", c.Status, sentinel.ErrInvalidState)
		}
		if c.CurrentActiveBadal >= c.MaxActiveBadal {
			return fmt.Errorf("%d of %d slots in use: %w", c.CurrentActiveBadal, c.MaxActiveBadal, sentinel.ErrLimitReached)
		}
		c.CurrentActiveBadal++
		stored := r.Clone()
		s.reservations[stored.ID] = stored
		s.activeByBooking[stored.BookingID] = stored.ID
		result = stored.Clone()
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *InMemoryStore) FindActiveByBooking(_ context.Context, bookingID id.BookingID) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resID, ok := s.activeByBooking[bookingID]
	if !ok {
		return nil, fmt.Errorf("active reservation for booking %s: %w", bookingID, sentinel.ErrNotFound)
	}
	return s.reservations[resID].Clone(), nil
}

// Release frees the reservation and decrements the provider counter.
// Releasing an already released reservation returns released=false.
func (s *InMemoryStore) Release(ctx context.Context, providerID id.ProviderID, reservationID id.ReservationID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	return s.release(ctx, providerID, func() (*models.Reservation, bool) {
		r, ok := s.reservations[reservationID]
		return r, ok && r.ProviderID == providerID
	}, reason, now)
}

func (s *InMemoryStore) ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	return s.release(ctx, providerID, func() (*models.Reservation, bool) {
		if resID, ok := s.activeByBooking[bookingID]; ok {
			r := s.reservations[resID]
			return r, r.ProviderID == providerID
		}
		// Fall back to the most recent released reservation so repeated
		// signals stay idempotent.
		var latest *models.Reservation
		for _, r := range s.reservations {
			if r.BookingID == bookingID && r.ProviderID == providerID && (latest == nil || r.AcquiredAt.After(latest.AcquiredAt)) {
				latest = r
			}
		}
		return latest, latest != nil
	}, reason, now)
}

func (s *InMemoryStore) release(ctx context.Context, providerID id.ProviderID, find func() (*models.Reservation, bool), reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	var (
		result   *models.Reservation
		released bool
	)
	_, err := s.certs.Mutate(ctx, providerID, func(c *certmodels.PilgrimCertification) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		r, ok := find()
		if !ok {
			return fmt.Errorf("reservation: %w", sentinel.ErrNotFound)
		}
		if !r.IsActive() {
			result = r.Clone()
			return nil
		}
		if c.CurrentActiveBadal > 0 {
			c.CurrentActiveBadal--
		}
		r.Release(reason, now)
		delete(s.activeByBooking, r.BookingID)
		result = r.Clone()
		released = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, released, nil
}

func (s *InMemoryStore) ListActive(_ context.Context, providerID id.ProviderID) ([]*models.Reservation, error) {
	return s.filter(func(r *models.Reservation) bool {
		return r.IsActive() && r.ProviderID == providerID
	}), nil
}

func (s *InMemoryStore) ListStale(_ context.Context, acquiredBefore time.Time, limit int) ([]*models.Reservation, error) {
	out := s.filter(func(r *models.Reservation) bool {
		return r.IsActive() && r.AcquiredAt.Before(acquiredBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) filter(keep func(*models.Reservation) bool) []*models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Reservation, 0)
	for _, r := range s.reservations {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}
