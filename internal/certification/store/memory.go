package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"badal/internal/certification/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	"badal/pkg/platform/tx"
)

// InMemoryStore keeps certifications in a map. Reads take the map lock;
// read-modify-write goes through the per-provider shard lock so that writers
// for different providers never contend.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.ProviderID]*models.PilgrimCertification
	locks   tx.ShardedMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.ProviderID]*models.PilgrimCertification)}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.PilgrimCertification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[c.ProviderID]; ok {
		return fmt.Errorf("certification for provider %s: %w", c.ProviderID, sentinel.ErrConflict)
	}
	s.records[c.ProviderID] = c.Clone()
	return nil
}

func (s *InMemoryStore) FindByProvider(_ context.Context, providerID id.ProviderID) (*models.PilgrimCertification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[providerID]
	if !ok {
		return nil, fmt.Errorf("certification for provider %s: %w", providerID, sentinel.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status models.Status) ([]*models.PilgrimCertification, error) {
	return s.list(func(c *models.PilgrimCertification) bool { return c.Status == status }), nil
}

func (s *InMemoryStore) ListRecommended(_ context.Context) ([]*models.PilgrimCertification, error) {
	return s.list(func(c *models.PilgrimCertification) bool { return c.SuspensionRecommended }), nil
}

func (s *InMemoryStore) list(keep func(*models.PilgrimCertification) bool) []*models.PilgrimCertification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PilgrimCertification, 0)
	for _, c := range s.records {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// Execute runs validate then mutate on a private copy while holding the
// provider's lock, and stores the copy only when validate passes.
func (s *InMemoryStore) Execute(ctx context.Context, providerID id.ProviderID, validate func(*models.PilgrimCertification) error, mutate func(*models.PilgrimCertification)) (*models.PilgrimCertification, error) {
	return s.Mutate(ctx, providerID, func(c *models.PilgrimCertification) error {
		if err := validate(c); err != nil {
			return err
		}
		mutate(c)
		return nil
	})
}

// Mutate is the locked primitive behind Execute. Other in-memory stores that
// must change a certification atomically with their own state (the capacity
// allocator) call it directly and do their bookkeeping inside fn.
func (s *InMemoryStore) Mutate(_ context.Context, providerID id.ProviderID, fn func(*models.PilgrimCertification) error) (*models.PilgrimCertification, error) {
	unlock := s.locks.Lock(providerID.String())
	defer unlock()

	s.mu.RLock()
	current, ok := s.records[providerID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("certification for provider %s: %w", providerID, sentinel.ErrNotFound)
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.CurrentActiveBadal < 0 || working.CurrentActiveBadal > working.MaxActiveBadal {
		return nil, fmt.Errorf("active badal %d outside [0,%d]: %w", working.CurrentActiveBadal, working.MaxActiveBadal, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	s.records[providerID] = working
	s.mu.Unlock()
	return working.Clone(), nil
}
