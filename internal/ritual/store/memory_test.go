package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"badal/internal/ritual/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx     context.Context
	store   *InMemoryStore
	booking id.BookingID
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.booking = id.BookingID(uuid.New())
}

func (s *InMemoryStoreSuite) event(order int, hash string) *models.RitualEvent {
	return models.NewRitualEvent(id.RitualEventID(uuid.New()), s.booking, id.ProviderID(uuid.New()), "tawaf", order,
		models.Evidence{MediaHash: hash}, time.Now())
}

func (s *InMemoryStoreSuite) TestCreateEnforcesUniqueStepOrder() {
	s.Require().NoError(s.store.Create(s.ctx, s.event(1, "")))
	err := s.store.Create(s.ctx, s.event(1, ""))
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *InMemoryStoreSuite) TestListByBookingIsOrdered() {
	s.Require().NoError(s.store.Create(s.ctx, s.event(2, "")))
	s.Require().NoError(s.store.Create(s.ctx, s.event(1, "")))

	list, err := s.store.ListByBooking(s.ctx, s.booking)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(1, list[0].StepOrder)
	s.Equal(2, list[1].StepOrder)

	list[0].Verified = true
	again, _ := s.store.ListByBooking(s.ctx, s.booking)
	s.False(again[0].Verified, "callers get copies")
}

func (s *InMemoryStoreSuite) TestFindByMediaHash() {
	s.Require().NoError(s.store.Create(s.ctx, s.event(1, "ABC")))
	s.Require().NoError(s.store.Create(s.ctx, s.event(2, "abc")))
	s.Require().NoError(s.store.Create(s.ctx, s.event(3, "other")))

	matches, err := s.store.FindByMediaHash(s.ctx, " abc", 10)
	s.Require().NoError(err)
	s.Len(matches, 2)

	matches, err = s.store.FindByMediaHash(s.ctx, "abc", 1)
	s.Require().NoError(err)
	s.Len(matches, 1)

	matches, err = s.store.FindByMediaHash(s.ctx, "", 10)
	s.Require().NoError(err)
	s.Empty(matches)
}

func (s *InMemoryStoreSuite) TestExecuteAndListFlagged() {
	flagged := s.event(1, "")
	flagged.ApplySignals([]models.FlagReason{models.FlagDeviceMismatch})
	s.Require().NoError(s.store.Create(s.ctx, flagged))
	s.Require().NoError(s.store.Create(s.ctx, s.event(2, "")))

	list, err := s.store.ListFlagged(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.store.Execute(s.ctx, flagged.ID, func(*models.RitualEvent) error { return errors.New("nope") },
		func(e *models.RitualEvent) { e.Verified = true })
	s.Error(err)
	still, _ := s.store.FindByID(s.ctx, flagged.ID)
	s.False(still.Verified, "failed validation leaves the event untouched")

	_, err = s.store.Execute(s.ctx, flagged.ID, func(*models.RitualEvent) error { return nil },
		func(e *models.RitualEvent) { e.ApplyVerification(id.UserID(uuid.New()), "ok", time.Now()) })
	s.Require().NoError(err)
	list, _ = s.store.ListFlagged(s.ctx, 0)
	s.Empty(list)

	_, err = s.store.Execute(s.ctx, id.RitualEventID(uuid.New()), func(*models.RitualEvent) error { return nil }, func(*models.RitualEvent) {})
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *InMemoryStoreSuite) TestBookingLockSerializesAppends() {
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.WithBookingLock(s.ctx, s.booking, func(ctx context.Context) error {
				events, err := s.store.ListByBooking(ctx, s.booking)
				if err != nil {
					return err
				}
				return s.store.Create(ctx, s.event(models.HighestOrder(events)+1, ""))
			})
		}()
	}
	wg.Wait()

	list, err := s.store.ListByBooking(s.ctx, s.booking)
	s.Require().NoError(err)
	s.Len(list, 20)
	for i, e := range list {
		s.Equal(i+1, e.StepOrder)
	}
}

func (s *InMemoryStoreSuite) TestMediaLockSerializesAcrossBookings() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched []int
	)
	for range 2 {
		bookingID := id.BookingID(uuid.New())
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.WithBookingLock(s.ctx, bookingID, func(ctx context.Context) error {
				return s.store.WithMediaLock(ctx, " Hash-9 ", func(ctx context.Context) error {
					found, err := s.store.FindByMediaHash(ctx, "hash-9", 5)
					if err != nil {
						return err
					}
					time.Sleep(20 * time.Millisecond)
					mu.Lock()
					matched = append(matched, len(found))
					mu.Unlock()
					e := s.event(1, "HASH-9")
					e.BookingID = bookingID
					return s.store.Create(ctx, e)
				})
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.ElementsMatch([]int{0, 1}, matched)
}
