package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"badal/internal/certificate/models"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
}

func certificate(number, qr string) *models.CompletionCertificate {
	return &models.CompletionCertificate{
		ID:                 id.CertificateID(uuid.New()),
		BookingID:          id.BookingID(uuid.New()),
		PilgrimID:          id.ProviderID(uuid.New()),
		CertificateNumber:  number,
		QRVerificationCode: qr,
		ServiceType:        "umrah",
		AllStepsVerified:   true,
		IssuedAt:           time.Now(),
	}
}

func (s *InMemoryStoreSuite) TestFindByEitherCode() {
	c := certificate("BDL-2026-000001", "QRCODEAAA")
	s.Require().NoError(s.store.Create(s.ctx, c))

	byNumber, err := s.store.FindByCode(s.ctx, "bdl-2026-000001")
	s.Require().NoError(err)
	s.Equal(c.ID, byNumber.ID)

	byQR, err := s.store.FindByCode(s.ctx, " QRCODEAAA ")
	s.Require().NoError(err)
	s.Equal(c.ID, byQR.ID)

	_, err = s.store.FindByCode(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestOneCertificatePerBooking() {
	first := certificate("BDL-2026-000001", "QR1")
	s.Require().NoError(s.store.Create(s.ctx, first))

	second := certificate("BDL-2026-000002", "QR2")
	second.BookingID = first.BookingID
	s.ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)

	third := certificate("BDL-2026-000001", "QR3")
	s.ErrorIs(s.store.Create(s.ctx, third), sentinel.ErrConflict)

	found, err := s.store.FindByBooking(s.ctx, first.BookingID)
	s.Require().NoError(err)
	s.Equal(first.CertificateNumber, found.CertificateNumber)
}

func (s *InMemoryStoreSuite) TestNextNumberIsPerYearAndUnique() {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.store.NextNumber(s.ctx, 2026)
			s.NoError(err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Len(seen, 50)

	n, err := s.store.NextNumber(s.ctx, 2027)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *InMemoryStoreSuite) TestFailedLockedWorkIsUndone() {
	kept := certificate("BDL-2026-000001", "QR1")
	errBoom := errors.New("boom")
	var dropped *models.CompletionCertificate

	err := s.store.WithBookingLock(s.ctx, kept.BookingID, func(ctx context.Context) error {
		n, err := s.store.NextNumber(ctx, 2026)
		s.Require().NoError(err)
		s.Equal(1, n)
		return s.store.Create(ctx, kept)
	})
	s.Require().NoError(err)

	err = s.store.WithBookingLock(s.ctx, id.BookingID(uuid.New()), func(ctx context.Context) error {
		n, err := s.store.NextNumber(ctx, 2026)
		s.Require().NoError(err)
		s.Equal(2, n)
		dropped = certificate("BDL-2026-000002", "QR2")
		s.Require().NoError(s.store.Create(ctx, dropped))
		return errBoom
	})
	s.ErrorIs(err, errBoom)

	_, err = s.store.FindByBooking(s.ctx, dropped.BookingID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.FindByCode(s.ctx, "QR2")
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.FindByCode(s.ctx, "BDL-2026-000001")
	s.NoError(err)

	n, err := s.store.NextNumber(s.ctx, 2026)
	s.Require().NoError(err)
	s.Equal(2, n, "undone number is reused")
}

func (s *InMemoryStoreSuite) TestReturnedNumberBehindCounterIsReused() {
	var held int
	errBoom := errors.New("boom")
	err := s.store.WithBookingLock(s.ctx, id.BookingID(uuid.New()), func(ctx context.Context) error {
		held, _ = s.store.NextNumber(ctx, 2026)
		// Another booking draws the next number meanwhile.
		later, err := s.store.NextNumber(s.ctx, 2026)
		s.Require().NoError(err)
		s.Equal(held+1, later)
		return errBoom
	})
	s.ErrorIs(err, errBoom)

	n, err := s.store.NextNumber(s.ctx, 2026)
	s.Require().NoError(err)
	s.Equal(held, n)
	n, err = s.store.NextNumber(s.ctx, 2026)
	s.Require().NoError(err)
	s.Equal(held+2, n)
}

func (s *InMemoryStoreSuite) TestFindByBookingMissing() {
	_, err := s.store.FindByBooking(s.ctx, id.BookingID(uuid.New()))
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
