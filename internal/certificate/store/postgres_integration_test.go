//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"badal/internal/certificate/models"
	"badal/internal/certificate/store"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	"badal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "completion_certificates", "certificate_counters"))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

func newCertificate(number string) *models.CompletionCertificate {
	return &models.CompletionCertificate{
		ID:                 id.CertificateID(uuid.New()),
		BookingID:          id.BookingID(uuid.New()),
		PilgrimID:          id.ProviderID(uuid.New()),
		CertificateNumber:  number,
		QRVerificationCode: "QR" + uuid.NewString()[:8],
		BeneficiaryName:    "Amina Yusuf",
		ServiceType:        "umrah",
		CompletedDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		HijriDate:          "12 Ramadan 1447 AH",
		AllStepsVerified:   true,
		IssuedAt:           time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestRoundTripAndUniqueBooking() {
	ctx := context.Background()
	c := newCertificate("BDL-2026-000001")
	s.Require().NoError(s.store.Create(ctx, c))

	found, err := s.store.FindByCode(ctx, c.QRVerificationCode)
	s.Require().NoError(err)
	s.Equal(c.BookingID, found.BookingID)
	s.Equal(c.CompletedDate, found.CompletedDate)

	dup := newCertificate("BDL-2026-000002")
	dup.BookingID = c.BookingID
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	_, err = s.store.FindByCode(ctx, "BDL-2026-999999")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestNextNumberRolledBackWithIssue() {
	ctx := context.Background()
	booking := id.BookingID(uuid.New())

	err := s.store.WithBookingLock(ctx, booking, func(ctx context.Context) error {
		n, err := s.store.NextNumber(ctx, 2026)
		s.Require().NoError(err)
		s.Equal(1, n)
		return sentinel.ErrUnavailable
	})
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)

	n, err := s.store.NextNumber(ctx, 2026)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestRedisCacheRoundTrip() {
	ctx := context.Background()
	cache := store.NewRedisCache(s.redis.Client, time.Minute)
	c := newCertificate("BDL-2026-000003")

	miss, err := cache.Get(ctx, c.CertificateNumber)
	s.Require().NoError(err)
	s.Nil(miss)

	s.Require().NoError(cache.Set(ctx, c))
	hit, err := cache.Get(ctx, c.QRVerificationCode)
	s.Require().NoError(err)
	s.Equal(c.CertificateNumber, hit.CertificateNumber)
}
