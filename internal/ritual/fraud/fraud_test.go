package fraud

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"badal/internal/policy"
	"badal/internal/ritual/models"
	id "badal/pkg/domain"
)

// =============================================================================
// Fraud Signal Evaluator Test Suite
// =============================================================================
// Justification: flags gate certificate issuance, so each rule, the priority
// order and determinism are pinned here against fixed histories.

var (
	kaaba  = models.GeoPoint{Lat: 21.4225, Lng: 39.8262}
	safa   = models.GeoPoint{Lat: 21.4221, Lng: 39.8274}
	madina = models.GeoPoint{Lat: 24.4672, Lng: 39.6111}
)

type FraudSuite struct {
	suite.Suite
	policy      policy.Fraud
	t0          time.Time
	booking     id.BookingID
	beneficiary id.BeneficiaryID
}

func TestFraudSuite(t *testing.T) {
	suite.Run(t, new(FraudSuite))
}

func (s *FraudSuite) SetupTest() {
	s.policy = policy.Default().Fraud
	s.t0 = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	s.booking = id.BookingID(uuid.New())
	s.beneficiary = id.BeneficiaryID(uuid.New())
}

func (s *FraudSuite) event(step string, order int, at time.Time, mutate func(*models.RitualEvent)) *models.RitualEvent {
	e := models.NewRitualEvent(id.RitualEventID(uuid.New()), s.booking, id.ProviderID(uuid.New()), step, order,
		models.Evidence{BeneficiaryID: s.beneficiary, Timestamp: at, BeneficiaryNameMentioned: true}, at)
	if mutate != nil {
		mutate(e)
	}
	return e
}

func (s *FraudSuite) TestCleanEvent() {
	prev := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) {
		e.GeoLocation = &kaaba
		e.DeviceFingerprint = "dev-1"
	})
	next := s.event("sai", 2, s.t0.Add(40*time.Minute), func(e *models.RitualEvent) {
		e.GeoLocation = &safa
		e.DeviceFingerprint = "dev-1"
	})
	s.Empty(Evaluate(next, History{Previous: prev}, s.policy))
}

func (s *FraudSuite) TestDuplicateMedia() {
	s.Run("same hash in another booking", func() {
		other := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) {
			e.BookingID = id.BookingID(uuid.New())
			e.MediaHash = "ABC123"
		})
		e := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) { e.MediaHash = "abc123 " })
		s.Equal([]models.FlagReason{models.FlagDuplicateMedia},
			Evaluate(e, History{MediaMatches: []*models.RitualEvent{other}}, s.policy))
	})

	s.Run("same booking and beneficiary is not reuse", func() {
		same := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) { e.MediaHash = "abc" })
		e := s.event("sai", 2, s.t0.Add(time.Hour), func(e *models.RitualEvent) { e.MediaHash = "abc" })
		s.Empty(Evaluate(e, History{MediaMatches: []*models.RitualEvent{same}}, s.policy))
	})

	s.Run("same booking for a different beneficiary", func() {
		other := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) {
			e.MediaHash = "abc"
			e.BeneficiaryID = id.BeneficiaryID(uuid.New())
		})
		e := s.event("sai", 2, s.t0.Add(time.Hour), func(e *models.RitualEvent) { e.MediaHash = "abc" })
		s.Contains(Evaluate(e, History{MediaMatches: []*models.RitualEvent{other}}, s.policy), models.FlagDuplicateMedia)
	})
}

func (s *FraudSuite) TestDeviceMismatch() {
	prev := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) { e.DeviceFingerprint = "dev-1" })
	e := s.event("sai", 2, s.t0.Add(time.Hour), func(e *models.RitualEvent) { e.DeviceFingerprint = "dev-2" })
	s.Equal([]models.FlagReason{models.FlagDeviceMismatch}, Evaluate(e, History{Previous: prev}, s.policy))

	e.DeviceChangeReason = "phone battery died, switched to spare"
	s.Empty(Evaluate(e, History{Previous: prev}, s.policy))
}

func (s *FraudSuite) TestImpossibleTravel() {
	prev := s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) { e.GeoLocation = &kaaba })

	s.Run("Makkah to Madinah in ten minutes", func() {
		e := s.event("sai", 2, s.t0.Add(10*time.Minute), func(e *models.RitualEvent) { e.GeoLocation = &madina })
		s.Equal([]models.FlagReason{models.FlagImpossibleTravel}, Evaluate(e, History{Previous: prev}, s.policy))
	})

	s.Run("same drive over five hours", func() {
		e := s.event("sai", 2, s.t0.Add(5*time.Hour), func(e *models.RitualEvent) { e.GeoLocation = &madina })
		s.Empty(Evaluate(e, History{Previous: prev}, s.policy))
	})

	s.Run("timestamp before the previous step", func() {
		e := s.event("sai", 2, s.t0.Add(-time.Minute), func(e *models.RitualEvent) { e.GeoLocation = &madina })
		s.Contains(Evaluate(e, History{Previous: prev}, s.policy), models.FlagImpossibleTravel)
	})

	s.Run("gps jitter at the same spot", func() {
		e := s.event("sai", 2, s.t0, func(e *models.RitualEvent) { e.GeoLocation = &safa })
		s.Empty(Evaluate(e, History{Previous: prev}, s.policy))
	})
}

func (s *FraudSuite) TestMissingAttribution() {
	e := s.event("Talbiyah", 1, s.t0, func(e *models.RitualEvent) { e.BeneficiaryNameMentioned = false })
	s.Equal([]models.FlagReason{models.FlagMissingAttribution}, Evaluate(e, History{}, s.policy))

	e = s.event("tawaf", 1, s.t0, func(e *models.RitualEvent) { e.BeneficiaryNameMentioned = false })
	s.Empty(Evaluate(e, History{}, s.policy), "only designated steps need the name")
}

func (s *FraudSuite) TestPriorityAndDeterminism() {
	prev := s.event("ihram", 1, s.t0, func(e *models.RitualEvent) {
		e.GeoLocation = &kaaba
		e.DeviceFingerprint = "dev-1"
	})
	reused := s.event("ihram", 1, s.t0, func(e *models.RitualEvent) {
		e.BookingID = id.BookingID(uuid.New())
		e.MediaHash = "h"
	})
	e := s.event("talbiyah", 2, s.t0.Add(time.Minute), func(e *models.RitualEvent) {
		e.MediaHash = "h"
		e.DeviceFingerprint = "dev-2"
		e.GeoLocation = &madina
		e.BeneficiaryNameMentioned = false
	})
	h := History{Previous: prev, MediaMatches: []*models.RitualEvent{reused}}

	want := []models.FlagReason{
		models.FlagDuplicateMedia,
		models.FlagDeviceMismatch,
		models.FlagImpossibleTravel,
		models.FlagMissingAttribution,
	}
	for range 5 {
		s.Equal(want, Evaluate(e, h, s.policy))
	}
}

func TestDistanceKm(t *testing.T) {
	assert.InDelta(t, 0, DistanceKm(kaaba, kaaba), 1e-9)
	assert.InDelta(t, 338, DistanceKm(kaaba, madina), 5)
	assert.InDelta(t, DistanceKm(kaaba, madina), DistanceKm(madina, kaaba), 1e-9)
}
