// Package fraud evaluates a new ritual event against the booking's history
// and reports every rule it trips. Evaluation is pure: no clock, no storage,
// no randomness. The same event and history always give the same result.
package fraud

import (
	"strings"

	"badal/internal/policy"
	"badal/internal/ritual/models"
)

// jitterKm is the distance below which two fixes count as the same place.
const jitterKm = 0.5

// History is the context the rules need. The caller loads it under the
// booking lock so it is consistent with the append.
type History struct {
	// Previous is the booking's highest-ordered event, if any.
	Previous *models.RitualEvent
	// MediaMatches are earlier events anywhere whose media hash equals the
	// new event's.
	MediaMatches []*models.RitualEvent
}

type rule struct {
	reason models.FlagReason
	trips  func(e *models.RitualEvent, h History, p policy.Fraud) bool
}

// rules run in this order; the first that trips is the flag reason.
var rules = []rule{
	{models.FlagDuplicateMedia, duplicateMedia},
	{models.FlagDeviceMismatch, deviceMismatch},
	{models.FlagImpossibleTravel, impossibleTravel},
	{models.FlagMissingAttribution, missingAttribution},
}

// Evaluate returns the signals e trips, in priority order. An empty slice
// means the event is clean.
func Evaluate(e *models.RitualEvent, h History, p policy.Fraud) []models.FlagReason {
	signals := make([]models.FlagReason, 0, len(rules))
	for _, r := range rules {
		if r.trips(e, h, p) {
			signals = append(signals, r.reason)
		}
	}
	return signals
}

// duplicateMedia trips when the same recording was filed for a different
// booking or beneficiary.
func duplicateMedia(e *models.RitualEvent, h History, _ policy.Fraud) bool {
	hash := normalizeHash(e.MediaHash)
	if hash == "" {
		return false
	}
	for _, m := range h.MediaMatches {
		if m.ID == e.ID || normalizeHash(m.MediaHash) != hash {
			continue
		}
		if m.BookingID != e.BookingID || m.BeneficiaryID != e.BeneficiaryID {
			return true
		}
	}
	return false
}

func deviceMismatch(e *models.RitualEvent, h History, _ policy.Fraud) bool {
	prev := h.Previous
	if prev == nil || prev.DeviceFingerprint == "" || e.DeviceFingerprint == "" {
		return false
	}
	if strings.TrimSpace(e.DeviceChangeReason) != "" {
		return false
	}
	return prev.DeviceFingerprint != e.DeviceFingerprint
}

func impossibleTravel(e *models.RitualEvent, h History, p policy.Fraud) bool {
	prev := h.Previous
	if prev == nil || prev.GeoLocation == nil || e.GeoLocation == nil {
		return false
	}
	km := DistanceKm(*prev.GeoLocation, *e.GeoLocation)
	if km < jitterKm {
		return false
	}
	hours := e.Timestamp.Sub(prev.Timestamp).Hours()
	if hours <= 0 {
		return true
	}
	return km/hours > p.MaxTravelSpeedKmh
}

func missingAttribution(e *models.RitualEvent, _ History, p policy.Fraud) bool {
	return !e.BeneficiaryNameMentioned && p.IsAttributionStep(e.RitualStep)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
