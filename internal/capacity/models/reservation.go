package models

import (
	"time"

	id "badal/pkg/domain"
)

// ReleaseReason records why a slot was given back.
type ReleaseReason string

const (
	ReleaseBookingFinished ReleaseReason = "booking_finished"
	ReleaseCancelled       ReleaseReason = "cancelled"
	ReleaseTimeout         ReleaseReason = "timeout"
)

// Reservation is one occupied badal slot. It is active until ReleasedAt is
// set; at most one active reservation exists per booking.
type Reservation struct {
	ID            id.ReservationID `json:"id"`
	ProviderID    id.ProviderID    `json:"provider_id"`
	BookingID     id.BookingID     `json:"booking_id"`
	AcquiredAt    time.Time        `json:"acquired_at"`
	ReleasedAt    *time.Time       `json:"released_at,omitempty"`
	ReleaseReason ReleaseReason    `json:"release_reason,omitempty"`
}

func (r *Reservation) IsActive() bool {
	return r.ReleasedAt == nil
}

// IsStale reports whether an active reservation has outlived timeout.
func (r *Reservation) IsStale(now time.Time, timeout time.Duration) bool {
	return r.IsActive() && now.Sub(r.AcquiredAt) > timeout
}

func (r *Reservation) Release(reason ReleaseReason, now time.Time) {
	r.ReleasedAt = &now
	r.ReleaseReason = reason
}

func (r *Reservation) Clone() *Reservation {
	out := *r
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		out.ReleasedAt = &t
	}
	return &out
}

// ReserveResult is returned by TryReserveSlot. Existing is true when the
// booking already held a slot and no new one was taken.
type ReserveResult struct {
	Reservation *Reservation `json:"reservation"`
	Existing    bool         `json:"existing"`
}

// ReleaseResult is returned by the release operations. Released is false
// when nothing was freed: the slot was already released or never existed.
// Reservation is nil in the latter case.
type ReleaseResult struct {
	Reservation *Reservation `json:"reservation,omitempty"`
	Released    bool         `json:"released"`
}
