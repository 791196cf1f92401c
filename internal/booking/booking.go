// Package booking is the port to the external booking service. This
// service never changes bookings; it reads who performs a booking, for whom,
// and whether it is complete.
package booking

import (
	"context"
	"time"

	id "badal/pkg/domain"
)

//go:generate mockgen -source=booking.go -destination=mocks/mocks.go -package=mocks Lookup

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Booking is the slice of the booking service's record this service reads.
type Booking struct {
	ID                id.BookingID     `json:"id"`
	ProviderID        id.ProviderID    `json:"provider_id"`
	BeneficiaryID     id.BeneficiaryID `json:"beneficiary_id"`
	BeneficiaryName   string           `json:"beneficiary_name"`
	BeneficiaryNameAr string           `json:"beneficiary_name_ar,omitempty"`
	ServiceType       string           `json:"service_type"`
	Status            Status           `json:"status"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	HijriDate         string           `json:"hijri_date,omitempty"`
	Location          string           `json:"location,omitempty"`
}

// Active reports whether ritual steps may be recorded against the booking.
func (b *Booking) Active() bool {
	return b.Status == StatusAccepted || b.Status == StatusInProgress
}

func (b *Booking) Completed() bool {
	return b.Status == StatusCompleted
}

// Lookup resolves a booking. Implementations return sentinel.ErrNotFound for
// unknown bookings and sentinel.ErrUnavailable when the booking service
// cannot answer.
type Lookup interface {
	GetBooking(ctx context.Context, bookingID id.BookingID) (*Booking, error)
}
