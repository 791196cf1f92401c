package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "badal/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so the compiler rejects passing a
// BookingID where a ProviderID is expected.
type (
	UserID          uuid.UUID
	ProviderID      uuid.UUID
	BookingID       uuid.UUID
	BeneficiaryID   uuid.UUID
	CertificationID uuid.UUID
	RitualEventID   uuid.UUID
	CertificateID   uuid.UUID
	ReservationID   uuid.UUID
)

const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if len(s) > maxIDLength || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is malformed")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

func ParseProviderID(s string) (ProviderID, error) {
	u, err := parseUUID("provider_id", s)
	return ProviderID(u), err
}

func ParseBookingID(s string) (BookingID, error) {
	u, err := parseUUID("booking_id", s)
	return BookingID(u), err
}

func ParseBeneficiaryID(s string) (BeneficiaryID, error) {
	u, err := parseUUID("beneficiary_id", s)
	return BeneficiaryID(u), err
}

func ParseCertificationID(s string) (CertificationID, error) {
	u, err := parseUUID("certification_id", s)
	return CertificationID(u), err
}

func ParseRitualEventID(s string) (RitualEventID, error) {
	u, err := parseUUID("event_id", s)
	return RitualEventID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID("certificate_id", s)
	return CertificateID(u), err
}

func ParseReservationID(s string) (ReservationID, error) {
	u, err := parseUUID("reservation_id", s)
	return ReservationID(u), err
}

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ProviderID) String() string { return uuid.UUID(id).String() }
func (id ProviderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProviderID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ProviderID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id BookingID) String() string { return uuid.UUID(id).String() }
func (id BookingID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id BookingID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *BookingID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id BeneficiaryID) String() string { return uuid.UUID(id).String() }
func (id BeneficiaryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id BeneficiaryID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *BeneficiaryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CertificationID) String() string { return uuid.UUID(id).String() }
func (id CertificationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CertificationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *CertificationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id RitualEventID) String() string { return uuid.UUID(id).String() }
func (id RitualEventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RitualEventID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *RitualEventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id CertificateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *CertificateID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ReservationID) String() string { return uuid.UUID(id).String() }
func (id ReservationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReservationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ReservationID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
