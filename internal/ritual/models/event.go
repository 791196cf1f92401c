// Package models holds the ritual proof ledger's event type and the pure
// sequencing rules that guard appends.
package models

import (
	"maps"
	"time"

	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
)

type MediaType string

const (
	MediaNone  MediaType = ""
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

func ParseMediaType(s string) (MediaType, error) {
	switch mt := MediaType(s); mt {
	case MediaNone, MediaPhoto, MediaVideo, MediaAudio:
		return mt, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "media_type must be photo, video or audio")
}

// FlagReason names a fraud rule. Values are shown to reviewers verbatim.
type FlagReason string

const (
	FlagDuplicateMedia     FlagReason = "DuplicateMedia"
	FlagDeviceMismatch     FlagReason = "DeviceMismatch"
	FlagImpossibleTravel   FlagReason = "ImpossibleTravel"
	FlagMissingAttribution FlagReason = "MissingAttribution"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Evidence is what a provider submits for one step.
type Evidence struct {
	BeneficiaryID            id.BeneficiaryID
	Timestamp                time.Time
	MediaType                MediaType
	MediaRef                 string
	MediaHash                string
	GeoLocation              *GeoPoint
	DeviceFingerprint        string
	DeviceChangeReason       string
	ExifData                 map[string]string
	DuaTranscript            string
	DuaAudioRef              string
	BeneficiaryNameMentioned bool
	ClientPlatform           string
}

// RitualEvent is one evidenced step of a booking. After append only the
// verification fields change.
type RitualEvent struct {
	ID            id.RitualEventID  `json:"id"`
	BookingID     id.BookingID      `json:"booking_id"`
	ProviderID    id.ProviderID     `json:"provider_id"`
	BeneficiaryID id.BeneficiaryID  `json:"beneficiary_id"`
	RitualStep    string            `json:"ritual_step"`
	StepOrder     int               `json:"step_order"`
	Timestamp     time.Time         `json:"timestamp"`
	MediaType     MediaType         `json:"media_type,omitempty"`
	MediaRef      string            `json:"media_ref,omitempty"`
	MediaHash     string            `json:"media_hash,omitempty"`
	GeoLocation   *GeoPoint         `json:"geo_location,omitempty"`
	ExifData      map[string]string `json:"exif_data,omitempty"`

	DeviceFingerprint  string `json:"device_fingerprint,omitempty"`
	DeviceChangeReason string `json:"device_change_reason,omitempty"`
	ClientPlatform     string `json:"client_platform,omitempty"`

	DuaTranscript            string `json:"dua_transcript,omitempty"`
	DuaAudioRef              string `json:"dua_audio_ref,omitempty"`
	BeneficiaryNameMentioned bool   `json:"beneficiary_name_mentioned"`

	IsFlagged  bool         `json:"is_flagged"`
	FlagReason FlagReason   `json:"flag_reason,omitempty"`
	Signals    []FlagReason `json:"signals"`

	Verified          bool       `json:"verified"`
	VerifiedBy        *id.UserID `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes string     `json:"verification_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRitualEvent builds an unflagged, unverified event from evidence.
func NewRitualEvent(eventID id.RitualEventID, bookingID id.BookingID, providerID id.ProviderID, step string, stepOrder int, ev Evidence, now time.Time) *RitualEvent {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	var geo *GeoPoint
	if ev.GeoLocation != nil {
		g := *ev.GeoLocation
		geo = &g
	}
	return &RitualEvent{
		ID:                       eventID,
		BookingID:                bookingID,
		ProviderID:               providerID,
		BeneficiaryID:            ev.BeneficiaryID,
		RitualStep:               step,
		StepOrder:                stepOrder,
		Timestamp:                ts.UTC(),
		MediaType:                ev.MediaType,
		MediaRef:                 ev.MediaRef,
		MediaHash:                ev.MediaHash,
		GeoLocation:              geo,
		ExifData:                 maps.Clone(ev.ExifData),
		DeviceFingerprint:        ev.DeviceFingerprint,
		DeviceChangeReason:       ev.DeviceChangeReason,
		ClientPlatform:           ev.ClientPlatform,
		DuaTranscript:            ev.DuaTranscript,
		DuaAudioRef:              ev.DuaAudioRef,
		BeneficiaryNameMentioned: ev.BeneficiaryNameMentioned,
		Signals:                  []FlagReason{},
		CreatedAt:                now,
	}
}

// ApplySignals records fraud signals in rule priority order. The first one
// becomes the flag reason.
func (e *RitualEvent) ApplySignals(signals []FlagReason) {
	e.Signals = append([]FlagReason{}, signals...)
	if len(signals) == 0 {
		return
	}
	e.IsFlagged = true
	e.FlagReason = signals[0]
}

// ApplyVerification records a reviewer's decision. Flags are kept.
func (e *RitualEvent) ApplyVerification(verifier id.UserID, notes string, now time.Time) {
	e.Verified = true
	e.VerifiedBy = &verifier
	e.VerifiedAt = &now
	e.VerificationNotes = notes
}

// Satisfied reports whether the event counts toward certificate eligibility.
// Flagged events always need a human verification; unflagged ones only when
// requireAll is set.
func (e *RitualEvent) Satisfied(requireAll bool) bool {
	if e.Verified {
		return true
	}
	return !requireAll && !e.IsFlagged
}

func (e *RitualEvent) Clone() *RitualEvent {
	out := *e
	if e.GeoLocation != nil {
		g := *e.GeoLocation
		out.GeoLocation = &g
	}
	if e.VerifiedBy != nil {
		v := *e.VerifiedBy
		out.VerifiedBy = &v
	}
	if e.VerifiedAt != nil {
		t := *e.VerifiedAt
		out.VerifiedAt = &t
	}
	out.ExifData = maps.Clone(e.ExifData)
	out.Signals = append([]FlagReason{}, e.Signals...)
	return &out
}
