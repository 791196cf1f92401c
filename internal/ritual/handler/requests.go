package handler

import (
	"strings"
	"time"

	"badal/internal/ritual/models"
	dErrors "badal/pkg/domain-errors"
)

const (
	maxRefLength        = 512
	maxHashLength       = 128
	maxFingerprint      = 256
	maxTranscriptLength = 10000
	maxReasonLength     = 500
	maxExifEntries      = 64
	maxNotesLength      = 2000
)

// AppendEventRequest is the body for POST /bookings/{bookingID}/ritual-events.
type AppendEventRequest struct {
	RitualStep               string            `json:"ritual_step"`
	StepOrder                int               `json:"step_order"`
	Timestamp                *time.Time        `json:"timestamp"`
	MediaType                string            `json:"media_type"`
	MediaRef                 string            `json:"media_ref"`
	MediaHash                string            `json:"media_hash"`
	GeoLocation              *models.GeoPoint  `json:"geo_location"`
	DeviceFingerprint        string            `json:"device_fingerprint"`
	DeviceChangeReason       string            `json:"device_change_reason"`
	ExifData                 map[string]string `json:"exif_data"`
	DuaTranscript            string            `json:"dua_transcript"`
	DuaAudioRef              string            `json:"dua_audio_ref"`
	BeneficiaryNameMentioned bool              `json:"beneficiary_name_mentioned"`

	evidence models.Evidence
}

func (r *AppendEventRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.RitualStep) == "" {
		return dErrors.New(dErrors.CodeValidation, "ritual_step is required")
	}
	if r.StepOrder < 1 {
		return dErrors.New(dErrors.CodeValidation, "step_order must be at least 1")
	}
	mediaType, err := models.ParseMediaType(strings.ToLower(strings.TrimSpace(r.MediaType)))
	if err != nil {
		return err
	}
	for name, v := range map[string]struct {
		value string
		max   int
	}{
		"media_ref":            {r.MediaRef, maxRefLength},
		"dua_audio_ref":        {r.DuaAudioRef, maxRefLength},
		"media_hash":           {r.MediaHash, maxHashLength},
		"device_fingerprint":   {r.DeviceFingerprint, maxFingerprint},
		"device_change_reason": {r.DeviceChangeReason, maxReasonLength},
		"dua_transcript":       {r.DuaTranscript, maxTranscriptLength},
	} {
		if len(v.value) > v.max {
			return dErrors.New(dErrors.CodeValidation, name+" is too long")
		}
	}
	if (r.MediaRef == "") != (r.MediaHash == "") {
		return dErrors.New(dErrors.CodeValidation, "media_ref and media_hash must be sent together")
	}
	if len(r.ExifData) > maxExifEntries {
		return dErrors.New(dErrors.CodeValidation, "exif_data has too many entries")
	}
	if g := r.GeoLocation; g != nil && (g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180) {
		return dErrors.New(dErrors.CodeValidation, "geo_location is out of range")
	}
	var ts time.Time
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	r.evidence = models.Evidence{
		Timestamp:                ts,
		MediaType:                mediaType,
		MediaRef:                 r.MediaRef,
		MediaHash:                r.MediaHash,
		GeoLocation:              r.GeoLocation,
		DeviceFingerprint:        r.DeviceFingerprint,
		DeviceChangeReason:       strings.TrimSpace(r.DeviceChangeReason),
		ExifData:                 r.ExifData,
		DuaTranscript:            r.DuaTranscript,
		DuaAudioRef:              r.DuaAudioRef,
		BeneficiaryNameMentioned: r.BeneficiaryNameMentioned,
	}
	return nil
}

// VerifyRequest is the body for POST /admin/ritual-events/{eventID}/verify.
type VerifyRequest struct {
	Notes string `json:"notes"`
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Notes) > maxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "notes is too long")
	}
	return nil
}
