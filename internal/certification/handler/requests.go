package handler

import (
	"strings"
	"time"

	"badal/internal/certification/models"
	"badal/internal/trust"
	dErrors "badal/pkg/domain-errors"
)

const (
	maxRefLength        = 512
	maxTranscriptLength = 10000
	maxNotesLength      = 2000
	dateLayout          = "2006-01-02"
)

// DraftRequest is the body for PUT /pilgrim/certification. Omitted fields
// are left unchanged.
type DraftRequest struct {
	GovernmentIDRef     *string `json:"government_id_ref"`
	PhotoRef            *string `json:"photo_ref"`
	HasOwnUmrah         *bool   `json:"has_own_umrah"`
	OwnUmrahDate        *string `json:"own_umrah_date"`
	HasOwnHajj          *bool   `json:"has_own_hajj"`
	OwnHajjDate         *string `json:"own_hajj_date"`
	VideoOathRef        *string `json:"video_oath_ref"`
	VideoOathTranscript *string `json:"video_oath_transcript"`

	draft models.Draft
}

func (r *DraftRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	for name, ref := range map[string]*string{
		"government_id_ref": r.GovernmentIDRef,
		"photo_ref":         r.PhotoRef,
		"video_oath_ref":    r.VideoOathRef,
	} {
		if ref != nil && len(*ref) > maxRefLength {
			return dErrors.New(dErrors.CodeValidation, name+" is too long")
		}
	}
	if r.VideoOathTranscript != nil && len(*r.VideoOathTranscript) > maxTranscriptLength {
		return dErrors.New(dErrors.CodeValidation, "video_oath_transcript is too long")
	}

	umrah, err := parseDate("own_umrah_date", r.OwnUmrahDate)
	if err != nil {
		return err
	}
	hajj, err := parseDate("own_hajj_date", r.OwnHajjDate)
	if err != nil {
		return err
	}

	r.draft = models.Draft{
		GovernmentIDRef:     r.GovernmentIDRef,
		PhotoRef:            r.PhotoRef,
		HasOwnUmrah:         r.HasOwnUmrah,
		OwnUmrahDate:        umrah,
		HasOwnHajj:          r.HasOwnHajj,
		OwnHajjDate:         hajj,
		VideoOathRef:        r.VideoOathRef,
		VideoOathTranscript: r.VideoOathTranscript,
	}
	return nil
}

func (r *DraftRequest) Draft() models.Draft {
	return r.draft
}

func parseDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(*raw))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be YYYY-MM-DD")
	}
	if t.After(time.Now()) {
		return nil, dErrors.New(dErrors.CodeValidation, field+" cannot be in the future")
	}
	return &t, nil
}

// NotesRequest is the body for approve and return. Emptiness is checked by
// the lifecycle rules, not here.
type NotesRequest struct {
	Notes string `json:"notes"`
}

func (r *NotesRequest) Validate() error {
	if len(r.Notes) > maxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "notes are too long")
	}
	return nil
}

type SuspendRequest struct {
	Reason string `json:"reason"`
}

func (r *SuspendRequest) Validate() error {
	if len(r.Reason) > maxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}

type ReinstateRequest struct {
	Target string `json:"target"`

	target models.Status
}

func (r *ReinstateRequest) Validate() error {
	target, err := models.ParseStatus(strings.TrimSpace(r.Target))
	if err != nil {
		return err
	}
	if target != models.StatusPending && target != models.StatusInactive {
		return dErrors.New(dErrors.CodeValidation, "target must be pending or inactive")
	}
	r.target = target
	return nil
}

type ViolationRequest struct {
	Severity string `json:"severity"`
	Reason   string `json:"reason"`

	severity trust.Severity
}

func (r *ViolationRequest) Validate() error {
	severity, err := trust.ParseSeverity(strings.TrimSpace(r.Severity))
	if err != nil {
		return err
	}
	if len(r.Reason) > maxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	r.severity = severity
	return nil
}
