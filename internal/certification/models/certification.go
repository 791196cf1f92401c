package models

import (
	"time"

	"badal/internal/trust"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusVerified    Status = "verified"
	StatusSuspended   Status = "suspended"
	StatusInactive    Status = "inactive"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusVerified, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown certification status")
	}
	return st, nil
}

// PilgrimCertification is the aggregate root for a provider's permission to
// perform proxy rituals.
//
// Invariants:
//   - exactly one per provider
//   - 0 <= CurrentActiveBadal <= MaxActiveBadal
//   - 0 <= TrustScore <= 100
//   - status changes only through the transition methods in transitions.go
//   - capacity and trust fields are written only by the allocator and the
//     trust engine paths, never by draft updates
type PilgrimCertification struct {
	ID         id.CertificationID `json:"id"`
	ProviderID id.ProviderID      `json:"provider_id"`
	Status     Status             `json:"status"`

	GovernmentIDRef      string `json:"government_id_ref,omitempty"`
	GovernmentIDVerified bool   `json:"government_id_verified"`
	PhotoRef             string `json:"photo_ref,omitempty"`
	PhotoVerified        bool   `json:"photo_verified"`

	HasOwnUmrah  bool       `json:"has_own_umrah"`
	OwnUmrahDate *time.Time `json:"own_umrah_date,omitempty"`
	HasOwnHajj   bool       `json:"has_own_hajj"`
	OwnHajjDate  *time.Time `json:"own_hajj_date,omitempty"`

	VideoOathRef        string `json:"video_oath_ref,omitempty"`
	VideoOathVerified   bool   `json:"video_oath_verified"`
	VideoOathTranscript string `json:"video_oath_transcript,omitempty"`

	ScholarApproved     bool       `json:"scholar_approved"`
	ScholarID           *id.UserID `json:"scholar_id,omitempty"`
	ScholarApprovalDate *time.Time `json:"scholar_approval_date,omitempty"`
	ScholarNotes        string     `json:"scholar_notes,omitempty"`

	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty"`
	SuspensionReason string     `json:"suspension_reason,omitempty"`

	TrustScore            int               `json:"trust_score"`
	TotalCompletedRituals int               `json:"total_completed_rituals"`
	ViolationCount        int               `json:"violation_count"`
	LastViolationDate     *time.Time        `json:"last_violation_date,omitempty"`
	Violations            []trust.Violation `json:"violations"`

	MaxActiveBadal     int `json:"max_active_badal"`
	CurrentActiveBadal int `json:"current_active_badal"`

	SuspensionRecommended bool       `json:"suspension_recommended"`
	RecommendationReason  string     `json:"recommendation_reason,omitempty"`
	RecommendedAt         *time.Time `json:"recommended_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPilgrimCertification starts an empty Pending record.
func NewPilgrimCertification(certID id.CertificationID, providerID id.ProviderID, now time.Time) *PilgrimCertification {
	return &PilgrimCertification{
		ID:         certID,
		ProviderID: providerID,
		Status:     StatusPending,
		Violations: []trust.Violation{},
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HajjQualified reports whether the pilgrim has attested their own Hajj.
func (c *PilgrimCertification) HajjQualified() bool {
	return c.HasOwnHajj && c.OwnHajjDate != nil
}

// AvailableSlots is the number of reservations the allocator could still grant.
func (c *PilgrimCertification) AvailableSlots() int {
	if c.Status != StatusVerified {
		return 0
	}
	return max(0, c.MaxActiveBadal-c.CurrentActiveBadal)
}

// TrustState projects the fields the trust engine operates on.
func (c *PilgrimCertification) TrustState() trust.State {
	return trust.State{
		Score:             c.TrustScore,
		CompletedRituals:  c.TotalCompletedRituals,
		MaxActiveBadal:    c.MaxActiveBadal,
		ViolationCount:    c.ViolationCount,
		LastViolationDate: c.LastViolationDate,
		Violations:        c.Violations,
	}
}

// ApplyTrustState writes engine output back.
func (c *PilgrimCertification) ApplyTrustState(s trust.State, now time.Time) {
	c.TrustScore = s.Score
	c.TotalCompletedRituals = s.CompletedRituals
	c.MaxActiveBadal = s.MaxActiveBadal
	c.ViolationCount = s.ViolationCount
	c.LastViolationDate = s.LastViolationDate
	c.Violations = s.Violations
	c.touch(now)
}

// ApplyRecommendation surfaces a suspension recommendation to reviewers.
func (c *PilgrimCertification) ApplyRecommendation(r *trust.Recommendation) {
	if r == nil {
		return
	}
	at := r.At
	c.SuspensionRecommended = true
	c.RecommendationReason = r.Reason
	c.RecommendedAt = &at
}

func (c *PilgrimCertification) clearRecommendation() {
	c.SuspensionRecommended = false
	c.RecommendationReason = ""
	c.RecommendedAt = nil
}

func (c *PilgrimCertification) touch(now time.Time) {
	c.UpdatedAt = now
	c.Version++
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (c *PilgrimCertification) Clone() *PilgrimCertification {
	if c == nil {
		return nil
	}
	out := *c
	out.OwnUmrahDate = cloneTime(c.OwnUmrahDate)
	out.OwnHajjDate = cloneTime(c.OwnHajjDate)
	out.ScholarApprovalDate = cloneTime(c.ScholarApprovalDate)
	out.SubmittedAt = cloneTime(c.SubmittedAt)
	out.VerifiedAt = cloneTime(c.VerifiedAt)
	out.SuspendedAt = cloneTime(c.SuspendedAt)
	out.LastViolationDate = cloneTime(c.LastViolationDate)
	out.RecommendedAt = cloneTime(c.RecommendedAt)
	if c.ScholarID != nil {
		sid := *c.ScholarID
		out.ScholarID = &sid
	}
	out.Violations = append([]trust.Violation{}, c.Violations...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Draft carries provider-editable fields. Nil pointers leave a field as is.
type Draft struct {
	GovernmentIDRef     *string
	PhotoRef            *string
	HasOwnUmrah         *bool
	OwnUmrahDate        *time.Time
	HasOwnHajj          *bool
	OwnHajjDate         *time.Time
	VideoOathRef        *string
	VideoOathTranscript *string
}

// CapacityUsage summarizes a provider's slot consumption.
type CapacityUsage struct {
	ProviderID id.ProviderID `json:"provider_id"`
	Status     Status        `json:"status"`
	Current    int           `json:"current_active_badal"`
	Max        int           `json:"max_active_badal"`
	Available  int           `json:"available"`
}
