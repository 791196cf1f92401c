package models

import (
	"strings"
	"time"

	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
)

// Transition table. Any pair not listed is rejected with
// CodeInvalidTransition.
//
//	Pending, Inactive  --Submit-->    UnderReview
//	UnderReview        --Approve-->   Verified
//	UnderReview        --Return-->    Pending
//	any but Suspended  --Suspend-->   Suspended
//	Suspended          --Reinstate--> Pending | Inactive
var allowed = map[Status][]Status{
	StatusPending:     {StatusUnderReview, StatusSuspended},
	StatusInactive:    {StatusUnderReview, StatusSuspended},
	StatusUnderReview: {StatusVerified, StatusPending, StatusSuspended},
	StatusVerified:    {StatusSuspended},
	StatusSuspended:   {StatusPending, StatusInactive},
}

// CanTransitionTo reports whether the table permits s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range allowed[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsEditable reports whether the provider may still change draft fields.
func (s Status) IsEditable() bool {
	return s == StatusPending || s == StatusInactive
}

func invalidTransition(from Status, op string) error {
	return dErrors.New(dErrors.CodeInvalidTransition, op+" is not allowed from status "+string(from))
}

// CanUpdateDraft checks the record still accepts provider edits.
func (c *PilgrimCertification) CanUpdateDraft() error {
	if !c.Status.IsEditable() {
		return invalidTransition(c.Status, "draft update")
	}
	return nil
}

// ApplyDraft copies the non-nil fields. Replacing a document reference
// clears its verified flag.
func (c *PilgrimCertification) ApplyDraft(d Draft, now time.Time) {
	if d.GovernmentIDRef != nil && *d.GovernmentIDRef != c.GovernmentIDRef {
		c.GovernmentIDRef = strings.TrimSpace(*d.GovernmentIDRef)
		c.GovernmentIDVerified = false
	}
	if d.PhotoRef != nil && *d.PhotoRef != c.PhotoRef {
		c.PhotoRef = strings.TrimSpace(*d.PhotoRef)
		c.PhotoVerified = false
	}
	if d.VideoOathRef != nil && *d.VideoOathRef != c.VideoOathRef {
		c.VideoOathRef = strings.TrimSpace(*d.VideoOathRef)
		c.VideoOathVerified = false
	}
	if d.VideoOathTranscript != nil {
		c.VideoOathTranscript = *d.VideoOathTranscript
	}
	if d.HasOwnUmrah != nil {
		c.HasOwnUmrah = *d.HasOwnUmrah
		if !c.HasOwnUmrah {
			c.OwnUmrahDate = nil
		}
	}
	if d.OwnUmrahDate != nil {
		c.OwnUmrahDate = cloneTime(d.OwnUmrahDate)
	}
	if d.HasOwnHajj != nil {
		c.HasOwnHajj = *d.HasOwnHajj
		if !c.HasOwnHajj {
			c.OwnHajjDate = nil
		}
	}
	if d.OwnHajjDate != nil {
		c.OwnHajjDate = cloneTime(d.OwnHajjDate)
	}
	c.touch(now)
}

// CanSubmit checks the source state first, then readiness.
func (c *PilgrimCertification) CanSubmit() error {
	if !c.Status.CanTransitionTo(StatusUnderReview) {
		return invalidTransition(c.Status, "submit")
	}
	if !IsReadyForSubmission(c) {
		missing := MissingRequirements(c)
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		return dErrors.New(dErrors.CodeNotReady, "missing requirements: "+strings.Join(names, ", "))
	}
	return nil
}

func (c *PilgrimCertification) ApplySubmission(now time.Time) {
	c.Status = StatusUnderReview
	c.SubmittedAt = &now
	c.touch(now)
}

// CanApprove permits only UnderReview. Callers treat an already Verified
// record as a no-op before calling this.
func (c *PilgrimCertification) CanApprove() error {
	if c.Status != StatusUnderReview {
		return invalidTransition(c.Status, "approve")
	}
	return nil
}

// ApplyApproval verifies the submitted documents and records the reviewer.
// Score and capacity are seeded only the first time a record is verified so
// that a reinstated pilgrim keeps the standing they earned.
func (c *PilgrimCertification) ApplyApproval(reviewer id.UserID, notes string, initialScore, initialCapacity int, now time.Time) {
	firstVerification := c.VerifiedAt == nil
	c.Status = StatusVerified
	c.GovernmentIDVerified = true
	c.PhotoVerified = true
	c.VideoOathVerified = true
	c.ScholarApproved = true
	c.ScholarID = &reviewer
	c.ScholarApprovalDate = &now
	c.ScholarNotes = strings.TrimSpace(notes)
	c.VerifiedAt = &now
	if firstVerification {
		c.TrustScore = initialScore
		c.MaxActiveBadal = initialCapacity
	}
	c.touch(now)
}

func (c *PilgrimCertification) CanReturn(notes string) error {
	if c.Status != StatusUnderReview {
		return invalidTransition(c.Status, "return")
	}
	if strings.TrimSpace(notes) == "" {
		return dErrors.New(dErrors.CodeNotesRequired, "notes are required when returning an application")
	}
	return nil
}

func (c *PilgrimCertification) ApplyReturn(reviewer id.UserID, notes string, now time.Time) {
	c.Status = StatusPending
	c.ScholarID = &reviewer
	c.ScholarNotes = strings.TrimSpace(notes)
	c.touch(now)
}

func (c *PilgrimCertification) CanSuspend(reason string) error {
	if !c.Status.CanTransitionTo(StatusSuspended) {
		return invalidTransition(c.Status, "suspend")
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeNotesRequired, "a reason is required to suspend")
	}
	return nil
}

// ApplySuspension leaves active reservations in place; the allocator refuses
// new ones because the status is no longer Verified.
func (c *PilgrimCertification) ApplySuspension(reason string, now time.Time) {
	c.Status = StatusSuspended
	c.SuspendedAt = &now
	c.SuspensionReason = strings.TrimSpace(reason)
	c.clearRecommendation()
	c.touch(now)
}

func (c *PilgrimCertification) CanReinstate(target Status) error {
	if c.Status != StatusSuspended {
		return invalidTransition(c.Status, "reinstate")
	}
	if target != StatusPending && target != StatusInactive {
		return dErrors.New(dErrors.CodeValidation, "reinstatement target must be pending or inactive")
	}
	return nil
}

// ApplyReinstatement returns the record to the application flow. A scholar
// must approve again; trust counters and history are kept.
func (c *PilgrimCertification) ApplyReinstatement(target Status, now time.Time) {
	c.Status = target
	c.ScholarApproved = false
	c.clearRecommendation()
	c.touch(now)
}
