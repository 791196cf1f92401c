package audit

import (
	"context"
	"time"

	id "badal/pkg/domain"
)

// EventCategory classifies audit events by retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers decisions that affect a provider's standing
	// or a certificate a third party relies on. Kept indefinitely.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers fraud flags and authorization refusals.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine capacity and ledger activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	ProviderID id.ProviderID
	// Subject is the entity acted on when it is not the provider itself
	// (booking, ritual event, certificate number).
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	ActorID   string
	ActorRole string
}

type AuditEvent string

const (
	// Certification lifecycle
	EventDraftUpdated           AuditEvent = "certification_draft_updated"
	EventSubmitted              AuditEvent = "certification_submitted"
	EventApproved               AuditEvent = "certification_approved"
	EventReturned               AuditEvent = "certification_returned"
	EventSuspended              AuditEvent = "certification_suspended"
	EventReinstated             AuditEvent = "certification_reinstated"
	EventViolationRecorded      AuditEvent = "violation_recorded"
	EventSuspensionRecommended  AuditEvent = "suspension_recommended"
	EventTransitionUnauthorized AuditEvent = "transition_unauthorized"

	// Capacity
	EventSlotReserved      AuditEvent = "slot_reserved"
	EventSlotReleased      AuditEvent = "slot_released"
	EventSlotForceReleased AuditEvent = "slot_force_released"
	EventCapacityExceeded  AuditEvent = "capacity_exceeded"

	// Ritual ledger
	EventRitualRecorded AuditEvent = "ritual_event_recorded"
	EventRitualFlagged  AuditEvent = "ritual_event_flagged"
	EventRitualVerified AuditEvent = "ritual_event_verified"

	// Certificates
	EventCertificateIssued AuditEvent = "certificate_issued"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventApproved:              CategoryCompliance,
	EventReturned:              CategoryCompliance,
	EventSuspended:             CategoryCompliance,
	EventReinstated:            CategoryCompliance,
	EventViolationRecorded:     CategoryCompliance,
	EventSuspensionRecommended: CategoryCompliance,
	EventRitualVerified:        CategoryCompliance,
	EventCertificateIssued:     CategoryCompliance,

	EventTransitionUnauthorized: CategorySecurity,
	EventRitualFlagged:          CategorySecurity,
	EventSlotForceReleased:      CategorySecurity,

	EventDraftUpdated:     CategoryOperations,
	EventSubmitted:        CategoryOperations,
	EventSlotReserved:     CategoryOperations,
	EventSlotReleased:     CategoryOperations,
	EventCapacityExceeded: CategoryOperations,
	EventRitualRecorded:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByProvider(ctx context.Context, providerID id.ProviderID) ([]Event, error)
}
