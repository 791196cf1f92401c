// Package observability holds the audit logging and tracing helpers shared
// by the domain services.
package observability

import (
	"context"
	"log/slog"

	"badal/pkg/attrs"
	id "badal/pkg/domain"
	"badal/pkg/platform/audit"
	"badal/pkg/requestcontext"
)

// AuditPublisher is satisfied by the audit publisher.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit writes the event to the structured log and to the audit trail.
// Recognized keys in attrList: provider_id, subject, reason, decision.
// Publisher failures are logged and never fail the caller.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	attrList = attrs.AppendNonEmpty(attrList, "request_id", requestID)
	attrList = attrs.AppendNonEmpty(attrList, "actor_role", string(actor.Role))
	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}
	if publisher == nil {
		return
	}

	ev := audit.Event{
		Action:    string(event),
		Subject:   attrs.ExtractString(attrList, "subject"),
		Reason:    attrs.ExtractString(attrList, "reason"),
		Decision:  attrs.ExtractString(attrList, "decision"),
		RequestID: requestID,
		ActorRole: string(actor.Role),
	}
	if !actor.ID.IsNil() {
		ev.ActorID = actor.ID.String()
	}
	if raw := attrs.ExtractString(attrList, "provider_id"); raw != "" {
		if providerID, err := id.ParseProviderID(raw); err == nil {
			ev.ProviderID = providerID
		}
	}
	if err := publisher.Emit(ctx, ev); err != nil && logger != nil {
		logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
