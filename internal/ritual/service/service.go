// Package service is the ritual proof ledger: an append-only, strictly
// ordered record of evidenced ritual steps per booking. Each append is
// scored by the fraud rules before it is stored.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"badal/internal/booking"
	"badal/internal/platform/observability"
	"badal/internal/policy"
	"badal/internal/ritual/fraud"
	"badal/internal/ritual/metrics"
	"badal/internal/ritual/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/audit"
	"badal/pkg/platform/sentinel"
	"badal/pkg/requestcontext"
)

const (
	maxStepLength   = 64
	maxNotesLength  = 2000
	mediaMatchLimit = 50
	defaultPageSize = 100
)

// Store persists ritual events. WithBookingLock serializes fn against every
// other holder of the same booking's lock; WithMediaLock does the same per
// media hash and is always taken inside the booking lock.
type Store interface {
	WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error
	WithMediaLock(ctx context.Context, hash string, fn func(ctx context.Context) error) error
	Create(ctx context.Context, e *models.RitualEvent) error
	FindByID(ctx context.Context, eventID id.RitualEventID) (*models.RitualEvent, error)
	ListByBooking(ctx context.Context, bookingID id.BookingID) ([]*models.RitualEvent, error)
	FindByMediaHash(ctx context.Context, hash string, limit int) ([]*models.RitualEvent, error)
	ListFlagged(ctx context.Context, limit int) ([]*models.RitualEvent, error)
	Execute(ctx context.Context, eventID id.RitualEventID, validate func(*models.RitualEvent) error, mutate func(*models.RitualEvent)) (*models.RitualEvent, error)
}

type Service struct {
	store          Store
	bookings       booking.Lookup
	fraudPolicy    policy.Fraud
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, bookings booking.Lookup, fraudPolicy policy.Fraud, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ritual store is required")
	}
	if bookings == nil {
		return nil, errors.New("booking lookup is required")
	}
	s := &Service{store: store, bookings: bookings, fraudPolicy: fraudPolicy}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

var errAlreadyVerified = errors.New("already verified")

// AppendEvent records the next step of a booking the calling provider
// performs. The order check, fraud evaluation and insert run under the
// booking's lock, and the duplicate-media lookup and insert also under the
// media hash's lock, so concurrent appends to other bookings see each other.
func (s *Service) AppendEvent(ctx context.Context, actor id.Actor, bookingID id.BookingID, step string, stepOrder int, ev models.Evidence) (_ *models.RitualEvent, err error) {
	ctx, span := observability.StartSpan(ctx, "ritual.AppendEvent",
		attribute.String("booking_id", bookingID.String()), attribute.Int("step_order", stepOrder))
	defer func() { observability.EndSpan(span, err) }()

	step = strings.TrimSpace(step)
	if step == "" || utf8.RuneCountInString(step) > maxStepLength {
		return nil, dErrors.New(dErrors.CodeValidation, "ritual_step is required and must be at most 64 characters")
	}
	if actor.Role != id.RoleProvider {
		return nil, s.unauthorized(ctx, actor, bookingID, "append")
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapBookingErr(err)
	}
	if !actor.ActsFor(b.ProviderID) {
		return nil, s.unauthorized(ctx, actor, bookingID, "append")
	}
	if !b.Active() {
		return nil, dErrors.New(dErrors.CodeIneligible, "booking is not in progress")
	}
	ev.BeneficiaryID = b.BeneficiaryID

	now := requestcontext.Now(ctx)
	event := models.NewRitualEvent(id.RitualEventID(uuid.New()), bookingID, b.ProviderID, step, stepOrder, ev, now)

	err = s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context) error {
		history, err := s.store.ListByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := models.CheckAppend(models.HighestOrder(history), stepOrder); err != nil {
			return err
		}
		return s.store.WithMediaLock(ctx, event.MediaHash, func(ctx context.Context) error {
			matches, err := s.store.FindByMediaHash(ctx, event.MediaHash, mediaMatchLimit)
			if err != nil {
				return err
			}
			event.ApplySignals(fraud.Evaluate(event, fraud.History{
				Previous:     models.Previous(history),
				MediaMatches: matches,
			}, s.fraudPolicy))
			return s.store.Create(ctx, event)
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			err = dErrors.New(dErrors.CodeDuplicateStep, "step is already recorded for this booking")
		}
		err = wrapStoreErr(err)
		s.countAppend(string(dErrors.CodeOf(err)))
		return nil, err
	}

	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRitualRecorded,
		"provider_id", event.ProviderID.String(), "subject", bookingID.String(), "step", event.RitualStep)
	if event.IsFlagged {
		s.countAppend("flagged")
		for _, sig := range event.Signals {
			if s.metrics != nil {
				s.metrics.IncrementSignal(string(sig))
			}
		}
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRitualFlagged,
			"provider_id", event.ProviderID.String(), "subject", event.ID.String(), "reason", string(event.FlagReason))
	} else {
		s.countAppend("recorded")
	}
	return event, nil
}

// MarkVerified records a reviewer's decision on an event. It is the only
// change an event ever receives and never clears a flag. Verifying an
// already verified event returns it unchanged.
func (s *Service) MarkVerified(ctx context.Context, actor id.Actor, eventID id.RitualEventID, notes string) (*models.RitualEvent, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, id.BookingID{}, "verify")
	}
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return nil, dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	now := requestcontext.Now(ctx)
	e, err := s.store.Execute(ctx, eventID,
		func(e *models.RitualEvent) error {
			if e.Verified {
				return errAlreadyVerified
			}
			if e.IsFlagged && notes == "" {
				return dErrors.New(dErrors.CodeNotesRequired, "clearing a flagged event requires notes")
			}
			return nil
		},
		func(e *models.RitualEvent) {
			e.ApplyVerification(actor.ID, notes, now)
		})
	if errors.Is(err, errAlreadyVerified) {
		return s.store.FindByID(ctx, eventID)
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if s.metrics != nil {
		s.metrics.IncrementVerification()
	}
	kv := []any{"provider_id", e.ProviderID.String(), "subject", e.ID.String()}
	if e.IsFlagged {
		kv = append(kv, "reason", string(e.FlagReason))
	}
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRitualVerified, kv...)
	return e, nil
}

// ListByBooking returns a booking's events in step order. Providers may
// read only bookings they perform.
func (s *Service) ListByBooking(ctx context.Context, actor id.Actor, bookingID id.BookingID) ([]*models.RitualEvent, error) {
	switch {
	case actor.Reviewer(), actor.Is(id.RoleSystem):
	case actor.Role == id.RoleProvider:
		b, err := s.bookings.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, wrapBookingErr(err)
		}
		if !actor.ActsFor(b.ProviderID) {
			return nil, s.unauthorized(ctx, actor, bookingID, "list")
		}
	default:
		return nil, s.unauthorized(ctx, actor, bookingID, "list")
	}
	list, err := s.store.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return list, nil
}

// ListFlagged is the reviewer queue of flagged, unverified events.
func (s *Service) ListFlagged(ctx context.Context, actor id.Actor, limit int) ([]*models.RitualEvent, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, id.BookingID{}, "list_flagged")
	}
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	list, err := s.store.ListFlagged(ctx, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return list, nil
}

func (s *Service) unauthorized(ctx context.Context, actor id.Actor, bookingID id.BookingID, operation string) error {
	kv := []any{"operation", "ritual_" + operation, "reason", "role " + string(actor.Role) + " not permitted"}
	if !bookingID.IsNil() {
		kv = append(kv, "subject", bookingID.String())
	}
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventTransitionUnauthorized, kv...)
	return dErrors.New(dErrors.CodeUnauthorized, "caller may not "+strings.ReplaceAll(operation, "_", " ")+" ritual events")
}

func (s *Service) countAppend(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementAppend(outcome)
	}
}

func wrapBookingErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "booking not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "booking service unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "booking lookup failed")
	}
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "ritual event not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ritual store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "ritual store failure")
	}
}
