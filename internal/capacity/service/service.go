// Package service is the capacity allocator: it grants and returns the
// concurrent badal slots a verified pilgrim may hold.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"badal/internal/capacity/metrics"
	"badal/internal/capacity/models"
	"badal/internal/platform/observability"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/audit"
	"badal/pkg/platform/retry"
	"badal/pkg/platform/sentinel"
	"badal/pkg/platform/tx"
	"badal/pkg/requestcontext"
)

// Store reports refusals as sentinel facts: ErrNotFound (no certification),
// ErrInvalidState (not verified), ErrLimitReached (no free slot) and
// ErrConflict (booking held elsewhere or raced).
type Store interface {
	Reserve(ctx context.Context, r *models.Reservation) (*models.Reservation, bool, error)
	FindActiveByBooking(ctx context.Context, bookingID id.BookingID) (*models.Reservation, error)
	Release(ctx context.Context, providerID id.ProviderID, reservationID id.ReservationID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error)
	ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error)
	ListActive(ctx context.Context, providerID id.ProviderID) ([]*models.Reservation, error)
	ListStale(ctx context.Context, acquiredBefore time.Time, limit int) ([]*models.Reservation, error)
}

type Service struct {
	store          Store
	retryPolicy    retry.Policy
	sweepBatch     int
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

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.retryPolicy = p
	}
}

// WithSweepBatch caps how many stale reservations one sweep releases.
func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("capacity store is required")
	}
	s := &Service{store: store, retryPolicy: retry.DefaultPolicy, sweepBatch: 500}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// TryReserveSlot grants one slot for bookingID. A booking that already holds
// a slot with this provider gets that reservation back.
func (s *Service) TryReserveSlot(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID) (_ *models.ReserveResult, err error) {
	ctx, span := observability.StartSpan(ctx, "capacity.TryReserveSlot",
		attribute.String("provider_id", providerID.String()), attribute.String("booking_id", bookingID.String()))
	defer func() { observability.EndSpan(span, err) }()
	if s.metrics != nil {
		defer s.metrics.ObserveReserve(time.Now())
	}

	if providerID.IsNil() || bookingID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "provider_id and booking_id are required")
	}

	candidate := &models.Reservation{
		ID:         id.ReservationID(uuid.New()),
		ProviderID: providerID,
		BookingID:  bookingID,
		AcquiredAt: requestcontext.Now(ctx),
	}

	var (
		reservation *models.Reservation
		created     bool
	)
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var opErr error
		reservation, created, opErr = s.store.Reserve(ctx, candidate)
		return opErr
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost a race with a concurrent reserve for the same booking.
		existing, findErr := s.store.FindActiveByBooking(ctx, bookingID)
		if findErr == nil && existing.ProviderID == providerID {
			reservation, created, err = existing, false, nil
		}
	}
	if err != nil {
		return nil, s.reserveFailed(ctx, providerID, bookingID, err)
	}

	if !created {
		s.count("existing")
		return &models.ReserveResult{Reservation: reservation, Existing: true}, nil
	}
	s.count("reserved")
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSlotReserved,
		"provider_id", providerID.String(), "subject", bookingID.String())
	return &models.ReserveResult{Reservation: reservation}, nil
}

func (s *Service) reserveFailed(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.count("ineligible")
		return dErrors.New(dErrors.CodeIneligible, "provider has no certification")
	case errors.Is(err, sentinel.ErrInvalidState):
		s.count("ineligible")
		return dErrors.New(dErrors.CodeIneligible, "provider is not verified")
	case errors.Is(err, sentinel.ErrLimitReached):
		s.count("exhausted")
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCapacityExceeded,
			"provider_id", providerID.String(), "subject", bookingID.String())
		return dErrors.New(dErrors.CodeCapacityExceeded, "provider has no free badal slot")
	case errors.Is(err, sentinel.ErrConflict):
		s.count("error")
		return dErrors.New(dErrors.CodeConflict, "booking already holds a slot with another provider")
	case errors.Is(err, sentinel.ErrUnavailable):
		s.count("error")
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "capacity store unavailable")
	default:
		s.count("error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve slot")
	}
}

// ReleaseSlot frees a reservation. Releasing an already-released or unknown
// reservation is a no-op so the booking service can retry freely.
func (s *Service) ReleaseSlot(ctx context.Context, providerID id.ProviderID, reservationID id.ReservationID) (*models.ReleaseResult, error) {
	now := requestcontext.Now(ctx)
	return s.release(ctx, func(ctx context.Context) (*models.Reservation, bool, error) {
		return s.store.Release(ctx, providerID, reservationID, models.ReleaseCancelled, now)
	})
}

// ReleaseForBooking frees whatever slot bookingID holds. It is the booking
// service's completion/cancellation signal and the issuer's last step.
func (s *Service) ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID) (*models.ReleaseResult, error) {
	now := requestcontext.Now(ctx)
	return s.release(ctx, func(ctx context.Context) (*models.Reservation, bool, error) {
		return s.store.ReleaseForBooking(ctx, providerID, bookingID, models.ReleaseBookingFinished, now)
	})
}

func (s *Service) release(ctx context.Context, fn func(ctx context.Context) (*models.Reservation, bool, error)) (*models.ReleaseResult, error) {
	var (
		r        *models.Reservation
		released bool
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var opErr error
		r, released, opErr = fn(ctx)
		return opErr
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.ReleaseResult{}, nil
	}
	if err != nil {
		return nil, wrapReleaseErr(err)
	}
	s.released(ctx, r, released, audit.EventSlotReleased)
	return &models.ReleaseResult{Reservation: r, Released: released}, nil
}

func (s *Service) ListActiveReservations(ctx context.Context, providerID id.ProviderID) ([]*models.Reservation, error) {
	list, err := s.store.ListActive(ctx, providerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reservations")
	}
	return list, nil
}

// SweepOrphans force-releases active reservations older than olderThan and
// returns how many were released.
func (s *Service) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	now := requestcontext.Now(ctx)
	stale, err := s.store.ListStale(ctx, now.Add(-olderThan), s.sweepBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stale reservations")
	}
	swept := 0
	for _, candidate := range stale {
		r, released, err := s.store.Release(ctx, candidate.ProviderID, candidate.ID, models.ReleaseTimeout, now)
		if err != nil {
			s.logger.WarnContext(ctx, "orphan release failed",
				"reservation_id", candidate.ID,
				"provider_id", candidate.ProviderID,
				"error", err,
			)
			continue
		}
		if released {
			swept++
			s.released(ctx, r, true, audit.EventSlotForceReleased)
		}
	}
	if s.metrics != nil && swept > 0 {
		s.metrics.AddSwept(swept)
	}
	return swept, nil
}

func (s *Service) released(ctx context.Context, r *models.Reservation, released bool, event audit.AuditEvent) {
	if !released {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementRelease(string(r.ReleaseReason))
	}
	observability.LogAudit(ctx, s.logger, s.auditPublisher, event,
		"provider_id", r.ProviderID.String(), "subject", r.BookingID.String(), "reason", string(r.ReleaseReason))
}

// withRetry retries transient store failures. Inside a caller's transaction
// a retry would replay against an aborted transaction, so the caller owns
// the retry there.
func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, inTx := tx.From(ctx); inTx {
		return fn(ctx)
	}
	return retry.Do(ctx, s.retryPolicy, fn)
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementReserve(outcome)
	}
}

func wrapReleaseErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "capacity store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release slot")
	}
}
