// Package service issues completion certificates. Issuance checks the
// ritual ledger against policy, then mints the certificate, credits the
// pilgrim's trust record and frees the booking's slot as one unit of work.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"badal/internal/booking"
	capacitymodels "badal/internal/capacity/models"
	"badal/internal/certificate/metrics"
	"badal/internal/certificate/models"
	"badal/internal/platform/observability"
	"badal/internal/policy"
	ritualmodels "badal/internal/ritual/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/audit"
	"badal/pkg/platform/retry"
	"badal/pkg/platform/sentinel"
	stringutil "badal/pkg/platform/strings"
	"badal/pkg/requestcontext"
)

const qrCodeBytes = 32

// Store persists certificates. WithBookingLock runs fn as one unit of work;
// collaborators called with the passed context join it.
type Store interface {
	WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error
	FindByBooking(ctx context.Context, bookingID id.BookingID) (*models.CompletionCertificate, error)
	NextNumber(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, c *models.CompletionCertificate) error
}

// Ledger reads a booking's ritual events in step order.
type Ledger interface {
	ListByBooking(ctx context.Context, bookingID id.BookingID) ([]*ritualmodels.RitualEvent, error)
}

// TrustRecorder credits a verified completion to the performing pilgrim.
type TrustRecorder interface {
	OnRitualCompleted(ctx context.Context, providerID id.ProviderID) error
}

// SlotReleaser frees the capacity slot a booking holds.
type SlotReleaser interface {
	ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID) (*capacitymodels.ReleaseResult, error)
}

// Collaborators are the components issuance reads from and writes to.
type Collaborators struct {
	Bookings booking.Lookup
	Ledger   Ledger
	Trust    TrustRecorder
	Slots    SlotReleaser
}

type Service struct {
	store          Store
	deps           Collaborators
	ledgerPolicy   policy.Ledger
	certPolicy     policy.Certificate
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
	metrics        *metrics.Metrics
	retryPolicy    retry.Policy
	newCode        func() (string, error)
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

func New(store Store, deps Collaborators, ledgerPolicy policy.Ledger, certPolicy policy.Certificate, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	if deps.Bookings == nil || deps.Ledger == nil || deps.Trust == nil || deps.Slots == nil {
		return nil, errors.New("booking lookup, ledger, trust recorder and slot releaser are required")
	}
	s := &Service{
		store:        store,
		deps:         deps,
		ledgerPolicy: ledgerPolicy,
		certPolicy:   certPolicy,
		retryPolicy:  retry.DefaultPolicy,
		newCode:      newQRCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// IssueCertificate mints the certificate for a completed booking. It is
// idempotent on the booking: a second call returns the stored certificate
// with Reissued set.
func (s *Service) IssueCertificate(ctx context.Context, actor id.Actor, bookingID id.BookingID) (_ *models.IssueResult, err error) {
	ctx, span := observability.StartSpan(ctx, "certificate.IssueCertificate",
		attribute.String("booking_id", bookingID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if !actor.Is(id.RoleSystem, id.RoleAdmin, id.RoleSuperAdmin) {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventTransitionUnauthorized,
			"operation", "certificate_issue", "subject", bookingID.String(),
			"reason", "role "+string(actor.Role)+" not permitted")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller may not issue certificates")
	}

	b, err := s.deps.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, wrapBookingErr(err)
	}

	var result *models.IssueResult
	err = retry.Do(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.store.WithBookingLock(ctx, bookingID, func(ctx context.Context) error {
			var opErr error
			result, opErr = s.issueLocked(ctx, b)
			return opErr
		})
	})
	if err != nil {
		err = wrapStoreErr(err)
		s.count(string(dErrors.CodeOf(err)))
		return nil, err
	}
	if result.Reissued {
		s.count("reissued")
		return result, nil
	}
	s.count("issued")
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventCertificateIssued,
		"provider_id", b.ProviderID.String(), "subject", bookingID.String(),
		"certificate_number", result.Certificate.CertificateNumber)
	return result, nil
}

func (s *Service) issueLocked(ctx context.Context, b *booking.Booking) (*models.IssueResult, error) {
	existing, err := s.store.FindByBooking(ctx, b.ID)
	if err == nil {
		return &models.IssueResult{Certificate: existing, Reissued: true}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	events, err := s.deps.Ledger.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEligible(b, events); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	completed := now
	if b.CompletedAt != nil {
		completed = b.CompletedAt.UTC()
	}
	seq, err := s.store.NextNumber(ctx, completed.Year())
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}
	hijri := b.HijriDate
	if hijri == "" {
		hijri = models.FormatHijri(completed)
	}
	cert := &models.CompletionCertificate{
		ID:                 id.CertificateID(uuid.New()),
		BookingID:          b.ID,
		PilgrimID:          b.ProviderID,
		CertificateNumber:  models.FormatNumber(s.certPolicy.NumberPrefix, completed.Year(), seq),
		QRVerificationCode: code,
		BeneficiaryName:    b.BeneficiaryName,
		BeneficiaryNameAr:  b.BeneficiaryNameAr,
		ServiceType:        b.ServiceType,
		CompletedDate:      dateOnly(completed),
		HijriDate:          hijri,
		Location:           b.Location,
		AllStepsVerified:   true,
		IssuedAt:           now,
	}
	if err := s.store.Create(ctx, cert); err != nil {
		return nil, err
	}
	if err := s.deps.Trust.OnRitualCompleted(ctx, b.ProviderID); err != nil {
		return nil, err
	}
	if _, err := s.deps.Slots.ReleaseForBooking(ctx, b.ProviderID, b.ID); err != nil {
		return nil, err
	}
	return &models.IssueResult{Certificate: cert}, nil
}

// checkEligible requires a completed booking whose ledger covers every
// required step and whose events have all passed review.
func (s *Service) checkEligible(b *booking.Booking, events []*ritualmodels.RitualEvent) error {
	if !b.Completed() {
		return dErrors.New(dErrors.CodeNotAllStepsVerified, "booking is not completed")
	}
	if len(events) == 0 {
		return dErrors.New(dErrors.CodeNotAllStepsVerified, "no ritual steps recorded")
	}
	recorded := make(map[string]bool, len(events))
	for _, e := range events {
		recorded[stringutil.StepKey(e.RitualStep)] = true
	}
	for _, step := range s.ledgerPolicy.RequiredStepsFor(b.ServiceType) {
		if !recorded[step] {
			return dErrors.New(dErrors.CodeNotAllStepsVerified, "required step "+step+" not recorded")
		}
	}
	for _, e := range events {
		if !e.Satisfied(s.ledgerPolicy.RequireVerificationOfUnflagged) {
			return dErrors.New(dErrors.CodeNotAllStepsVerified,
				fmt.Sprintf("step %d (%s) awaits verification", e.StepOrder, e.RitualStep))
		}
	}
	return nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementIssued(outcome)
	}
}

func newQRCode() (string, error) {
	buf := make([]byte, qrCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
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
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "certificate already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "certificate store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "certificate store failure")
	}
}
