// Package service implements the pilgrim certification lifecycle: draft
// editing, submission, scholar review, suspension, reinstatement and the
// trust-score bookkeeping that follows verified work and recorded violations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"badal/internal/certification/metrics"
	"badal/internal/certification/models"
	"badal/internal/platform/observability"
	"badal/internal/policy"
	"badal/internal/trust"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/audit"
	"badal/pkg/platform/sentinel"
	"badal/pkg/requestcontext"
)

// Store persists certifications. Execute holds the record's lock (mutex or
// FOR UPDATE) across validate and mutate.
type Store interface {
	Create(ctx context.Context, c *models.PilgrimCertification) error
	FindByProvider(ctx context.Context, providerID id.ProviderID) (*models.PilgrimCertification, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.PilgrimCertification, error)
	ListRecommended(ctx context.Context) ([]*models.PilgrimCertification, error)
	Execute(ctx context.Context, providerID id.ProviderID, validate func(*models.PilgrimCertification) error, mutate func(*models.PilgrimCertification)) (*models.PilgrimCertification, error)
}

type Service struct {
	store          Store
	trustPolicy    policy.Trust
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

func New(store Store, trustPolicy policy.Trust, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("certification store is required")
	}
	s := &Service{store: store, trustPolicy: trustPolicy}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// errAlreadyVerified short-circuits Execute for the idempotent approve path.
var errAlreadyVerified = errors.New("already verified")

// Get returns the provider's certification. Providers see only their own.
func (s *Service) Get(ctx context.Context, actor id.Actor, providerID id.ProviderID) (*models.PilgrimCertification, error) {
	if !actor.ActsFor(providerID) && !actor.Reviewer() && !actor.Is(id.RoleSystem) {
		return nil, s.unauthorized(ctx, actor, providerID, "get")
	}
	c, err := s.store.FindByProvider(ctx, providerID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return c, nil
}

// ListByStatus powers the scholar review queue.
func (s *Service) ListByStatus(ctx context.Context, actor id.Actor, status models.Status) ([]*models.PilgrimCertification, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, id.ProviderID{}, "list")
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown certification status")
	}
	list, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return list, nil
}

// ListSuspensionRecommendations returns records the trust engine flagged for
// a human suspension decision.
func (s *Service) ListSuspensionRecommendations(ctx context.Context, actor id.Actor) ([]*models.PilgrimCertification, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, id.ProviderID{}, "list_recommendations")
	}
	list, err := s.store.ListRecommended(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return list, nil
}

// CapacityUsage reports current and maximum concurrent badal for a provider.
func (s *Service) CapacityUsage(ctx context.Context, actor id.Actor, providerID id.ProviderID) (*models.CapacityUsage, error) {
	c, err := s.Get(ctx, actor, providerID)
	if err != nil {
		return nil, err
	}
	return &models.CapacityUsage{
		ProviderID: c.ProviderID,
		Status:     c.Status,
		Current:    c.CurrentActiveBadal,
		Max:        c.MaxActiveBadal,
		Available:  c.AvailableSlots(),
	}, nil
}

// UpdateDraft edits provider-owned fields, creating the record on first use.
func (s *Service) UpdateDraft(ctx context.Context, actor id.Actor, providerID id.ProviderID, draft models.Draft) (*models.PilgrimCertification, error) {
	if !actor.ActsFor(providerID) {
		return nil, s.unauthorized(ctx, actor, providerID, "update_draft")
	}
	now := requestcontext.Now(ctx)

	if _, err := s.store.FindByProvider(ctx, providerID); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, wrapStoreErr(err)
		}
		fresh := models.NewPilgrimCertification(id.CertificationID(uuid.New()), providerID, now)
		if err := s.store.Create(ctx, fresh); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return nil, wrapStoreErr(err)
		}
	}

	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error { return c.CanUpdateDraft() },
		func(c *models.PilgrimCertification) { c.ApplyDraft(draft, now) },
	)
	if err != nil {
		return nil, s.reject("update_draft", err)
	}
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventDraftUpdated,
		"provider_id", providerID.String())
	return c, nil
}

// Submit moves a complete draft into the review queue.
func (s *Service) Submit(ctx context.Context, actor id.Actor, providerID id.ProviderID) (_ *models.PilgrimCertification, err error) {
	ctx, span := observability.StartSpan(ctx, "certification.Submit", attribute.String("provider_id", providerID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if !actor.ActsFor(providerID) {
		return nil, s.unauthorized(ctx, actor, providerID, "submit")
	}
	now := requestcontext.Now(ctx)
	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error { return c.CanSubmit() },
		func(c *models.PilgrimCertification) { c.ApplySubmission(now) },
	)
	if err != nil {
		return nil, s.reject("submit", err)
	}
	s.transitioned(c.Status)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSubmitted,
		"provider_id", providerID.String())
	return c, nil
}

// Approve verifies a record under review. Approving an already Verified
// record returns it unchanged.
func (s *Service) Approve(ctx context.Context, actor id.Actor, providerID id.ProviderID, notes string) (_ *models.PilgrimCertification, err error) {
	ctx, span := observability.StartSpan(ctx, "certification.Approve", attribute.String("provider_id", providerID.String()))
	defer func() { observability.EndSpan(span, err) }()

	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, providerID, "approve")
	}
	now := requestcontext.Now(ctx)
	score, capacity := trust.InitialScoreOnVerification(s.trustPolicy)
	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error {
			if c.Status == models.StatusVerified {
				return errAlreadyVerified
			}
			return c.CanApprove()
		},
		func(c *models.PilgrimCertification) {
			c.ApplyApproval(actor.ID, notes, score, capacity, now)
		},
	)
	if errors.Is(err, errAlreadyVerified) {
		current, findErr := s.store.FindByProvider(ctx, providerID)
		if findErr != nil {
			return nil, wrapStoreErr(findErr)
		}
		return current, nil
	}
	if err != nil {
		return nil, s.reject("approve", err)
	}
	s.transitioned(c.Status)
	s.observeScore(c.TrustScore)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventApproved,
		"provider_id", providerID.String(), "decision", "approved", "reason", strings.TrimSpace(notes))
	return c, nil
}

// Return sends a record under review back to the provider with notes.
func (s *Service) Return(ctx context.Context, actor id.Actor, providerID id.ProviderID, notes string) (*models.PilgrimCertification, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, providerID, "return")
	}
	now := requestcontext.Now(ctx)
	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error { return c.CanReturn(notes) },
		func(c *models.PilgrimCertification) { c.ApplyReturn(actor.ID, notes, now) },
	)
	if err != nil {
		return nil, s.reject("return", err)
	}
	s.transitioned(c.Status)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventReturned,
		"provider_id", providerID.String(), "decision", "returned", "reason", strings.TrimSpace(notes))
	return c, nil
}

// Suspend stops new reservations for the provider. Running bookings keep
// their slots.
func (s *Service) Suspend(ctx context.Context, actor id.Actor, providerID id.ProviderID, reason string) (*models.PilgrimCertification, error) {
	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, providerID, "suspend")
	}
	now := requestcontext.Now(ctx)
	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error { return c.CanSuspend(reason) },
		func(c *models.PilgrimCertification) { c.ApplySuspension(reason, now) },
	)
	if err != nil {
		return nil, s.reject("suspend", err)
	}
	s.transitioned(c.Status)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSuspended,
		"provider_id", providerID.String(), "decision", "suspended", "reason", strings.TrimSpace(reason))
	return c, nil
}

// Reinstate is reserved for super admins and returns a suspended record to
// Pending or Inactive.
func (s *Service) Reinstate(ctx context.Context, actor id.Actor, providerID id.ProviderID, target models.Status) (*models.PilgrimCertification, error) {
	if !actor.Is(id.RoleSuperAdmin) {
		return nil, s.unauthorized(ctx, actor, providerID, "reinstate")
	}
	now := requestcontext.Now(ctx)
	c, err := s.store.Execute(ctx, providerID,
		func(c *models.PilgrimCertification) error { return c.CanReinstate(target) },
		func(c *models.PilgrimCertification) { c.ApplyReinstatement(target, now) },
	)
	if err != nil {
		return nil, s.reject("reinstate", err)
	}
	s.transitioned(c.Status)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventReinstated,
		"provider_id", providerID.String(), "decision", string(target))
	return c, nil
}

// RecordViolation applies the severity deduction and stores any suspension
// recommendation. It never changes status.
func (s *Service) RecordViolation(ctx context.Context, actor id.Actor, providerID id.ProviderID, severity trust.Severity, reason string) (_ *models.PilgrimCertification, err error) {
	ctx, span := observability.StartSpan(ctx, "certification.RecordViolation",
		attribute.String("provider_id", providerID.String()), attribute.String("severity", string(severity)))
	defer func() { observability.EndSpan(span, err) }()

	if !actor.Reviewer() {
		return nil, s.unauthorized(ctx, actor, providerID, "record_violation")
	}
	if _, err := trust.ParseSeverity(string(severity)); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeNotesRequired, "a reason is required to record a violation")
	}

	now := requestcontext.Now(ctx)
	var recommendation *trust.Recommendation
	c, err := s.store.Execute(ctx, providerID,
		func(*models.PilgrimCertification) error { return nil },
		func(c *models.PilgrimCertification) {
			var next trust.State
			next, recommendation = trust.OnViolationRecorded(c.TrustState(),
				trust.Violation{Date: now, Reason: reason, Severity: severity}, s.trustPolicy)
			c.ApplyTrustState(next, now)
			c.ApplyRecommendation(recommendation)
		},
	)
	if err != nil {
		return nil, s.reject("record_violation", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementViolation(string(severity))
	}
	s.observeScore(c.TrustScore)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventViolationRecorded,
		"provider_id", providerID.String(), "reason", reason, "decision", string(severity))
	if recommendation != nil {
		if s.metrics != nil {
			s.metrics.IncrementRecommendation()
		}
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSuspensionRecommended,
			"provider_id", providerID.String(), "reason", recommendation.Reason)
	}
	return c, nil
}

// OnRitualCompleted credits a verified completion. It is called by the
// certificate issuer inside its transaction and performs no role check.
func (s *Service) OnRitualCompleted(ctx context.Context, providerID id.ProviderID) error {
	now := requestcontext.Now(ctx)
	c, err := s.store.Execute(ctx, providerID,
		func(*models.PilgrimCertification) error { return nil },
		func(c *models.PilgrimCertification) {
			c.ApplyTrustState(trust.OnRitualCompleted(c.TrustState(), now, s.trustPolicy), now)
		},
	)
	if err != nil {
		return wrapStoreErr(err)
	}
	s.observeScore(c.TrustScore)
	return nil
}

func (s *Service) unauthorized(ctx context.Context, actor id.Actor, providerID id.ProviderID, operation string) error {
	if s.metrics != nil {
		s.metrics.IncrementRejected(operation, string(dErrors.CodeUnauthorized))
	}
	kv := []any{"operation", operation, "reason", "role " + string(actor.Role) + " not permitted"}
	if !providerID.IsNil() {
		kv = append(kv, "provider_id", providerID.String())
	}
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventTransitionUnauthorized, kv...)
	return dErrors.New(dErrors.CodeUnauthorized, "caller may not "+strings.ReplaceAll(operation, "_", " ")+" this certification")
}

func (s *Service) reject(operation string, err error) error {
	err = wrapStoreErr(err)
	if s.metrics != nil {
		s.metrics.IncrementRejected(operation, string(dErrors.CodeOf(err)))
	}
	return err
}

func (s *Service) transitioned(to models.Status) {
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(to))
	}
}

func (s *Service) observeScore(score int) {
	if s.metrics != nil {
		s.metrics.ObserveTrustScore(score)
	}
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "certification not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "certification invariant violated")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "certification store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "certification store failure")
	}
}
