// Package lookup answers anonymous certificate verification by number or
// QR code. Every request takes the same path through cache and store and
// is held to a minimum response time, so timing does not tell a
// malformed code from a valid-looking one that was never issued.
package lookup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"badal/internal/certificate/metrics"
	"badal/internal/certificate/models"
	certmodels "badal/internal/certification/models"
	"badal/internal/policy"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/circuit"
	"badal/pkg/platform/sentinel"
)

const (
	maxCodeLength = 128
	cacheTimeout  = 50 * time.Millisecond
	// sharedTimeout bounds a collapsed lookup, which outlives the caller
	// that started it.
	sharedTimeout = 2 * time.Second
)

type Store interface {
	FindByCode(ctx context.Context, code string) (*models.CompletionCertificate, error)
}

// Cache returns nil without error on a miss.
type Cache interface {
	Get(ctx context.Context, code string) (*models.CompletionCertificate, error)
	Set(ctx context.Context, cert *models.CompletionCertificate) error
}

// PilgrimRecords reads the performing pilgrim's certification.
type PilgrimRecords interface {
	FindByProvider(ctx context.Context, providerID id.ProviderID) (*certmodels.PilgrimCertification, error)
}

type Service struct {
	store    Store
	pilgrims PilgrimRecords
	cache    Cache
	breaker  *circuit.Breaker
	floor    time.Duration
	group    singleflight.Group
	logger   *slog.Logger
	metrics  *metrics.Metrics
	wait     func(ctx context.Context, d time.Duration)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache puts cache in front of the store. Cache failures trip a
// breaker and lookups fall back to the store alone.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func New(store Store, pilgrims PilgrimRecords, certPolicy policy.Certificate, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	if pilgrims == nil {
		return nil, errors.New("pilgrim records are required")
	}
	s := &Service{
		store:    store,
		pilgrims: pilgrims,
		floor:    certPolicy.LookupFloor,
		breaker:  circuit.New("certificate-cache", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
		wait:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Verify resolves code to the certificate's public view. Unknown and
// malformed codes both yield not_found.
func (s *Service) Verify(ctx context.Context, code string) (*models.PublicCertificateView, error) {
	start := time.Now()
	view, err := s.verify(ctx, code)
	s.wait(ctx, s.floor-time.Since(start))
	if s.metrics != nil {
		s.metrics.ObserveLookup(err == nil, time.Since(start))
	}
	return view, err
}

func (s *Service) verify(ctx context.Context, code string) (*models.PublicCertificateView, error) {
	key := normalizeCode(code)
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()
		return s.find(fctx, key)
	})
	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		s.logger.ErrorContext(ctx, "certificate lookup failed", "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "certificate lookup failed")
	}
	cert := v.(*models.CompletionCertificate)
	return cert.PublicView(s.summary(ctx, cert.PilgrimID)), nil
}

func (s *Service) find(ctx context.Context, key string) (*models.CompletionCertificate, error) {
	if cert := s.cached(ctx, key); cert != nil {
		return cert, nil
	}
	cert, err := s.store.FindByCode(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && !s.breaker.IsOpen() {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		defer cancel()
		if err := s.cache.Set(cctx, cert); err != nil {
			s.cacheFailed(ctx, err)
		}
	}
	return cert, nil
}

// cached probes the cache even while the breaker is open; hits are only
// served once the breaker has closed again.
func (s *Service) cached(ctx context.Context, key string) *models.CompletionCertificate {
	if s.cache == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	cert, err := s.cache.Get(cctx, key)
	if err != nil {
		s.cacheFailed(ctx, err)
		return nil
	}
	usePrimary, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.logger.InfoContext(ctx, "certificate cache recovered")
	}
	if !usePrimary {
		s.countCache("bypassed")
		return nil
	}
	if cert == nil {
		s.countCache("miss")
		return nil
	}
	s.countCache("hit")
	return cert
}

func (s *Service) cacheFailed(ctx context.Context, err error) {
	s.countCache("error")
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "certificate cache unavailable, reading from store", "error", err)
	}
}

// summary is best effort: a certificate stays verifiable even when the
// pilgrim record cannot be read.
func (s *Service) summary(ctx context.Context, providerID id.ProviderID) *models.PilgrimSummary {
	c, err := s.pilgrims.FindByProvider(ctx, providerID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "pilgrim summary unavailable", "error", err)
		}
		return nil
	}
	return &models.PilgrimSummary{
		CertificationStatus: string(c.Status),
		CompletedRituals:    c.TotalCompletedRituals,
		HajjQualified:       c.HajjQualified(),
	}
}

func (s *Service) countCache(result string) {
	if s.metrics != nil {
		s.metrics.IncrementCache(result)
	}
}

// normalizeCode folds case and whitespace. Oversized input maps to a key
// no certificate carries and still goes through the store.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) > maxCodeLength {
		return "-"
	}
	return code
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
