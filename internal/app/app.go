// Package app assembles the service from configuration: storage backends,
// domain services, HTTP router and scheduled workers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"badal/internal/booking"
	capacityhandler "badal/internal/capacity/handler"
	capacitymetrics "badal/internal/capacity/metrics"
	capacityservice "badal/internal/capacity/service"
	capacitystore "badal/internal/capacity/store"
	"badal/internal/capacity/worker"
	certificatehandler "badal/internal/certificate/handler"
	"badal/internal/certificate/lookup"
	certificatemetrics "badal/internal/certificate/metrics"
	certificateservice "badal/internal/certificate/service"
	certificatestore "badal/internal/certificate/store"
	certificationhandler "badal/internal/certification/handler"
	certificationmetrics "badal/internal/certification/metrics"
	certificationservice "badal/internal/certification/service"
	certificationstore "badal/internal/certification/store"
	jwttoken "badal/internal/jwt_token"
	"badal/internal/platform/config"
	"badal/internal/platform/httpserver"
	"badal/internal/platform/kafka"
	"badal/internal/platform/metrics"
	"badal/internal/platform/postgres"
	"badal/internal/platform/redis"
	"badal/internal/platform/scheduler"
	"badal/internal/policy"
	ritualhandler "badal/internal/ritual/handler"
	ritualmetrics "badal/internal/ritual/metrics"
	ritualservice "badal/internal/ritual/service"
	ritualstore "badal/internal/ritual/store"
	httptransport "badal/internal/transport/http"
	"badal/pkg/platform/audit"
	auditpublisher "badal/pkg/platform/audit/publisher"
	auditmemory "badal/pkg/platform/audit/store/memory"
	auditpostgres "badal/pkg/platform/audit/store/postgres"
	auditworker "badal/pkg/platform/audit/worker"
	"badal/pkg/platform/tx"
)

// Token issuer and audience shared with the identity service.
const (
	TokenIssuer   = "badal-identity"
	TokenAudience = "badal"
)

type App struct {
	cfg       config.Server
	logger    *slog.Logger
	router    http.Handler
	scheduler *scheduler.Scheduler
	// Bookings is the in-process booking directory when no booking
	// service URL is configured.
	Bookings *booking.Directory
	closers  []func() error
}

type options struct {
	metrics bool
}

type Option func(*options)

// WithMetrics registers Prometheus collectors and serves /metrics. Only one
// App per process may enable it.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}

type stores struct {
	certifications interface {
		certificationservice.Store
		lookup.PilgrimRecords
	}
	capacity     capacityservice.Store
	ritual       ritualservice.Store
	certificates interface {
		certificateservice.Store
		lookup.Store
	}
	audit audit.Store
}

func New(ctx context.Context, cfg config.Server, pol policy.Policy, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	health := map[string]httptransport.HealthCheck{}

	var (
		st stores
		db *sql.DB
	)
	switch cfg.Storage {
	case "postgres":
		db, err = postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.ApplySchema(ctx, db); err != nil {
			return nil, err
		}
		health["postgres"] = db.PingContext
		st = stores{
			certifications: certificationstore.NewPostgres(db),
			capacity:       capacitystore.NewPostgres(db),
			ritual:         ritualstore.NewPostgres(db),
			certificates:   certificatestore.NewPostgres(db),
			audit:          auditpostgres.New(db),
		}
	default:
		certs := certificationstore.NewInMemoryStore()
		st = stores{
			certifications: certs,
			capacity:       capacitystore.NewInMemoryStore(certs),
			ritual:         ritualstore.NewInMemoryStore(),
			certificates:   certificatestore.NewInMemoryStore(),
			audit:          auditmemory.NewInMemoryStore(),
		}
	}

	publisher := auditpublisher.NewPublisher(st.audit, auditpublisher.WithLogger(logger))
	a.closers = append(a.closers, func() error { publisher.Close(); return nil })

	var bookings booking.Lookup
	if cfg.Booking.BaseURL != "" {
		bookings = booking.NewClient(booking.ClientConfig{
			BaseURL: cfg.Booking.BaseURL,
			Token:   cfg.Booking.Token,
			Timeout: cfg.Booking.Timeout,
		})
	} else {
		a.Bookings = booking.NewDirectory()
		bookings = a.Bookings
		logger.Warn("BOOKING_SERVICE_URL not set, using in-process booking directory")
	}

	var (
		httpMetrics     *metrics.Metrics
		certMetrics     *certificationmetrics.Metrics
		capMetrics      *capacitymetrics.Metrics
		ritMetrics      *ritualmetrics.Metrics
		issuanceMetrics *certificatemetrics.Metrics
	)
	if o.metrics {
		httpMetrics = metrics.New()
		certMetrics = certificationmetrics.New()
		capMetrics = capacitymetrics.New()
		ritMetrics = ritualmetrics.New()
		issuanceMetrics = certificatemetrics.New()
	}

	certifications, err := certificationservice.New(st.certifications, pol.Trust,
		certificationservice.WithLogger(logger),
		certificationservice.WithAuditPublisher(publisher),
		certificationservice.WithMetrics(certMetrics))
	if err != nil {
		return nil, err
	}
	capacity, err := capacityservice.New(st.capacity,
		capacityservice.WithLogger(logger),
		capacityservice.WithAuditPublisher(publisher),
		capacityservice.WithMetrics(capMetrics))
	if err != nil {
		return nil, err
	}
	ritual, err := ritualservice.New(st.ritual, bookings, pol.Fraud,
		ritualservice.WithLogger(logger),
		ritualservice.WithAuditPublisher(publisher),
		ritualservice.WithMetrics(ritMetrics))
	if err != nil {
		return nil, err
	}
	issuer, err := certificateservice.New(st.certificates, certificateservice.Collaborators{
		Bookings: bookings,
		Ledger:   st.ritual,
		Trust:    certifications,
		Slots:    capacity,
	}, pol.Ledger, pol.Certificate,
		certificateservice.WithLogger(logger),
		certificateservice.WithAuditPublisher(publisher),
		certificateservice.WithMetrics(issuanceMetrics))
	if err != nil {
		return nil, err
	}

	lookupOpts := []lookup.Option{lookup.WithLogger(logger), lookup.WithMetrics(issuanceMetrics)}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		// Verification works from the store alone.
		logger.Warn("redis unavailable, certificate cache disabled", "error", err)
	} else if redisClient != nil {
		a.closers = append(a.closers, redisClient.Close)
		health["redis"] = redisClient.Health
		lookupOpts = append(lookupOpts, lookup.WithCache(certificatestore.NewRedisCache(redisClient, pol.Certificate.CacheTTL)))
	}
	verifier, err := lookup.New(st.certificates, st.certifications, pol.Certificate, lookupOpts...)
	if err != nil {
		return nil, err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, TokenIssuer, TokenAudience)
	a.router = httptransport.NewRouter(httptransport.Handlers{
		Certification: certificationhandler.New(certifications, logger),
		Ritual:        ritualhandler.New(ritual, logger),
		Capacity:      capacityhandler.New(capacity, logger),
		Certificate:   certificatehandler.New(issuer, verifier, logger),
	}, httptransport.RouterConfig{
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Logger:    logger,
		Metrics:   httpMetrics,
		Health:    health,
	})

	a.scheduler = scheduler.New(logger)
	sweeper, err := worker.NewSweeper(capacity, pol.Capacity.ReservationTimeout, logger)
	if err != nil {
		return nil, err
	}
	if err := a.scheduler.Add(cfg.Workers.SweepSchedule, "orphan_sweep", sweeper.RunOnce); err != nil {
		return nil, err
	}
	if db != nil {
		if err := a.addOutboxRelay(ctx, db, st.audit); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// addOutboxRelay publishes committed audit rows to Kafka. Without brokers
// the rows stay in the outbox.
func (a *App) addOutboxRelay(ctx context.Context, db *sql.DB, outbox audit.Store) error {
	producer, err := kafka.NewProducer(ctx, a.cfg.Kafka)
	if err != nil {
		return err
	}
	if producer == nil {
		a.logger.Warn("KAFKA_BROKERS not set, audit outbox is not relayed")
		return nil
	}
	a.closers = append(a.closers, func() error { producer.Close(); return nil })
	if err := producer.EnsureTopic(ctx, a.cfg.Kafka.Partitions, a.cfg.Kafka.Replicas); err != nil {
		return err
	}
	pgOutbox, ok := outbox.(*auditpostgres.Store)
	if !ok {
		return errors.New("outbox relay requires the postgres audit store")
	}
	relay, err := auditworker.NewRelay(pgOutbox, producer, tx.NewSQLRunner(db, nil), auditworker.WithLogger(a.logger))
	if err != nil {
		return err
	}
	return a.scheduler.Add(a.cfg.Workers.RelaySchedule, "outbox_relay", func(ctx context.Context) error {
		_, err := relay.RunOnce(ctx)
		return err
	})
}

func (a *App) Router() http.Handler {
	return a.router
}

// Run serves HTTP and runs scheduled workers until ctx is cancelled, then
// shuts both down.
func (a *App) Run(ctx context.Context) error {
	srv := httpserver.New(a.cfg.Addr, a.router)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting badal", "addr", a.cfg.Addr, "storage", a.cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
