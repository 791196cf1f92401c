package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"badal/internal/certificate/models"
	"badal/internal/platform/postgres"
	id "badal/pkg/domain"
	txcontext "badal/pkg/platform/tx"
)

// PostgresStore persists certificates in completion_certificates and the
// yearly sequence in certificate_counters.
type PostgresStore struct {
	db     *sql.DB
	runner txcontext.Runner
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewSQLRunner(db, nil)}
}

func (s *PostgresStore) execer(ctx context.Context) postgres.Execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const certificateColumns = `
	id, booking_id, pilgrim_id, certificate_number, qr_verification_code,
	beneficiary_name, beneficiary_name_ar, service_type, completed_date,
	hijri_date, location, all_steps_verified, issued_at`

// WithBookingLock runs fn in one transaction holding the booking's
// certificate lock. Stores of other components called with the passed
// context join the same transaction.
func (s *PostgresStore) WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := postgres.AdvisoryXactLock(ctx, s.execer(ctx), "certificate:"+bookingID.String()); err != nil {
			return fmt.Errorf("lock booking certificate: %w", err)
		}
		return fn(ctx)
	})
}

func (s *PostgresStore) FindByBooking(ctx context.Context, bookingID id.BookingID) (*models.CompletionCertificate, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM completion_certificates WHERE booking_id = $1`, uuid.UUID(bookingID))
	c, err := scanCertificate(row)
	if err != nil {
		return nil, fmt.Errorf("find certificate by booking: %w", postgres.Translate(err))
	}
	return c, nil
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*models.CompletionCertificate, error) {
	key := codeKey(code)
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM completion_certificates
		WHERE certificate_number = $1 OR qr_verification_code = $1`, key)
	c, err := scanCertificate(row)
	if err != nil {
		return nil, fmt.Errorf("find certificate by code: %w", postgres.Translate(err))
	}
	return c, nil
}

// NextNumber bumps the year's counter. Called inside WithBookingLock the
// row lock is held until the certificate commits, so a rolled back issue
// gives its number back.
func (s *PostgresStore) NextNumber(ctx context.Context, year int) (int, error) {
	var next int
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO certificate_counters (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = certificate_counters.last_value + 1
		RETURNING last_value`, year).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next certificate number: %w", postgres.Translate(err))
	}
	return next, nil
}

func (s *PostgresStore) Create(ctx context.Context, c *models.CompletionCertificate) error {
	_, err := s.execer(ctx).ExecContext(ctx, `INSERT INTO completion_certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(c.ID), uuid.UUID(c.BookingID), uuid.UUID(c.PilgrimID),
		codeKey(c.CertificateNumber), codeKey(c.QRVerificationCode),
		c.BeneficiaryName, c.BeneficiaryNameAr, c.ServiceType, c.CompletedDate,
		c.HijriDate, c.Location, c.AllStepsVerified, c.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", postgres.Translate(err))
	}
	return nil
}

func scanCertificate(row *sql.Row) (*models.CompletionCertificate, error) {
	var (
		c                            models.CompletionCertificate
		certID, bookingID, pilgrimID uuid.UUID
	)
	err := row.Scan(
		&certID, &bookingID, &pilgrimID, &c.CertificateNumber, &c.QRVerificationCode,
		&c.BeneficiaryName, &c.BeneficiaryNameAr, &c.ServiceType, &c.CompletedDate,
		&c.HijriDate, &c.Location, &c.AllStepsVerified, &c.IssuedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.CertificateID(certID)
	c.BookingID = id.BookingID(bookingID)
	c.PilgrimID = id.ProviderID(pilgrimID)
	c.CompletedDate = c.CompletedDate.UTC()
	c.IssuedAt = c.IssuedAt.UTC()
	return &c, nil
}
