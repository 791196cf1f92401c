package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"badal/internal/capacity/models"
	"badal/internal/platform/postgres"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	txcontext "badal/pkg/platform/tx"
)

// PostgresStore keeps reservations in badal_reservations and the counter on
// pilgrim_certifications. The counter only moves through the conditional
// UPDATEs below, in the same transaction as the reservation row.
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

const reservationColumns = `id, provider_id, booking_id, acquired_at, released_at, release_reason`

func (s *PostgresStore) Reserve(ctx context.Context, r *models.Reservation) (*models.Reservation, bool, error) {
	var (
		result  *models.Reservation
		created bool
	)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		exec := s.execer(ctx)

		existing, err := s.findActiveByBooking(ctx, exec, r.BookingID)
		switch {
		case err == nil:
			if existing.ProviderID != r.ProviderID {
				return fmt.Errorf("booking %s held by another provider: %w", r.BookingID, sentinel.ErrConflict)
			}
			result = existing
			return nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return err
		}

		var current int
		err = exec.QueryRowContext(ctx, `
			UPDATE pilgrim_certifications
			SET current_active_badal = current_active_badal + 1
			WHERE provider_id = $1
			  AND status = 'verified'
			  AND current_active_badal < max_active_badal
			RETURNING current_active_badal`,
			uuid.UUID(r.ProviderID),
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return s.diagnoseRefusal(ctx, exec, r.ProviderID)
		}
		if err != nil {
			return fmt.Errorf("increment active badal: %w", postgres.Translate(err))
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO badal_reservations (id, provider_id, booking_id, acquired_at)
			VALUES ($1, $2, $3, $4)`,
			uuid.UUID(r.ID), uuid.UUID(r.ProviderID), uuid.UUID(r.BookingID), r.AcquiredAt,
		)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", postgres.Translate(err))
		}
		result = r.Clone()
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// diagnoseRefusal explains why the conditional increment matched no row.
func (s *PostgresStore) diagnoseRefusal(ctx context.Context, exec postgres.Execer, providerID id.ProviderID) error {
	var (
		status            string
		current, maxBadal int
	)
	err := exec.QueryRowContext(ctx,
		`SELECT status, current_active_badal, max_active_badal FROM pilgrim_certifications WHERE provider_id = $1`,
		uuid.UUID(providerID),
	).Scan(&status, &current, &maxBadal)
	if err != nil {
		return fmt.Errorf("load certification: %w", postgres.Translate(err))
	}
	if status != "verified" {
		return fmt.Errorf("provider status %s: %w", status, sentinel.ErrInvalidState)
	}
	return fmt.Errorf("%d of %d slots in use: %w", current, maxBadal, sentinel.ErrLimitReached)
}

func (s *PostgresStore) FindActiveByBooking(ctx context.Context, bookingID id.BookingID) (*models.Reservation, error) {
	return s.findActiveByBooking(ctx, s.execer(ctx), bookingID)
}

func (s *PostgresStore) findActiveByBooking(ctx context.Context, exec postgres.Execer, bookingID id.BookingID) (*models.Reservation, error) {
	row := exec.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM badal_reservations WHERE booking_id = $1 AND released_at IS NULL`,
		uuid.UUID(bookingID))
	r, err := scanReservation(row)
	if err != nil {
		return nil, fmt.Errorf("find active reservation: %w", postgres.Translate(err))
	}
	return r, nil
}

func (s *PostgresStore) Release(ctx context.Context, providerID id.ProviderID, reservationID id.ReservationID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	return s.release(ctx, providerID, `id = $1`, uuid.UUID(reservationID), reason, now)
}

func (s *PostgresStore) ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	return s.release(ctx, providerID, `booking_id = $1`, uuid.UUID(bookingID), reason, now)
}

// release closes the matching active reservation and decrements the counter.
// When nothing active matches it returns the latest released reservation
// with released=false, or ErrNotFound when there is none.
func (s *PostgresStore) release(ctx context.Context, providerID id.ProviderID, match string, key uuid.UUID, reason models.ReleaseReason, now time.Time) (*models.Reservation, bool, error) {
	var (
		result   *models.Reservation
		released bool
	)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		exec := s.execer(ctx)
		row := exec.QueryRowContext(ctx, `
			UPDATE badal_reservations
			SET released_at = $3, release_reason = $4
			WHERE `+match+` AND provider_id = $2 AND released_at IS NULL
			RETURNING `+reservationColumns,
			key, uuid.UUID(providerID), now, string(reason),
		)
		r, err := scanReservation(row)
		if errors.Is(err, sql.ErrNoRows) {
			prior, err := scanReservation(exec.QueryRowContext(ctx, `
				SELECT `+reservationColumns+` FROM badal_reservations
				WHERE `+match+` AND provider_id = $2
				ORDER BY acquired_at DESC LIMIT 1`,
				key, uuid.UUID(providerID)))
			if err != nil {
				return fmt.Errorf("find reservation: %w", postgres.Translate(err))
			}
			result = prior
			return nil
		}
		if err != nil {
			return fmt.Errorf("release reservation: %w", postgres.Translate(err))
		}

		_, err = exec.ExecContext(ctx, `
			UPDATE pilgrim_certifications
			SET current_active_badal = current_active_badal - 1
			WHERE provider_id = $1 AND current_active_badal > 0`,
			uuid.UUID(providerID),
		)
		if err != nil {
			return fmt.Errorf("decrement active badal: %w", postgres.Translate(err))
		}
		result = r
		released = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, released, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, providerID id.ProviderID) ([]*models.Reservation, error) {
	return s.list(ctx, `
		SELECT `+reservationColumns+` FROM badal_reservations
		WHERE provider_id = $1 AND released_at IS NULL
		ORDER BY acquired_at`, uuid.UUID(providerID))
}

func (s *PostgresStore) ListStale(ctx context.Context, acquiredBefore time.Time, limit int) ([]*models.Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.list(ctx, `
		SELECT `+reservationColumns+` FROM badal_reservations
		WHERE released_at IS NULL AND acquired_at < $1
		ORDER BY acquired_at
		LIMIT $2`, acquiredBefore, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", postgres.Translate(err))
	}
	defer rows.Close()
	out := make([]*models.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", postgres.Translate(err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(row scanner) (*models.Reservation, error) {
	var (
		r                    models.Reservation
		resID, prov, booking uuid.UUID
		releasedAt           sql.NullTime
		reason               string
	)
	if err := row.Scan(&resID, &prov, &booking, &r.AcquiredAt, &releasedAt, &reason); err != nil {
		return nil, err
	}
	r.ID = id.ReservationID(resID)
	r.ProviderID = id.ProviderID(prov)
	r.BookingID = id.BookingID(booking)
	r.ReleasedAt = postgres.TimePtr(releasedAt)
	r.ReleaseReason = models.ReleaseReason(reason)
	return &r, nil
}
