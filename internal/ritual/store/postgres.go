package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"badal/internal/platform/postgres"
	"badal/internal/ritual/models"
	id "badal/pkg/domain"
	txcontext "badal/pkg/platform/tx"
)

// PostgresStore persists the ledger in ritual_events. The
// (booking_id, step_order) unique constraint backs the sequence check made
// under the booking's advisory lock.
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

const eventColumns = `
	id, booking_id, provider_id, beneficiary_id, ritual_step, step_order, occurred_at,
	media_type, media_ref, media_hash, latitude, longitude,
	device_fingerprint, device_change_reason, exif_data,
	dua_transcript, dua_audio_ref, beneficiary_name_mentioned, client_platform,
	is_flagged, flag_reason, signals,
	verified, verified_by, verified_at, verification_notes,
	created_at`

// WithBookingLock runs fn in a transaction holding the booking's advisory
// lock. It joins a transaction already on ctx.
func (s *PostgresStore) WithBookingLock(ctx context.Context, bookingID id.BookingID, fn func(ctx context.Context) error) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := postgres.AdvisoryXactLock(ctx, s.execer(ctx), "ritual:"+bookingID.String()); err != nil {
			return fmt.Errorf("lock booking ledger: %w", err)
		}
		return fn(ctx)
	})
}

// WithMediaLock runs fn holding an advisory lock on the normalized media
// hash, in the transaction already on ctx when there is one. Callers take it
// inside WithBookingLock, never the other way round.
func (s *PostgresStore) WithMediaLock(ctx context.Context, hash string, fn func(ctx context.Context) error) error {
	key := hashKey(hash)
	if key == "" {
		return fn(ctx)
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := postgres.AdvisoryXactLock(ctx, s.execer(ctx), "media:"+key); err != nil {
			return fmt.Errorf("lock media hash: %w", err)
		}
		return fn(ctx)
	})
}

func (s *PostgresStore) Create(ctx context.Context, e *models.RitualEvent) error {
	exif, err := marshalExif(e.ExifData)
	if err != nil {
		return err
	}
	var lat, lng sql.NullFloat64
	if e.GeoLocation != nil {
		lat = sql.NullFloat64{Float64: e.GeoLocation.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: e.GeoLocation.Lng, Valid: true}
	}
	query := `INSERT INTO ritual_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.BookingID), uuid.UUID(e.ProviderID), uuid.UUID(e.BeneficiaryID),
		e.RitualStep, e.StepOrder, e.Timestamp,
		string(e.MediaType), e.MediaRef, hashKey(e.MediaHash), lat, lng,
		e.DeviceFingerprint, e.DeviceChangeReason, exif,
		e.DuaTranscript, e.DuaAudioRef, e.BeneficiaryNameMentioned, e.ClientPlatform,
		e.IsFlagged, string(e.FlagReason), pq.Array(signalStrings(e.Signals)),
		e.Verified, nullUserID(e.VerifiedBy), postgres.NullTime(e.VerifiedAt), e.VerificationNotes,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ritual event: %w", postgres.Translate(err))
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID id.RitualEventID) (*models.RitualEvent, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ritual_events WHERE id = $1`, uuid.UUID(eventID))
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("find ritual event: %w", postgres.Translate(err))
	}
	return e, nil
}

func (s *PostgresStore) ListByBooking(ctx context.Context, bookingID id.BookingID) ([]*models.RitualEvent, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM ritual_events WHERE booking_id = $1 ORDER BY step_order`,
		uuid.UUID(bookingID))
}

func (s *PostgresStore) FindByMediaHash(ctx context.Context, hash string, limit int) ([]*models.RitualEvent, error) {
	key := hashKey(hash)
	if key == "" {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+eventColumns+` FROM ritual_events WHERE media_hash = $1 ORDER BY created_at LIMIT $2`,
		key, limit)
}

func (s *PostgresStore) ListFlagged(ctx context.Context, limit int) ([]*models.RitualEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM ritual_events WHERE is_flagged AND NOT verified ORDER BY occurred_at, step_order`
	if limit > 0 {
		return s.query(ctx, query+` LIMIT $1`, limit)
	}
	return s.query(ctx, query)
}

// Execute locks the event row, runs validate and mutate, and writes the
// verification columns back. Nothing else on an event is mutable.
func (s *PostgresStore) Execute(ctx context.Context, eventID id.RitualEventID, validate func(*models.RitualEvent) error, mutate func(*models.RitualEvent)) (*models.RitualEvent, error) {
	var result *models.RitualEvent
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		row := s.execer(ctx).QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM ritual_events WHERE id = $1 FOR UPDATE`, uuid.UUID(eventID))
		e, err := scanEvent(row)
		if err != nil {
			return fmt.Errorf("lock ritual event: %w", postgres.Translate(err))
		}
		if err := validate(e); err != nil {
			return err
		}
		mutate(e)
		_, err = s.execer(ctx).ExecContext(ctx, `
			UPDATE ritual_events
			SET verified = $2, verified_by = $3, verified_at = $4, verification_notes = $5
			WHERE id = $1`,
			uuid.UUID(e.ID), e.Verified, nullUserID(e.VerifiedBy), postgres.NullTime(e.VerifiedAt), e.VerificationNotes)
		if err != nil {
			return fmt.Errorf("update ritual event: %w", postgres.Translate(err))
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.RitualEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ritual events: %w", postgres.Translate(err))
	}
	defer rows.Close()
	out := make([]*models.RitualEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ritual event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ritual events: %w", postgres.Translate(err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.RitualEvent, error) {
	var (
		e                                     models.RitualEvent
		eventID, bookingID, providerID, benID uuid.UUID
		mediaType, flagReason                 string
		lat, lng                              sql.NullFloat64
		exif                                  []byte
		signals                               []string
		verifiedBy                            uuid.NullUUID
		verifiedAt                            sql.NullTime
	)
	err := row.Scan(
		&eventID, &bookingID, &providerID, &benID, &e.RitualStep, &e.StepOrder, &e.Timestamp,
		&mediaType, &e.MediaRef, &e.MediaHash, &lat, &lng,
		&e.DeviceFingerprint, &e.DeviceChangeReason, &exif,
		&e.DuaTranscript, &e.DuaAudioRef, &e.BeneficiaryNameMentioned, &e.ClientPlatform,
		&e.IsFlagged, &flagReason, pq.Array(&signals),
		&e.Verified, &verifiedBy, &verifiedAt, &e.VerificationNotes,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ID = id.RitualEventID(eventID)
	e.BookingID = id.BookingID(bookingID)
	e.ProviderID = id.ProviderID(providerID)
	e.BeneficiaryID = id.BeneficiaryID(benID)
	e.Timestamp = e.Timestamp.UTC()
	e.MediaType = models.MediaType(mediaType)
	e.FlagReason = models.FlagReason(flagReason)
	if lat.Valid && lng.Valid {
		e.GeoLocation = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(exif) > 0 && !strings.EqualFold(string(exif), "null") {
		if err := json.Unmarshal(exif, &e.ExifData); err != nil {
			return nil, fmt.Errorf("decode exif: %w", err)
		}
	}
	e.Signals = make([]models.FlagReason, 0, len(signals))
	for _, sig := range signals {
		e.Signals = append(e.Signals, models.FlagReason(sig))
	}
	if verifiedBy.Valid {
		v := id.UserID(verifiedBy.UUID)
		e.VerifiedBy = &v
	}
	e.VerifiedAt = postgres.TimePtr(verifiedAt)
	return &e, nil
}

func marshalExif(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal exif: %w", err)
	}
	return b, nil
}

func signalStrings(signals []models.FlagReason) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, string(s))
	}
	return out
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}
