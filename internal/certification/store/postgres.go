package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"badal/internal/certification/models"
	"badal/internal/platform/postgres"
	"badal/internal/trust"
	id "badal/pkg/domain"
	"badal/pkg/platform/sentinel"
	txcontext "badal/pkg/platform/tx"
)

// PostgresStore persists certifications in pilgrim_certifications.
// Execute takes a row lock (SELECT ... FOR UPDATE) for the duration of the
// validate/mutate callbacks.
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

const certColumns = `
	id, provider_id, status,
	government_id_ref, government_id_verified, photo_ref, photo_verified,
	has_own_umrah, own_umrah_date, has_own_hajj, own_hajj_date,
	video_oath_ref, video_oath_verified, video_oath_transcript,
	scholar_approved, scholar_id, scholar_approval_date, scholar_notes,
	submitted_at, verified_at, suspended_at, suspension_reason,
	trust_score, total_completed_rituals, violation_count, last_violation_date, violations,
	max_active_badal, current_active_badal,
	suspension_recommended, recommendation_reason, recommended_at,
	version, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.PilgrimCertification) error {
	violations, err := json.Marshal(nonNil(c.Violations))
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	query := `INSERT INTO pilgrim_certifications (` + certColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.ProviderID), string(c.Status),
		c.GovernmentIDRef, c.GovernmentIDVerified, c.PhotoRef, c.PhotoVerified,
		c.HasOwnUmrah, postgres.NullTime(c.OwnUmrahDate), c.HasOwnHajj, postgres.NullTime(c.OwnHajjDate),
		c.VideoOathRef, c.VideoOathVerified, c.VideoOathTranscript,
		c.ScholarApproved, nullUserID(c.ScholarID), postgres.NullTime(c.ScholarApprovalDate), c.ScholarNotes,
		postgres.NullTime(c.SubmittedAt), postgres.NullTime(c.VerifiedAt), postgres.NullTime(c.SuspendedAt), c.SuspensionReason,
		c.TrustScore, c.TotalCompletedRituals, c.ViolationCount, postgres.NullTime(c.LastViolationDate), violations,
		c.MaxActiveBadal, c.CurrentActiveBadal,
		c.SuspensionRecommended, c.RecommendationReason, postgres.NullTime(c.RecommendedAt),
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certification: %w", postgres.Translate(err))
	}
	return nil
}

func (s *PostgresStore) FindByProvider(ctx context.Context, providerID id.ProviderID) (*models.PilgrimCertification, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+certColumns+` FROM pilgrim_certifications WHERE provider_id = $1`, uuid.UUID(providerID))
	c, err := scanCertification(row)
	if err != nil {
		return nil, fmt.Errorf("find certification: %w", postgres.Translate(err))
	}
	return c, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.PilgrimCertification, error) {
	return s.query(ctx, `SELECT `+certColumns+` FROM pilgrim_certifications WHERE status = $1 ORDER BY updated_at`, string(status))
}

func (s *PostgresStore) ListRecommended(ctx context.Context) ([]*models.PilgrimCertification, error) {
	return s.query(ctx, `SELECT `+certColumns+` FROM pilgrim_certifications WHERE suspension_recommended ORDER BY recommended_at`)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.PilgrimCertification, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certifications: %w", postgres.Translate(err))
	}
	defer rows.Close()
	out := make([]*models.PilgrimCertification, 0)
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certification: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certifications: %w", postgres.Translate(err))
	}
	return out, nil
}

// Execute locks the row, runs validate and mutate, and writes the result
// back in the same transaction. It joins a transaction already on ctx.
func (s *PostgresStore) Execute(ctx context.Context, providerID id.ProviderID, validate func(*models.PilgrimCertification) error, mutate func(*models.PilgrimCertification)) (*models.PilgrimCertification, error) {
	var result *models.PilgrimCertification
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		row := s.execer(ctx).QueryRowContext(ctx,
			`SELECT `+certColumns+` FROM pilgrim_certifications WHERE provider_id = $1 FOR UPDATE`, uuid.UUID(providerID))
		c, err := scanCertification(row)
		if err != nil {
			return fmt.Errorf("lock certification: %w", postgres.Translate(err))
		}
		if err := validate(c); err != nil {
			return err
		}
		mutate(c)
		if err := s.update(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// update writes every mutable column. current_active_badal is excluded:
// only the capacity store's conditional statements change it.
func (s *PostgresStore) update(ctx context.Context, c *models.PilgrimCertification) error {
	violations, err := json.Marshal(nonNil(c.Violations))
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}
	query := `
		UPDATE pilgrim_certifications SET
			status = $2,
			government_id_ref = $3, government_id_verified = $4, photo_ref = $5, photo_verified = $6,
			has_own_umrah = $7, own_umrah_date = $8, has_own_hajj = $9, own_hajj_date = $10,
			video_oath_ref = $11, video_oath_verified = $12, video_oath_transcript = $13,
			scholar_approved = $14, scholar_id = $15, scholar_approval_date = $16, scholar_notes = $17,
			submitted_at = $18, verified_at = $19, suspended_at = $20, suspension_reason = $21,
			trust_score = $22, total_completed_rituals = $23, violation_count = $24,
			last_violation_date = $25, violations = $26,
			max_active_badal = $27,
			suspension_recommended = $28, recommendation_reason = $29, recommended_at = $30,
			version = $31, updated_at = $32
		WHERE provider_id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ProviderID), string(c.Status),
		c.GovernmentIDRef, c.GovernmentIDVerified, c.PhotoRef, c.PhotoVerified,
		c.HasOwnUmrah, postgres.NullTime(c.OwnUmrahDate), c.HasOwnHajj, postgres.NullTime(c.OwnHajjDate),
		c.VideoOathRef, c.VideoOathVerified, c.VideoOathTranscript,
		c.ScholarApproved, nullUserID(c.ScholarID), postgres.NullTime(c.ScholarApprovalDate), c.ScholarNotes,
		postgres.NullTime(c.SubmittedAt), postgres.NullTime(c.VerifiedAt), postgres.NullTime(c.SuspendedAt), c.SuspensionReason,
		c.TrustScore, c.TotalCompletedRituals, c.ViolationCount,
		postgres.NullTime(c.LastViolationDate), violations,
		c.MaxActiveBadal,
		c.SuspensionRecommended, c.RecommendationReason, postgres.NullTime(c.RecommendedAt),
		c.Version, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update certification: %w", postgres.Translate(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update certification: %w", sentinel.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCertification(row scanner) (*models.PilgrimCertification, error) {
	var (
		c                                                   models.PilgrimCertification
		certID, providerID                                  uuid.UUID
		status                                              string
		umrahDate, hajjDate, approvalDate                   sql.NullTime
		submittedAt, verifiedAt, suspendedAt, lastViolation sql.NullTime
		recommendedAt                                       sql.NullTime
		scholarID                                           uuid.NullUUID
		violations                                          []byte
	)
	err := row.Scan(
		&certID, &providerID, &status,
		&c.GovernmentIDRef, &c.GovernmentIDVerified, &c.PhotoRef, &c.PhotoVerified,
		&c.HasOwnUmrah, &umrahDate, &c.HasOwnHajj, &hajjDate,
		&c.VideoOathRef, &c.VideoOathVerified, &c.VideoOathTranscript,
		&c.ScholarApproved, &scholarID, &approvalDate, &c.ScholarNotes,
		&submittedAt, &verifiedAt, &suspendedAt, &c.SuspensionReason,
		&c.TrustScore, &c.TotalCompletedRituals, &c.ViolationCount, &lastViolation, &violations,
		&c.MaxActiveBadal, &c.CurrentActiveBadal,
		&c.SuspensionRecommended, &c.RecommendationReason, &recommendedAt,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.CertificationID(certID)
	c.ProviderID = id.ProviderID(providerID)
	c.Status = models.Status(status)
	c.OwnUmrahDate = postgres.TimePtr(umrahDate)
	c.OwnHajjDate = postgres.TimePtr(hajjDate)
	c.ScholarApprovalDate = postgres.TimePtr(approvalDate)
	c.SubmittedAt = postgres.TimePtr(submittedAt)
	c.VerifiedAt = postgres.TimePtr(verifiedAt)
	c.SuspendedAt = postgres.TimePtr(suspendedAt)
	c.LastViolationDate = postgres.TimePtr(lastViolation)
	c.RecommendedAt = postgres.TimePtr(recommendedAt)
	if scholarID.Valid {
		sid := id.UserID(scholarID.UUID)
		c.ScholarID = &sid
	}
	c.Violations = []trust.Violation{}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &c.Violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
	}
	return &c, nil
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func nonNil(vs []trust.Violation) []trust.Violation {
	if vs == nil {
		return []trust.Violation{}
	}
	return vs
}
