package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

const columns = `
	id, subject_id, kind, document_type, biometric_type, business_type,
	artifact_ref, file_name, content_type, size_bytes, submitted_from,
	status, confidence_score, liveness_score, extracted_data, anchor_hash, metadata,
	created_at, processing_started_at, verified_at, expires_at, updated_at`

// PostgresStore persists verifications in the verification_requests table.
// Transitions are single conditional UPDATEs; RowsAffected (via RETURNING)
// decides who won.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, v *models.Verification) error {
	extracted, err := marshalNullable(v.ExtractedData, len(v.ExtractedData) == 0)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}
	meta, err := marshalNullable(v.Metadata, v.Metadata == nil)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO verification_requests (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(v.ID),
		uuid.UUID(v.SubjectID),
		string(v.Kind.Name),
		nullString(string(v.Kind.DocumentType)),
		nullString(string(v.Kind.BiometricType)),
		nullString(v.Kind.BusinessType),
		v.ArtifactRef,
		v.FileName,
		v.ContentType,
		v.SizeBytes,
		v.SubmittedFrom,
		string(v.Status),
		v.ConfidenceScore,
		v.LivenessScore,
		extracted,
		nullString(v.AnchorHash),
		meta,
		v.CreatedAt,
		v.ProcessingStartedAt,
		v.VerifiedAt,
		v.ExpiresAt,
		v.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("verification %s: %w", v.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM verification_requests WHERE id = $1`, uuid.UUID(vid))
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification %s: %w", vid, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject id.SubjectID, f models.Filter) ([]*models.Verification, error) {
	query := `
		SELECT ` + columns + `
		FROM verification_requests
		WHERE subject_id = $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subject), string(f.Kind), string(f.Status), clampLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	return scanAll(rows)
}

func (s *PostgresStore) ListTerminalBySubject(ctx context.Context, subject id.SubjectID) ([]*models.Verification, error) {
	terminal := []string{
		string(models.StatusVerified),
		string(models.StatusRejected),
		string(models.StatusExpired),
	}
	query := `
		SELECT ` + columns + `
		FROM verification_requests
		WHERE subject_id = $1 AND status = ANY($2::text[])
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subject), pq.Array(terminal))
	if err != nil {
		return nil, fmt.Errorf("list terminal verifications: %w", err)
	}
	return scanAll(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, subject id.SubjectID) (map[models.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM verification_requests WHERE subject_id = $1 GROUP BY status`,
		uuid.UUID(subject),
	)
	if err != nil {
		return nil, fmt.Errorf("count verifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, vid id.VerificationID, at time.Time) (*models.Verification, error) {
	query := `
		UPDATE verification_requests
		SET status = 'processing', processing_started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + columns
	v, err := scanVerification(s.db.QueryRowContext(ctx, query, uuid.UUID(vid), at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, vid, models.StatusPending)
		}
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Complete(ctx context.Context, vid id.VerificationID, outcome models.Outcome) (*models.Verification, error) {
	if !models.StatusProcessing.CanTransitionTo(outcome.Status) {
		return nil, fmt.Errorf("complete with status %s: %w", outcome.Status, sentinel.ErrInvalidState)
	}
	extracted, err := marshalNullable(outcome.ExtractedData, len(outcome.ExtractedData) == 0)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted data: %w", err)
	}
	meta, err := marshalNullable(outcome.Metadata, outcome.Metadata == nil)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		UPDATE verification_requests
		SET status = $2,
		    confidence_score = $3,
		    liveness_score = $4,
		    extracted_data = $5,
		    anchor_hash = $6,
		    metadata = $7,
		    verified_at = $8,
		    expires_at = $9,
		    updated_at = $10
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + columns
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(vid),
		string(outcome.Status),
		outcome.ConfidenceScore,
		outcome.LivenessScore,
		extracted,
		nullString(outcome.AnchorHash),
		meta,
		outcome.VerifiedAt,
		outcome.ExpiresAt,
		outcome.At,
	)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, vid, models.StatusProcessing)
		}
		return nil, fmt.Errorf("complete verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Verification, error) {
	query := `
		UPDATE verification_requests
		SET status = 'expired',
			updated_at = $1,
			metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_strip_nulls(jsonb_build_object(
				'verified_at', verified_at,
				'confidence_at_expiry', confidence_score
			)),
			verified_at = NULL,
			confidence_score = NULL
		WHERE status = 'verified' AND expires_at <= $1
		RETURNING ` + columns
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire verifications: %w", err)
	}
	return scanAll(rows)
}

func (s *PostgresStore) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Verification, error) {
	if limit <= 0 {
		limit = MaxListLimit
	}
	query := `
		SELECT ` + columns + `
		FROM verification_requests
		WHERE status = 'processing' AND processing_started_at <= $1
		ORDER BY processing_started_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck verifications: %w", err)
	}
	return scanAll(rows)
}

// classifyMiss explains why a conditional UPDATE touched no rows.
func (s *PostgresStore) classifyMiss(ctx context.Context, vid id.VerificationID, expected models.Status) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM verification_requests WHERE id = $1`, uuid.UUID(vid)).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("verification %s: %w", vid, sentinel.ErrNotFound)
		}
		return fmt.Errorf("read verification status: %w", err)
	}
	return &StatusConflictError{ID: vid, Expected: expected, Actual: models.Status(status)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAll(rows *sql.Rows) ([]*models.Verification, error) {
	defer rows.Close()
	var out []*models.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

func scanVerification(row rowScanner) (*models.Verification, error) {
	var (
		vid, subject                     uuid.UUID
		kind, status                     string
		docType, bioType, bizType        sql.NullString
		anchor                           sql.NullString
		confidence, liveness             sql.NullFloat64
		extracted, meta                  []byte
		processingStarted, verified, exp sql.NullTime
		v                                models.Verification
	)
	err := row.Scan(
		&vid, &subject, &kind, &docType, &bioType, &bizType,
		&v.ArtifactRef, &v.FileName, &v.ContentType, &v.SizeBytes, &v.SubmittedFrom,
		&status, &confidence, &liveness, &extracted, &anchor, &meta,
		&v.CreatedAt, &processingStarted, &verified, &exp, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.ID = id.VerificationID(vid)
	v.SubjectID = id.SubjectID(subject)
	v.Kind = models.Kind{
		Name:          models.KindName(kind),
		DocumentType:  models.DocumentType(docType.String),
		BiometricType: models.BiometricType(bioType.String),
		BusinessType:  bizType.String,
	}
	v.Status = models.Status(status)
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	v.AnchorHash = anchor.String
	v.ConfidenceScore = floatPtr(confidence)
	v.LivenessScore = floatPtr(liveness)
	v.ProcessingStartedAt = timePtr(processingStarted)
	v.VerifiedAt = timePtr(verified)
	v.ExpiresAt = timePtr(exp)

	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &v.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
	}
	if len(meta) > 0 {
		v.Metadata = &models.Metadata{}
		if err := json.Unmarshal(meta, v.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &v, nil
}

func marshalNullable(v any, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
