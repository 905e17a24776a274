package securityscore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// PostgresStore persists scores in the security_scores table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const scoreColumns = `id, subject_id, document_score, biometric_score, business_score, overall_score, breakdown, calculated_at`

func (s *PostgresStore) Append(ctx context.Context, score Score) error {
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal score breakdown: %w", err)
	}
	query := `
		INSERT INTO security_scores (` + scoreColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(score.ID),
		uuid.UUID(score.SubjectID),
		score.DocumentScore,
		score.BiometricScore,
		score.BusinessScore,
		score.OverallScore,
		breakdown,
		score.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert security score: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, subject id.SubjectID) (Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM security_scores
		WHERE subject_id = $1
		ORDER BY calculated_at DESC, id DESC
		LIMIT 1`
	score, err := scanScore(s.db.QueryRowContext(ctx, query, uuid.UUID(subject)))
	if errors.Is(err, sql.ErrNoRows) {
		return Score{}, fmt.Errorf("security score for %s: %w", subject, sentinel.ErrNotFound)
	}
	return score, err
}

func (s *PostgresStore) History(ctx context.Context, subject id.SubjectID, limit int) ([]Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM security_scores
		WHERE subject_id = $1
		ORDER BY calculated_at DESC, id DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subject), limit)
	if err != nil {
		return nil, fmt.Errorf("query security scores: %w", err)
	}
	defer rows.Close()

	var scores []Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security scores: %w", err)
	}
	return scores, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (Score, error) {
	var (
		scoreID, subjectID uuid.UUID
		breakdown          []byte
		s                  Score
	)
	err := row.Scan(&scoreID, &subjectID, &s.DocumentScore, &s.BiometricScore, &s.BusinessScore,
		&s.OverallScore, &breakdown, &s.CalculatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Score{}, err
		}
		return Score{}, fmt.Errorf("scan security score: %w", err)
	}
	s.ID = id.ScoreID(scoreID)
	s.SubjectID = id.SubjectID(subjectID)
	s.CalculatedAt = s.CalculatedAt.UTC()
	if err := json.Unmarshal(breakdown, &s.Breakdown); err != nil {
		return Score{}, fmt.Errorf("unmarshal score breakdown: %w", err)
	}
	return s, nil
}
