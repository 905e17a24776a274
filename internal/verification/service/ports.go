package service

import (
	"context"
	"time"

	"vouch/internal/activity"
	"vouch/internal/securityscore"
	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
)

// Store persists verification records. Status changes are compare-and-set:
// MarkProcessing requires pending, Complete requires processing.
type Store interface {
	Create(ctx context.Context, v *models.Verification) error
	Get(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	ListBySubject(ctx context.Context, subject id.SubjectID, f models.Filter) ([]*models.Verification, error)
	CountByStatus(ctx context.Context, subject id.SubjectID) (map[models.Status]int, error)
	MarkProcessing(ctx context.Context, vid id.VerificationID, at time.Time) (*models.Verification, error)
	Complete(ctx context.Context, vid id.VerificationID, outcome models.Outcome) (*models.Verification, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Verification, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Verification, error)
}

// ActivityLog records user-visible activity.
type ActivityLog interface {
	Append(ctx context.Context, event activity.Event) error
}

// ScoreAggregator recomputes a subject's security score.
type ScoreAggregator interface {
	Recompute(ctx context.Context, subject id.SubjectID) (securityscore.Score, error)
}
