package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vouch/internal/verification/models"
	"vouch/internal/verification/processor"
	dErrors "vouch/pkg/domain-errors"
)

// reconcileError is recorded on records rejected by ReconcileStuck.
const reconcileError = "processing timed out"

// ExpireSweep moves verified records whose expiry has passed to expired and
// returns how many moved. Re-running with the same now moves nothing and
// emits nothing.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ExpireDue(ctx, now.UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire verifications")
	}
	for _, v := range expired {
		s.afterTerminal(ctx, v, expiredEvent(v))
	}
	s.metrics.addExpired(len(expired))
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "verifications expired", "count", len(expired))
	}
	return len(expired), nil
}

// ReconcileStuck rejects records that have been processing longer than the
// stuck timeout, such as runs interrupted by a crash or a failed terminal
// write. Records that finish while the sweep runs are skipped.
func (s *Service) ReconcileStuck(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	stuck, err := s.store.ListStuck(ctx, now.Add(-s.cfg.StuckTimeout), s.cfg.ReconcileBatch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stuck verifications")
	}

	var (
		moved int
		errs  []error
	)
	for _, v := range stuck {
		final, err := s.store.Complete(ctx, v.ID, models.Outcome{
			Status:          models.StatusRejected,
			ConfidenceScore: 0,
			Metadata: &models.Metadata{
				Error:         reconcileError,
				ErrorCategory: string(processor.ErrorTimeout),
			},
			At: now,
		})
		if err != nil {
			if _, ok := conflictStatus(err); ok {
				continue
			}
			errs = append(errs, fmt.Errorf("reconcile %s: %w", v.ID, err))
			continue
		}
		moved++
		s.logger.WarnContext(ctx, "stuck verification rejected",
			"verification_id", final.ID.String(),
			"subject_id", final.SubjectID.String(),
		)
		s.afterTerminal(ctx, final, verificationEvent(final))
	}
	s.metrics.addReconciled(moved)
	if len(errs) > 0 {
		return moved, dErrors.Wrap(errors.Join(errs...), dErrors.CodePersistence, "failed to reconcile some verifications")
	}
	return moved, nil
}
