package service

import (
	"context"
	"strings"

	"vouch/internal/activity"
	"vouch/internal/platform/dispatch"
	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
)

// verificationEvent describes a processing outcome,
// e.g. "Document verification verified for Passport".
func verificationEvent(v *models.Verification) activity.Event {
	family := string(v.Kind.Name)
	return activity.Event{
		ID:          id.NewEventID(),
		SubjectID:   v.SubjectID,
		Type:        family + "_verification",
		Description: strings.ToUpper(family[:1]) + family[1:] + " verification " + string(v.Status) + " for " + v.Kind.Label(),
		Metadata:    eventMetadata(v),
		CreatedAt:   v.UpdatedAt,
	}
}

func expiredEvent(v *models.Verification) activity.Event {
	return activity.Event{
		ID:          id.NewEventID(),
		SubjectID:   v.SubjectID,
		Type:        activity.TypeVerificationExpired,
		Description: v.Kind.Label() + " verification expired",
		Metadata:    eventMetadata(v),
		CreatedAt:   v.UpdatedAt,
	}
}

func eventMetadata(v *models.Verification) map[string]any {
	meta := map[string]any{
		"verification_id": v.ID.String(),
		"kind":            string(v.Kind.Name),
		"type":            v.Kind.Subtype(),
		"status":          string(v.Status),
	}
	if v.ConfidenceScore != nil {
		meta["confidence_score"] = *v.ConfidenceScore
	}
	if v.SubmittedFrom != "" {
		meta["submitted_from"] = v.SubmittedFrom
	}
	if v.Metadata != nil {
		if v.Metadata.ModelVersion != "" {
			meta["model_version"] = v.Metadata.ModelVersion
		}
		if v.Metadata.Error != "" {
			meta["error"] = v.Metadata.Error
		}
	}
	return meta
}

// afterTerminal appends the activity event and recomputes the subject's score
// in the background. The event ID is fixed before dispatch so a retried
// append cannot duplicate it. Failures never roll back the terminal state.
func (s *Service) afterTerminal(ctx context.Context, v *models.Verification, event activity.Event) {
	subject := v.SubjectID
	if s.activity != nil {
		s.dispatch(ctx, v, dispatch.Task{Name: "activity_append", Run: func(ctx context.Context) error {
			err := s.activity.Append(ctx, event)
			if dErrors.HasCode(err, dErrors.CodeValidation) {
				return dispatch.Permanent(err)
			}
			return err
		}})
	}
	if s.scores != nil {
		s.dispatch(ctx, v, dispatch.Task{Name: "score_recompute", Run: func(ctx context.Context) error {
			_, err := s.scores.Recompute(ctx, subject)
			return err
		}})
	}
}

func (s *Service) dispatch(ctx context.Context, v *models.Verification, task dispatch.Task) {
	ctx = context.WithoutCancel(ctx)
	if s.dispatcher == nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if err := task.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "side effect failed",
					"task", task.Name,
					"verification_id", v.ID.String(),
					"error", err,
				)
			}
		}()
		return
	}
	if err := s.dispatcher.Submit(ctx, task); err != nil {
		s.logger.ErrorContext(ctx, "failed to dispatch side effect",
			"task", task.Name,
			"verification_id", v.ID.String(),
			"error", err,
		)
	}
}
