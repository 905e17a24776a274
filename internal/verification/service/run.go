package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vouch/internal/verification/lease"
	"vouch/internal/verification/models"
	"vouch/internal/verification/processor"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

var tracer = otel.Tracer("vouch/internal/verification/service")

// Run processes a pending request to a terminal status and returns the final
// record. Only one caller wins the pending to processing transition; the rest
// get CodeAlreadyProcessing, or CodeInvalidState once the record is terminal.
// Processing continues if ctx is cancelled.
func (s *Service) Run(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	v, release, err := s.begin(ctx, vid)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.execute(context.WithoutCancel(ctx), v)
}

// RunAsync claims the request like Run, then processes it in the background.
// The returned record is in processing.
func (s *Service) RunAsync(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	v, release, err := s.begin(ctx, vid)
	if err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer release()
		if _, err := s.execute(detached, v.Clone()); err != nil {
			s.logger.ErrorContext(detached, "background verification run failed",
				"verification_id", vid.String(),
				"error", err,
			)
		}
	}()
	return v, nil
}

// begin checks ownership, takes the run lease and performs the
// pending to processing compare-and-set.
func (s *Service) begin(ctx context.Context, vid id.VerificationID) (*models.Verification, func(), error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.owned(ctx, subject, vid)
	if err != nil {
		return nil, nil, err
	}
	if current.Status != models.StatusPending {
		return nil, nil, notRunnable(current.Status)
	}

	releaseLease := func() {}
	rel, err := s.lease.Acquire(ctx, "verification:"+vid.String(), s.cfg.LeaseTTL)
	switch {
	case errors.Is(err, lease.ErrHeld):
		return nil, nil, notRunnable(models.StatusProcessing)
	case err != nil:
		// the status compare-and-set below still guarantees a single winner
		s.logger.WarnContext(ctx, "run lease unavailable", "verification_id", vid.String(), "error", err)
	default:
		releaseLease = func() {
			if err := rel(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "run lease release failed", "verification_id", vid.String(), "error", err)
			}
		}
	}

	v, err := s.store.MarkProcessing(ctx, vid, s.now().UTC())
	if err != nil {
		releaseLease()
		if actual, ok := conflictStatus(err); ok {
			return nil, nil, notRunnable(actual)
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start verification")
	}
	s.metrics.incInFlight()
	return v, func() {
		s.metrics.decInFlight()
		releaseLease()
	}, nil
}

func notRunnable(status models.Status) error {
	if status == models.StatusProcessing {
		return dErrors.New(dErrors.CodeAlreadyProcessing, "verification is already processing")
	}
	return dErrors.New(dErrors.CodeInvalidState, "verification is already "+string(status))
}

// execute runs the processor and writes the terminal state. ctx must already
// be detached from the caller.
func (s *Service) execute(ctx context.Context, v *models.Verification) (final *models.Verification, err error) {
	ctx, span := tracer.Start(ctx, "verification.run", trace.WithAttributes(
		attribute.String("verification.id", v.ID.String()),
		attribute.String("verification.kind", v.Kind.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if final != nil {
			span.SetAttributes(attribute.String("verification.status", string(final.Status)))
		}
		span.End()
	}()

	start := s.now()
	result, procErr := s.process(ctx, v)
	outcome := s.outcome(ctx, v, result, procErr, start)

	final, err = s.store.Complete(ctx, v.ID, outcome)
	if err != nil {
		if actual, ok := conflictStatus(err); ok {
			s.logger.WarnContext(ctx, "verification moved during processing",
				"verification_id", v.ID.String(),
				"status", string(actual),
			)
			return nil, dErrors.New(dErrors.CodeInvalidState, "verification is already "+string(actual))
		}
		s.logger.ErrorContext(ctx, "failed to persist verification outcome",
			"verification_id", v.ID.String(),
			"subject_id", v.SubjectID.String(),
			"status", string(outcome.Status),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist verification outcome")
	}

	s.reportProgress(ctx, v.ID, string(final.Status), 100)
	s.metrics.observeRun(final.Kind.Name, final.Status, s.now().Sub(start))
	s.logger.InfoContext(ctx, "verification completed",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", final.ID.String(),
		"subject_id", final.SubjectID.String(),
		"status", string(final.Status),
		"confidence_score", *final.ConfidenceScore,
	)
	s.afterTerminal(ctx, final, verificationEvent(final))
	return final, nil
}

func (s *Service) process(ctx context.Context, v *models.Verification) (processor.Result, error) {
	if s.cfg.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
		defer cancel()
	}
	proc, err := s.processors.For(v.Kind)
	if err != nil {
		return processor.Result{}, processor.NewProcessingError(processor.ErrorInternal, "", "no processor for kind", err)
	}
	return proc.Process(ctx, processor.Input{
		ArtifactRef: v.ArtifactRef,
		Kind:        v.Kind,
		Progress: func(stage string, percent int) {
			s.reportProgress(ctx, v.ID, stage, percent)
		},
	})
}

// outcome applies the terminal policy: a pass is verified and anchored,
// anything else is rejected. Processing failures reject with zero confidence
// and the error in metadata.
func (s *Service) outcome(ctx context.Context, v *models.Verification, res processor.Result, procErr error, start time.Time) models.Outcome {
	now := s.now().UTC()
	duration := now.Sub(start.UTC()).Milliseconds()

	if procErr != nil {
		s.logger.WarnContext(ctx, "verification processing failed",
			"verification_id", v.ID.String(),
			"category", string(processor.CategoryOf(procErr)),
			"error", procErr,
		)
		return models.Outcome{
			Status:          models.StatusRejected,
			ConfidenceScore: 0,
			Metadata: &models.Metadata{
				Error:         procErr.Error(),
				ErrorCategory: string(processor.CategoryOf(procErr)),
				DurationMS:    duration,
			},
			At: now,
		}
	}

	meta := &models.Metadata{
		ModelVersion: res.ModelVersion,
		Threshold:    res.Threshold,
		Stages:       res.Stages,
		Details:      res.Details,
		DurationMS:   duration,
	}
	out := models.Outcome{
		Status:          models.StatusRejected,
		ConfidenceScore: res.ConfidenceScore,
		LivenessScore:   res.LivenessScore,
		ExtractedData:   res.ExtractedData,
		Metadata:        meta,
		At:              now,
	}
	if v.Kind.Name != models.KindBiometric {
		out.LivenessScore = nil
	}
	if !res.Passed {
		return out
	}

	hash, err := s.anchorer.Anchor(ctx, v, res.ConfidenceScore)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger anchoring failed", "verification_id", v.ID.String(), "error", err)
		meta.Error = "anchoring failed: " + err.Error()
		meta.ErrorCategory = string(processor.ErrorInternal)
		return out
	}
	expires := now.Add(s.cfg.TTL)
	out.Status = models.StatusVerified
	out.AnchorHash = hash
	out.VerifiedAt = &now
	out.ExpiresAt = &expires
	return out
}

func (s *Service) reportProgress(ctx context.Context, vid id.VerificationID, stage string, percent int) {
	if err := s.progress.Report(ctx, vid, stage, percent, s.now().UTC()); err != nil {
		s.logger.DebugContext(ctx, "progress report dropped", "verification_id", vid.String(), "error", err)
	}
}
