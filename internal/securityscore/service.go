package securityscore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
)

var tracer = otel.Tracer("vouch/internal/securityscore")

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// RecordSource lists the records a score is computed from.
type RecordSource interface {
	ListTerminalBySubject(ctx context.Context, subject id.SubjectID) ([]*models.Verification, error)
}

// Store persists scores append-only.
type Store interface {
	Append(ctx context.Context, score Score) error
	Latest(ctx context.Context, subject id.SubjectID) (Score, error)
	History(ctx context.Context, subject id.SubjectID, limit int) ([]Score, error)
}

// Service recomputes and serves security scores.
type Service struct {
	records RecordSource
	store   Store
	weights Weights
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
	flights *flights
}

type Option func(*Service)

func WithWeights(w Weights) Option {
	return func(s *Service) {
		s.weights = w
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the clock that stamps calculated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(records RecordSource, store Store, opts ...Option) *Service {
	s := &Service{
		records: records,
		store:   store,
		weights: DefaultWeights(),
		logger:  slog.Default(),
		now:     time.Now,
		flights: newFlights(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recompute computes and appends a new score for subject. Calls for the same
// subject run one at a time, and each returns a score computed from records read
// after the call began. A caller that waited while another computation started
// and finished on its behalf shares that result.
func (s *Service) Recompute(ctx context.Context, subject id.SubjectID) (Score, error) {
	if subject.IsNil() {
		return Score{}, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	f, gen := s.flights.join(subject)
	defer s.flights.leave(subject, f)

	if err := f.acquire(ctx); err != nil {
		return Score{}, dErrors.Wrap(err, dErrors.CodeTimeout, "security score recompute abandoned")
	}
	defer f.release()

	score, upTo, ok := s.flights.covered(f, gen)
	if ok {
		s.metrics.incCoalesced()
		return score, nil
	}
	score, err := s.recompute(ctx, subject)
	if err != nil {
		return Score{}, err
	}
	s.flights.complete(f, upTo, score)
	return score, nil
}

func (s *Service) recompute(ctx context.Context, subject id.SubjectID) (Score, error) {
	ctx, span := tracer.Start(ctx, "securityscore.recompute")
	defer span.End()
	start := time.Now()

	records, err := s.records.ListTerminalBySubject(ctx, subject)
	if err != nil {
		span.RecordError(err)
		return Score{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read verification records")
	}

	score := Compute(subject, records, s.weights, s.now())
	score.ID = id.NewScoreID()
	if err := s.store.Append(ctx, score); err != nil {
		span.RecordError(err)
		return Score{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store security score")
	}

	span.SetAttributes(attribute.Float64("score.overall", score.OverallScore))
	s.metrics.observeRecompute(time.Since(start))
	s.logger.InfoContext(ctx, "security score recomputed",
		"subject_id", subject.String(),
		"overall_score", score.OverallScore,
		"records", len(records),
	)
	return score, nil
}

// Latest returns the authoritative score for subject.
func (s *Service) Latest(ctx context.Context, subject id.SubjectID) (Score, error) {
	score, err := s.store.Latest(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Score{}, dErrors.New(dErrors.CodeNotFound, "no security score yet")
		}
		return Score{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read security score")
	}
	return score, nil
}

// History returns up to limit scores, newest first.
func (s *Service) History(ctx context.Context, subject id.SubjectID, limit int) ([]Score, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	scores, err := s.store.History(ctx, subject, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read security score history")
	}
	return scores, nil
}
