// Package service orchestrates verification requests: it stores submitted
// artifacts, moves records through pending, processing and a terminal status
// with compare-and-set writes, and fans terminal transitions out to the
// activity log and the security score aggregator.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vouch/internal/verification/anchor"
	"vouch/internal/verification/artifact"
	"vouch/internal/verification/lease"
	"vouch/internal/verification/models"
	"vouch/internal/verification/progress"
	"vouch/internal/verification/store"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// Config holds orchestration timings.
type Config struct {
	// TTL is how long a verified record stays valid.
	TTL time.Duration
	// StuckTimeout is how long a record may sit in processing before
	// ReconcileStuck rejects it.
	StuckTimeout time.Duration
	// ProcessingTimeout bounds one processor invocation.
	ProcessingTimeout time.Duration
	// LeaseTTL is the cross-replica run lease duration.
	LeaseTTL       time.Duration
	ReconcileBatch int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:               365 * 24 * time.Hour,
		StuckTimeout:      10 * time.Minute,
		ProcessingTimeout: 2 * time.Minute,
		LeaseTTL:          5 * time.Minute,
		ReconcileBatch:    100,
	}
}

// Service is the verification orchestrator.
type Service struct {
	store      Store
	artifacts  ArtifactStore
	processors ProcessorRegistry
	anchorer   Anchorer
	progress   ProgressTracker
	lease      Lease
	activity   ActivityLog
	scores     ScoreAggregator
	dispatcher Dispatcher

	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	background sync.WaitGroup
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAnchorer(a Anchorer) Option {
	return func(s *Service) {
		if a != nil {
			s.anchorer = a
		}
	}
}

func WithProgressTracker(t ProgressTracker) Option {
	return func(s *Service) {
		if t != nil {
			s.progress = t
		}
	}
}

func WithLease(l Lease) Option {
	return func(s *Service) {
		if l != nil {
			s.lease = l
		}
	}
}

func WithActivityLog(a ActivityLog) Option {
	return func(s *Service) {
		s.activity = a
	}
}

func WithScoreAggregator(a ScoreAggregator) Option {
	return func(s *Service) {
		s.scores = a
	}
}

// WithDispatcher routes side effects through d. Without one, each side effect
// runs once on its own goroutine with no retry.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func New(st Store, artifacts ArtifactStore, processors ProcessorRegistry, opts ...Option) *Service {
	s := &Service{
		store:      st,
		artifacts:  artifacts,
		processors: processors,
		anchorer:   anchor.Keccak{},
		progress:   progress.NewMemoryTracker(progress.DefaultTTL),
		lease:      lease.Noop{},
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until background runs started by RunAsync finish.
func (s *Service) Wait() {
	s.background.Wait()
}

// SubmitRequest is one uploaded artifact with its declared kind.
type SubmitRequest struct {
	Kind        models.Kind
	FileName    string
	ContentType string
	Data        []byte
}

// Submit stores the artifact and creates a pending record owned by the
// authenticated subject. No record is created when the artifact is refused.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Verification, error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Kind.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.artifacts.Put(ctx, artifact.Upload{
		Data:         req.Data,
		DeclaredType: req.ContentType,
		FileName:     req.FileName,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "artifact rejected",
			"subject_id", subject.String(),
			"kind", req.Kind.String(),
			"size_bytes", len(req.Data),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, storageMessage(err))
	}

	now := s.now().UTC()
	v := &models.Verification{
		ID:            id.NewVerificationID(),
		SubjectID:     subject,
		Kind:          req.Kind,
		ArtifactRef:   stored.Ref,
		FileName:      cleanFileName(req.FileName),
		ContentType:   stored.ContentType,
		SizeBytes:     stored.SizeBytes,
		SubmittedFrom: requestcontext.DeviceInfo(ctx).Label(),
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to create verification record",
			"verification_id", v.ID.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification request")
	}

	s.metrics.incSubmitted(v.Kind.Name)
	s.logger.InfoContext(ctx, "verification submitted",
		"request_id", requestcontext.RequestID(ctx),
		"verification_id", v.ID.String(),
		"subject_id", subject.String(),
		"kind", v.Kind.String(),
		"submitted_from", v.SubmittedFrom,
	)
	return v, nil
}

// GetStatus returns the subject's record. Records of other subjects are
// reported as not found.
func (s *Service) GetStatus(ctx context.Context, vid id.VerificationID) (*models.Verification, error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.owned(ctx, subject, vid)
}

// List returns the subject's records newest first.
func (s *Service) List(ctx context.Context, f models.Filter) ([]*models.Verification, error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return nil, err
	}
	if f.Kind != "" {
		switch f.Kind {
		case models.KindDocument, models.KindBiometric, models.KindBusiness:
		default:
			return nil, dErrors.New(dErrors.CodeValidation, "kind must be one of document, biometric, business")
		}
	}
	if f.Status != "" {
		if _, err := models.ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	records, err := s.store.ListBySubject(ctx, subject, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verification requests")
	}
	return records, nil
}

// Summary counts the subject's records per status.
type Summary struct {
	Total    int
	ByStatus map[models.Status]int
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return Summary{}, err
	}
	counts, err := s.store.CountByStatus(ctx, subject)
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count verification requests")
	}
	out := Summary{ByStatus: make(map[models.Status]int, len(models.AllStatuses))}
	for _, st := range models.AllStatuses {
		out.ByStatus[st] = counts[st]
		out.Total += counts[st]
	}
	return out, nil
}

// Progress reports advisory progress. Pending records report 0 and terminal
// records 100; in between the tracker's latest stage is used.
func (s *Service) Progress(ctx context.Context, vid id.VerificationID) (progress.Progress, error) {
	subject, err := subjectFrom(ctx)
	if err != nil {
		return progress.Progress{}, err
	}
	v, err := s.owned(ctx, subject, vid)
	if err != nil {
		return progress.Progress{}, err
	}
	switch {
	case v.Status == models.StatusPending:
		return progress.Progress{Percent: 0, Stage: stageQueued, UpdatedAt: v.UpdatedAt}, nil
	case v.Status.IsTerminal():
		return progress.Progress{Percent: 100, Stage: string(v.Status), UpdatedAt: v.UpdatedAt}, nil
	}
	p, err := s.progress.Get(ctx, vid)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "progress lookup failed", "verification_id", vid.String(), "error", err)
		}
		started := v.UpdatedAt
		if v.ProcessingStartedAt != nil {
			started = *v.ProcessingStartedAt
		}
		return progress.Progress{Percent: 0, Stage: stageStarted, UpdatedAt: started}, nil
	}
	return p, nil
}

const (
	stageQueued  = "queued"
	stageStarted = "started"
)

func (s *Service) owned(ctx context.Context, subject id.SubjectID, vid id.VerificationID) (*models.Verification, error) {
	v, err := s.store.Get(ctx, vid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	if v.SubjectID != subject {
		return nil, dErrors.New(dErrors.CodeNotFound, "verification request not found")
	}
	return v, nil
}

func subjectFrom(ctx context.Context) (id.SubjectID, error) {
	subject := requestcontext.SubjectID(ctx)
	if subject.IsNil() {
		return id.SubjectID{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return subject, nil
}

func storageMessage(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrTooLarge):
		return "artifact exceeds the maximum size"
	case errors.Is(err, sentinel.ErrUnsupported):
		return "artifact type is not accepted"
	}
	return "failed to store artifact"
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

func conflictStatus(err error) (models.Status, bool) {
	var conflict *store.StatusConflictError
	if errors.As(err, &conflict) {
		return conflict.Actual, true
	}
	return "", false
}
