package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vouch/internal/verification/models"
	"vouch/internal/verification/store"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Store is the behaviour shared by the memory and Postgres implementations.
type Store interface {
	Create(ctx context.Context, v *models.Verification) error
	Get(ctx context.Context, vid id.VerificationID) (*models.Verification, error)
	ListBySubject(ctx context.Context, subject id.SubjectID, f models.Filter) ([]*models.Verification, error)
	ListTerminalBySubject(ctx context.Context, subject id.SubjectID) ([]*models.Verification, error)
	CountByStatus(ctx context.Context, subject id.SubjectID) (map[models.Status]int, error)
	MarkProcessing(ctx context.Context, vid id.VerificationID, at time.Time) (*models.Verification, error)
	Complete(ctx context.Context, vid id.VerificationID, outcome models.Outcome) (*models.Verification, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Verification, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Verification, error)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ContractSuite is embedded by each implementation's suite, which sets
// newStore (and resets state in SetupTest).
type ContractSuite struct {
	suite.Suite
	store Store
}

func newPending(subject id.SubjectID, createdAt time.Time, kind models.Kind) *models.Verification {
	return &models.Verification{
		ID:          id.NewVerificationID(),
		SubjectID:   subject,
		Kind:        kind,
		ArtifactRef: "artifact://sha256/" + uuid.NewString(),
		FileName:    "scan.pdf",
		ContentType: "application/pdf",
		SizeBytes:   42,
		Status:      models.StatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func verifiedOutcome(at time.Time, ttl time.Duration) models.Outcome {
	exp := at.Add(ttl)
	return models.Outcome{
		Status:          models.StatusVerified,
		ConfidenceScore: 0.93,
		ExtractedData:   map[string]string{"document_number": "X123"},
		AnchorHash:      "0x" + "ab",
		Metadata: &models.Metadata{
			ModelVersion: "v1.0.0",
			Details:      &models.DocumentDetails{DocumentType: models.DocumentPassport, FieldsExtracted: 1},
		},
		VerifiedAt: &at,
		ExpiresAt:  &exp,
		At:         at,
	}
}

func (s *ContractSuite) subject() id.SubjectID {
	return id.SubjectID(uuid.New())
}

func (s *ContractSuite) createProcessing(subject id.SubjectID, startedAt time.Time) *models.Verification {
	ctx := context.Background()
	v := newPending(subject, startedAt, models.DocumentKind(models.DocumentPassport))
	s.Require().NoError(s.store.Create(ctx, v))
	_, err := s.store.MarkProcessing(ctx, v.ID, startedAt)
	s.Require().NoError(err)
	return v
}

func (s *ContractSuite) TestCreateAndGet() {
	ctx := context.Background()
	v := newPending(s.subject(), t0, models.BiometricKind(models.BiometricFace))
	s.Require().NoError(s.store.Create(ctx, v))

	got, err := s.store.Get(ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(v.ID, got.ID)
	s.Equal(v.Kind, got.Kind)
	s.Equal(models.StatusPending, got.Status)
	s.Nil(got.ConfidenceScore)
	s.True(v.CreatedAt.Equal(got.CreatedAt))

	s.ErrorIs(s.store.Create(ctx, v), sentinel.ErrConflict)
}

func (s *ContractSuite) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), id.NewVerificationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ContractSuite) TestMarkProcessingIsCompareAndSet() {
	ctx := context.Background()
	v := newPending(s.subject(), t0, models.DocumentKind(models.DocumentPassport))
	s.Require().NoError(s.store.Create(ctx, v))

	got, err := s.store.MarkProcessing(ctx, v.ID, t0.Add(time.Second))
	s.Require().NoError(err)
	s.Equal(models.StatusProcessing, got.Status)
	s.Require().NotNil(got.ProcessingStartedAt)

	_, err = s.store.MarkProcessing(ctx, v.ID, t0.Add(2*time.Second))
	var conflict *store.StatusConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal(models.StatusProcessing, conflict.Actual)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.MarkProcessing(ctx, id.NewVerificationID(), t0)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ContractSuite) TestConcurrentMarkProcessingHasOneWinner() {
	ctx := context.Background()
	v := newPending(s.subject(), t0, models.DocumentKind(models.DocumentPassport))
	s.Require().NoError(s.store.Create(ctx, v))

	const goroutines = 20
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.MarkProcessing(ctx, v.ID, t0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrInvalidState):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *ContractSuite) TestCompleteRequiresProcessing() {
	ctx := context.Background()
	v := newPending(s.subject(), t0, models.DocumentKind(models.DocumentPassport))
	s.Require().NoError(s.store.Create(ctx, v))

	_, err := s.store.Complete(ctx, v.ID, verifiedOutcome(t0, time.Hour))
	var conflict *store.StatusConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal(models.StatusPending, conflict.Actual)

	_, err = s.store.MarkProcessing(ctx, v.ID, t0)
	s.Require().NoError(err)

	done, err := s.store.Complete(ctx, v.ID, verifiedOutcome(t0.Add(time.Minute), time.Hour))
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, done.Status)
	s.Require().NotNil(done.ConfidenceScore)
	s.InDelta(0.93, *done.ConfidenceScore, 1e-9)
	s.Equal("X123", done.ExtractedData["document_number"])
	s.Require().NotNil(done.Metadata)
	s.Equal(&models.DocumentDetails{DocumentType: models.DocumentPassport, FieldsExtracted: 1}, done.Metadata.Details)
	s.NoError(done.CheckInvariants())

	_, err = s.store.Complete(ctx, v.ID, verifiedOutcome(t0.Add(2*time.Minute), time.Hour))
	s.Require().True(errors.As(err, &conflict))
	s.Equal(models.StatusVerified, conflict.Actual)
}

func (s *ContractSuite) TestCompleteRejectsNonTerminalOutcome() {
	v := s.createProcessing(s.subject(), t0)
	_, err := s.store.Complete(context.Background(), v.ID, models.Outcome{Status: models.StatusExpired, At: t0})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *ContractSuite) TestExpireDueIsIdempotent() {
	ctx := context.Background()
	subject := s.subject()

	due := s.createProcessing(subject, t0)
	_, err := s.store.Complete(ctx, due.ID, verifiedOutcome(t0, time.Hour))
	s.Require().NoError(err)

	notDue := s.createProcessing(subject, t0)
	_, err = s.store.Complete(ctx, notDue.ID, verifiedOutcome(t0, 48*time.Hour))
	s.Require().NoError(err)

	now := t0.Add(2 * time.Hour)
	expired, err := s.store.ExpireDue(ctx, now)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(due.ID, expired[0].ID)
	s.Equal(models.StatusExpired, expired[0].Status)
	s.Nil(expired[0].VerifiedAt)
	s.Nil(expired[0].ConfidenceScore)
	s.NoError(expired[0].CheckInvariants())
	s.Require().NotNil(expired[0].Metadata)
	s.Require().NotNil(expired[0].Metadata.VerifiedAt)
	s.True(expired[0].Metadata.VerifiedAt.Equal(t0))
	s.Require().NotNil(expired[0].Metadata.ConfidenceAtExpiry)
	s.InDelta(0.93, *expired[0].Metadata.ConfidenceAtExpiry, 1e-9)

	stored, err := s.store.Get(ctx, due.ID)
	s.Require().NoError(err)
	s.Equal(expired[0].Metadata.ConfidenceAtExpiry, stored.Metadata.ConfidenceAtExpiry)

	again, err := s.store.ExpireDue(ctx, now)
	s.Require().NoError(err)
	s.Empty(again)

	got, err := s.store.Get(ctx, notDue.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, got.Status)
}

func (s *ContractSuite) TestListBySubjectFiltersAndOrders() {
	ctx := context.Background()
	subject := s.subject()
	other := s.subject()

	older := newPending(subject, t0, models.DocumentKind(models.DocumentPassport))
	newer := newPending(subject, t0.Add(time.Minute), models.BiometricKind(models.BiometricFace))
	foreign := newPending(other, t0, models.DocumentKind(models.DocumentPassport))
	for _, v := range []*models.Verification{older, newer, foreign} {
		s.Require().NoError(s.store.Create(ctx, v))
	}

	all, err := s.store.ListBySubject(ctx, subject, models.Filter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(newer.ID, all[0].ID)
	s.Equal(older.ID, all[1].ID)

	docs, err := s.store.ListBySubject(ctx, subject, models.Filter{Kind: models.KindDocument})
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal(older.ID, docs[0].ID)

	limited, err := s.store.ListBySubject(ctx, subject, models.Filter{Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)

	verified, err := s.store.ListBySubject(ctx, subject, models.Filter{Status: models.StatusVerified})
	s.Require().NoError(err)
	s.Empty(verified)
}

func (s *ContractSuite) TestCountsAndTerminalListing() {
	ctx := context.Background()
	subject := s.subject()

	pending := newPending(subject, t0, models.DocumentKind(models.DocumentPassport))
	s.Require().NoError(s.store.Create(ctx, pending))

	done := s.createProcessing(subject, t0)
	_, err := s.store.Complete(ctx, done.ID, models.Outcome{
		Status:          models.StatusRejected,
		ConfidenceScore: 0.4,
		Metadata:        &models.Metadata{Error: "unreadable"},
		At:              t0,
	})
	s.Require().NoError(err)

	counts, err := s.store.CountByStatus(ctx, subject)
	s.Require().NoError(err)
	s.Equal(map[models.Status]int{models.StatusPending: 1, models.StatusRejected: 1}, counts)

	terminal, err := s.store.ListTerminalBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Require().Len(terminal, 1)
	s.Equal(done.ID, terminal[0].ID)
	s.Nil(terminal[0].VerifiedAt)
	s.Equal("unreadable", terminal[0].Metadata.Error)
}

func (s *ContractSuite) TestListStuck() {
	subject := s.subject()
	stale := s.createProcessing(subject, t0)
	s.createProcessing(subject, t0.Add(time.Hour))

	stuck, err := s.store.ListStuck(context.Background(), t0.Add(10*time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(stuck, 1)
	s.Equal(stale.ID, stuck[0].ID)
}
