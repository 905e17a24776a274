//go:build integration

package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "vouch/pkg/domain"
	"vouch/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "activity_events"))
}

func (s *PostgresStoreSuite) TestAppendIsIdempotentAndListIsNewestFirst() {
	ctx := context.Background()
	subject := id.NewSubjectID()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	older := Event{ID: id.NewEventID(), SubjectID: subject, Type: TypeDocumentVerification, Description: "older", CreatedAt: base}
	newer := Event{
		ID:          id.NewEventID(),
		SubjectID:   subject,
		Type:        TypeVerificationExpired,
		Description: "newer",
		Metadata:    map[string]any{"verification_id": "abc"},
		CreatedAt:   base.Add(time.Minute),
	}
	s.Require().NoError(s.store.Append(ctx, older))
	s.Require().NoError(s.store.Append(ctx, newer))
	s.Require().NoError(s.store.Append(ctx, newer))

	events, err := s.store.ListBySubject(ctx, subject, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(newer.ID, events[0].ID)
	s.Equal("abc", events[0].Metadata["verification_id"])
	s.Nil(events[1].Metadata)
	s.True(events[1].CreatedAt.Equal(base))

	limited, err := s.store.ListBySubject(ctx, subject, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}
