//go:build integration

package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vouch/pkg/testutil/containers"
)

type RedisLeaseSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	lease *Redis
}

func TestRedisLeaseSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLeaseSuite))
}

func (s *RedisLeaseSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.lease = NewRedis(s.redis.Client.UniversalClient)
}

func (s *RedisLeaseSuite) SetupTest() {
	s.Require().NoError(s.redis.Reset(context.Background()))
}

func (s *RedisLeaseSuite) TestSecondAcquireFailsUntilRelease() {
	ctx := context.Background()

	release, err := s.lease.Acquire(ctx, "run:1", time.Minute)
	s.Require().NoError(err)

	_, err = s.lease.Acquire(ctx, "run:1", time.Minute)
	s.ErrorIs(err, ErrHeld)

	s.Require().NoError(release(ctx))
	again, err := s.lease.Acquire(ctx, "run:1", time.Minute)
	s.Require().NoError(err)
	s.NoError(again(ctx))
}

func (s *RedisLeaseSuite) TestStaleReleaseDoesNotDropNewHolder() {
	ctx := context.Background()

	stale, err := s.lease.Acquire(ctx, "run:2", 50*time.Millisecond)
	s.Require().NoError(err)
	time.Sleep(100 * time.Millisecond)

	current, err := s.lease.Acquire(ctx, "run:2", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(stale(ctx))

	_, err = s.lease.Acquire(ctx, "run:2", time.Minute)
	s.ErrorIs(err, ErrHeld)
	s.NoError(current(ctx))
}
