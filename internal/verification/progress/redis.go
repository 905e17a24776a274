package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

const progressKeyPrefix = "vouch:progress:"

// reportScript writes the hash only when the new percent is not lower than the
// stored one, so out-of-order reports from racing workers cannot regress it.
var reportScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'percent') or '-1')
if tonumber(ARGV[1]) < cur then
  return 0
end
redis.call('HSET', KEYS[1], 'percent', ARGV[1], 'stage', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisTracker shares progress across replicas.
type RedisTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisTracker(client redis.UniversalClient, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (t *RedisTracker) Report(ctx context.Context, vid id.VerificationID, stage string, percent int, at time.Time) error {
	err := reportScript.Run(ctx, t.client, []string{progressKeyPrefix + vid.String()},
		clampPercent(percent), stage, at.UTC().Format(time.RFC3339Nano), t.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, vid id.VerificationID) (Progress, error) {
	fields, err := t.client.HGetAll(ctx, progressKeyPrefix+vid.String()).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("read progress: %w", err)
	}
	if len(fields) == 0 {
		return Progress{}, fmt.Errorf("progress for %s: %w", vid, sentinel.ErrNotFound)
	}
	percent, err := strconv.Atoi(fields["percent"])
	if err != nil {
		return Progress{}, fmt.Errorf("parse progress percent: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return Progress{}, fmt.Errorf("parse progress time: %w", err)
	}
	return Progress{Percent: percent, Stage: fields["stage"], UpdatedAt: updatedAt}, nil
}
