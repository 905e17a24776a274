// Package progress tracks advisory processing progress. Progress is
// best-effort and not durable: a lost update only makes the reported percent
// lag, and a percent never moves backwards.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Progress is the latest stage reported for a verification.
type Progress struct {
	Percent   int       `json:"percent"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTTL bounds how long progress entries are kept after their last update.
const DefaultTTL = time.Hour

// MemoryTracker keeps progress in process memory.
type MemoryTracker struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[id.VerificationID]Progress
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{ttl: ttl, entries: make(map[id.VerificationID]Progress)}
}

// Report records percent for vid unless a higher percent is already recorded.
func (t *MemoryTracker) Report(_ context.Context, vid id.VerificationID, stage string, percent int, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictBefore(at.Add(-t.ttl))
	if cur, ok := t.entries[vid]; ok && cur.Percent > percent {
		return nil
	}
	t.entries[vid] = Progress{Percent: clampPercent(percent), Stage: stage, UpdatedAt: at}
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, vid id.VerificationID) (Progress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[vid]
	if !ok {
		return Progress{}, fmt.Errorf("progress for %s: %w", vid, sentinel.ErrNotFound)
	}
	return p, nil
}

func (t *MemoryTracker) evictBefore(cutoff time.Time) {
	for k, p := range t.entries {
		if p.UpdatedAt.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
