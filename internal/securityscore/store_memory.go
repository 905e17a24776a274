package securityscore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	scores map[id.SubjectID][]Score
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scores: make(map[id.SubjectID][]Score)}
}

func (s *InMemoryStore) Append(_ context.Context, score Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[score.SubjectID] = append(s.scores[score.SubjectID], cloneScore(score))
	return nil
}

func (s *InMemoryStore) Latest(ctx context.Context, subject id.SubjectID) (Score, error) {
	scores, _ := s.History(ctx, subject, 1)
	if len(scores) == 0 {
		return Score{}, fmt.Errorf("security score for %s: %w", subject, sentinel.ErrNotFound)
	}
	return scores[0], nil
}

func (s *InMemoryStore) History(_ context.Context, subject id.SubjectID, limit int) ([]Score, error) {
	s.mu.RLock()
	out := make([]Score, 0, len(s.scores[subject]))
	for _, sc := range s.scores[subject] {
		out = append(out, cloneScore(sc))
	}
	s.mu.RUnlock()

	// newest first; among equal timestamps the later append wins
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CalculatedAt.After(out[j].CalculatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneScore(s Score) Score {
	c := s
	c.Breakdown = make(Breakdown, len(s.Breakdown))
	for k, v := range s.Breakdown {
		c.Breakdown[k] = v
	}
	return c
}
