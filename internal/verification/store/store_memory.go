package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// InMemoryStore keeps verifications in a map guarded by one mutex. Each
// transition holds the lock only for the compare and the write.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.VerificationID]*models.Verification
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.VerificationID]*models.Verification)}
}

func (s *InMemoryStore) Create(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[v.ID]; exists {
		return fmt.Errorf("verification %s: %w", v.ID, sentinel.ErrConflict)
	}
	s.records[v.ID] = v.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, vid id.VerificationID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[vid]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", vid, sentinel.ErrNotFound)
	}
	return v.Clone(), nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject id.SubjectID, f models.Filter) ([]*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Verification
	for _, v := range s.records {
		if v.SubjectID != subject {
			continue
		}
		if f.Kind != "" && v.Kind.Name != f.Kind {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		out = append(out, v.Clone())
	}
	sortNewestFirst(out)
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListTerminalBySubject(_ context.Context, subject id.SubjectID) ([]*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Verification
	for _, v := range s.records {
		if v.SubjectID == subject && v.Status.IsTerminal() {
			out = append(out, v.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context, subject id.SubjectID) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.Status]int)
	for _, v := range s.records {
		if v.SubjectID == subject {
			counts[v.Status]++
		}
	}
	return counts, nil
}

func (s *InMemoryStore) MarkProcessing(_ context.Context, vid id.VerificationID, at time.Time) (*models.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[vid]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", vid, sentinel.ErrNotFound)
	}
	if v.Status != models.StatusPending {
		return nil, &StatusConflictError{ID: vid, Expected: models.StatusPending, Actual: v.Status}
	}
	started := at
	v.Status = models.StatusProcessing
	v.ProcessingStartedAt = &started
	v.UpdatedAt = at
	return v.Clone(), nil
}

func (s *InMemoryStore) Complete(_ context.Context, vid id.VerificationID, outcome models.Outcome) (*models.Verification, error) {
	if !models.StatusProcessing.CanTransitionTo(outcome.Status) {
		return nil, fmt.Errorf("complete with status %s: %w", outcome.Status, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[vid]
	if !ok {
		return nil, fmt.Errorf("verification %s: %w", vid, sentinel.ErrNotFound)
	}
	if v.Status != models.StatusProcessing {
		return nil, &StatusConflictError{ID: vid, Expected: models.StatusProcessing, Actual: v.Status}
	}
	outcome.Apply(v)
	return v.Clone(), nil
}

func (s *InMemoryStore) ExpireDue(_ context.Context, now time.Time) ([]*models.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Verification
	for _, v := range s.records {
		if v.Status != models.StatusVerified || v.ExpiresAt == nil || v.ExpiresAt.After(now) {
			continue
		}
		v.Expire(now)
		expired = append(expired, v.Clone())
	}
	sortNewestFirst(expired)
	return expired, nil
}

func (s *InMemoryStore) ListStuck(_ context.Context, startedBefore time.Time, limit int) ([]*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Verification
	for _, v := range s.records {
		if v.Status == models.StatusProcessing && v.ProcessingStartedAt != nil && !v.ProcessingStartedAt.After(startedBefore) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessingStartedAt.Before(*out[j].ProcessingStartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(vs []*models.Verification) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].ID.String() > vs[j].ID.String()
		}
		return vs[i].CreatedAt.After(vs[j].CreatedAt)
	})
}
