package activity

import (
	"context"
	"sort"
	"sync"

	id "vouch/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	seen   map[id.EventID]struct{}
	events map[id.SubjectID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		seen:   make(map[id.EventID]struct{}),
		events: make(map[id.SubjectID][]Event),
	}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[event.ID]; dup {
		return nil
	}
	s.seen[event.ID] = struct{}{}
	s.events[event.SubjectID] = append(s.events[event.SubjectID], event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject id.SubjectID, limit int) ([]Event, error) {
	s.mu.RLock()
	out := append([]Event(nil), s.events[subject]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
