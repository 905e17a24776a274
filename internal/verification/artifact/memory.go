package artifact

import (
	"context"
	"fmt"
	"sync"

	"vouch/pkg/platform/sentinel"
)

// MemoryStore keeps artifacts in process memory. Used in tests and when no
// artifact directory is configured.
type MemoryStore struct {
	policy Policy
	mu     sync.RWMutex
	blobs  map[string][]byte
}

func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{policy: policy, blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, u Upload) (Artifact, error) {
	contentType, err := s.policy.Check(u)
	if err != nil {
		return Artifact{}, err
	}
	digest := Digest(u.Data)

	s.mu.Lock()
	if _, exists := s.blobs[digest]; !exists {
		s.blobs[digest] = append([]byte(nil), u.Data...)
	}
	s.mu.Unlock()

	return Artifact{Ref: RefFor(digest), Digest: digest, ContentType: contentType, SizeBytes: int64(len(u.Data))}, nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", digest, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
