package processor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"vouch/internal/verification/models"
)

// ScoreRequest identifies one stage evaluation.
type ScoreRequest struct {
	Kind   models.Kind
	Stage  string
	Digest string
	Data   []byte
}

// ScoringStrategy produces a stage sub-score in [0, 1].
type ScoringStrategy interface {
	Score(ctx context.Context, req ScoreRequest) (float64, error)
}

// DefaultScoreFloor is the lowest score DeterministicStrategy produces.
const DefaultScoreFloor = 0.7

// DeterministicStrategy derives scores from the artifact's content hash, so
// the same bytes always score the same for a given kind and stage.
type DeterministicStrategy struct {
	Floor float64
}

func (s DeterministicStrategy) Score(_ context.Context, req ScoreRequest) (float64, error) {
	floor := s.Floor
	if floor <= 0 || floor >= 1 {
		floor = DefaultScoreFloor
	}
	sum := sha256.Sum256([]byte(req.Digest + "|" + req.Kind.String() + "|" + req.Stage))
	u := float64(binary.BigEndian.Uint64(sum[:8])) / math.MaxUint64
	return floor + (1-floor)*u, nil
}

// FixedStrategy returns preset scores per stage, falling back to Default.
// A non-nil Err fails every stage.
type FixedStrategy struct {
	Scores  map[string]float64
	Default float64
	Err     error
}

func (s FixedStrategy) Score(_ context.Context, req ScoreRequest) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	if v, ok := s.Scores[req.Stage]; ok {
		return v, nil
	}
	return s.Default, nil
}
