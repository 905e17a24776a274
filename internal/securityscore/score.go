// Package securityscore aggregates a subject's verification outcomes into an
// append-only series of security scores.
package securityscore

import (
	"sort"
	"time"

	"vouch/internal/verification/models"
	id "vouch/pkg/domain"
)

// Weights set each category's share of the overall score. They are normalised
// before use, so only ratios matter; all-zero weights mean equal weighting.
type Weights struct {
	Document  float64
	Biometric float64
	Business  float64
}

// DefaultWeights weights every category equally.
func DefaultWeights() Weights {
	return Weights{Document: 1, Biometric: 1, Business: 1}
}

func (w Weights) normalized() Weights {
	doc, bio, biz := nonNegative(w.Document), nonNegative(w.Biometric), nonNegative(w.Business)
	sum := doc + bio + biz
	if sum == 0 {
		return Weights{Document: 1.0 / 3, Biometric: 1.0 / 3, Business: 1.0 / 3}
	}
	return Weights{Document: doc / sum, Biometric: bio / sum, Business: biz / sum}
}

// Category is how one kind family contributed to a score.
type Category struct {
	Verified       int     `json:"verified"`
	Terminal       int     `json:"terminal"`
	MeanConfidence float64 `json:"mean_confidence"`
	Weight         float64 `json:"weight"`
	Score          float64 `json:"score"`
}

// Breakdown holds the per-category inputs keyed by kind family.
type Breakdown map[models.KindName]Category

// Score is one computed security score. Rows are never updated; the newest
// per subject is authoritative.
type Score struct {
	ID             id.ScoreID   `json:"id"`
	SubjectID      id.SubjectID `json:"subject_id"`
	DocumentScore  float64      `json:"document_score"`
	BiometricScore float64      `json:"biometric_score"`
	BusinessScore  float64      `json:"business_score"`
	OverallScore   float64      `json:"overall_score"`
	Breakdown      Breakdown    `json:"breakdown"`
	CalculatedAt   time.Time    `json:"calculated_at"`
}

// Compute derives a score from the subject's terminal records. Each category
// scores (verified / terminal) x mean verified confidence x 100, and the
// overall score is the weighted sum. The result depends only on the inputs:
// records are ordered before summing and the ID is left for the caller.
func Compute(subject id.SubjectID, records []*models.Verification, weights Weights, now time.Time) Score {
	sorted := make([]*models.Verification, 0, len(records))
	for _, r := range records {
		if r != nil && r.SubjectID == subject && r.Status.IsTerminal() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	type tally struct {
		verified, terminal int
		confidenceSum      float64
	}
	tallies := map[models.KindName]*tally{
		models.KindDocument:  {},
		models.KindBiometric: {},
		models.KindBusiness:  {},
	}
	for _, r := range sorted {
		t, ok := tallies[r.Kind.Name]
		if !ok {
			continue
		}
		t.terminal++
		if r.Status == models.StatusVerified && r.ConfidenceScore != nil {
			t.verified++
			t.confidenceSum += *r.ConfidenceScore
		}
	}

	w := weights.normalized()
	shares := map[models.KindName]float64{
		models.KindDocument:  w.Document,
		models.KindBiometric: w.Biometric,
		models.KindBusiness:  w.Business,
	}

	out := Score{SubjectID: subject, Breakdown: make(Breakdown, len(tallies)), CalculatedAt: now.UTC()}
	for _, kind := range []models.KindName{models.KindDocument, models.KindBiometric, models.KindBusiness} {
		t := tallies[kind]
		c := Category{Verified: t.verified, Terminal: t.terminal, Weight: shares[kind]}
		if t.verified > 0 {
			c.MeanConfidence = t.confidenceSum / float64(t.verified)
		}
		if t.terminal > 0 {
			c.Score = float64(t.verified) / float64(t.terminal) * c.MeanConfidence * 100
		}
		out.Breakdown[kind] = c
		out.OverallScore += c.Score * c.Weight
	}
	out.DocumentScore = out.Breakdown[models.KindDocument].Score
	out.BiometricScore = out.Breakdown[models.KindBiometric].Score
	out.BusinessScore = out.Breakdown[models.KindBusiness].Score
	return out
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
