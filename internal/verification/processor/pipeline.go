package processor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vouch/internal/verification/artifact"
	"vouch/internal/verification/models"
)

var tracer = otel.Tracer("vouch/internal/verification/processor")

// stage is one weighted step. milestone is the progress percent reported when
// it completes.
type stage struct {
	name      string
	weight    float64
	milestone int
}

// pipeline runs weighted stages over an artifact.
type pipeline struct {
	stages     []stage
	artifacts  ArtifactReader
	strategy   ScoringStrategy
	thresholds Thresholds
}

// scored is the outcome of a pipeline run before kind-specific interpretation.
type scored struct {
	digest     string
	data       []byte
	stages     []models.StageScore
	byStage    map[string]float64
	confidence float64
	threshold  float64
}

func newPipeline(cfg Config, stages []stage) pipeline {
	strategy := cfg.Strategy
	if strategy == nil {
		strategy = DeterministicStrategy{}
	}
	return pipeline{
		stages:     stages,
		artifacts:  cfg.Artifacts,
		strategy:   strategy,
		thresholds: cfg.Thresholds,
	}
}

func (p pipeline) run(ctx context.Context, in Input) (s scored, err error) {
	ctx, span := tracer.Start(ctx, "processor.run", trace.WithAttributes(
		attribute.String("verification.kind", in.Kind.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if p.artifacts == nil {
		return scored{}, NewProcessingError(ErrorInternal, "fetch", "no artifact reader configured", nil)
	}
	data, err := p.artifacts.Get(ctx, in.ArtifactRef)
	if err != nil {
		return scored{}, asProcessingError(err, "fetch")
	}

	s = scored{
		digest:    artifact.Digest(data),
		data:      data,
		stages:    make([]models.StageScore, 0, len(p.stages)),
		byStage:   make(map[string]float64, len(p.stages)),
		threshold: p.thresholds.For(in.Kind),
	}
	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return scored{}, asProcessingError(err, st.name)
		}
		score, err := p.strategy.Score(ctx, ScoreRequest{
			Kind:   in.Kind,
			Stage:  st.name,
			Digest: s.digest,
			Data:   data,
		})
		if err != nil {
			return scored{}, asProcessingError(err, st.name)
		}
		if score < 0 || score > 1 {
			return scored{}, NewProcessingError(ErrorBadData, st.name, fmt.Sprintf("score %v out of range", score), nil)
		}
		s.stages = append(s.stages, models.StageScore{Name: st.name, Weight: st.weight, Score: score})
		s.byStage[st.name] = score
		s.confidence += st.weight * score
		if in.Progress != nil {
			in.Progress(st.name, st.milestone)
		}
	}
	s.confidence = clamp01(s.confidence)
	span.SetAttributes(attribute.Float64("verification.confidence", s.confidence))
	return s, nil
}

func (s scored) passed() bool {
	return s.confidence > s.threshold
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
