package processor

import (
	"context"
	"fmt"

	"vouch/internal/verification/models"
)

const businessModelVersion = "registry_v1.0.0"

// Business stages.
const (
	StageCompleteness  = "completeness"
	StageRegistryMatch = "registry_match"
	StageConsistency   = "consistency"
)

// BusinessProcessor checks business registration documents.
type BusinessProcessor struct {
	pipeline pipeline
}

func NewBusinessProcessor(cfg Config) *BusinessProcessor {
	return &BusinessProcessor{pipeline: newPipeline(cfg, []stage{
		{name: StageCompleteness, weight: 0.3, milestone: 30},
		{name: StageRegistryMatch, weight: 0.5, milestone: 80},
		{name: StageConsistency, weight: 0.2, milestone: 100},
	})}
}

func (p *BusinessProcessor) Kind() models.KindName { return models.KindBusiness }

func (p *BusinessProcessor) Process(ctx context.Context, in Input) (Result, error) {
	if in.Kind.Name != models.KindBusiness {
		return Result{}, NewProcessingError(ErrorInternal, "", fmt.Sprintf("business processor given %s", in.Kind), nil)
	}
	s, err := p.pipeline.run(ctx, in)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Passed:          s.passed(),
		ConfidenceScore: s.confidence,
		Threshold:       s.threshold,
		ModelVersion:    businessModelVersion,
		Stages:          s.stages,
		Details: &models.BusinessDetails{
			BusinessType:    in.Kind.BusinessType,
			RegistryMatched: s.byStage[StageRegistryMatch] >= s.threshold,
		},
	}, nil
}
