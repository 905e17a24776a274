package processor

import (
	"context"
	"fmt"
	"strconv"

	"vouch/internal/verification/models"
)

const documentModelVersion = "v1.0.0"

// Document stages.
const (
	StageSegmentation   = "segmentation"
	StageTextExtraction = "text_extraction"
	StageAuthenticity   = "authenticity"
	StageQuality        = "quality"
)

// DocumentProcessor checks identity documents.
type DocumentProcessor struct {
	pipeline pipeline
}

func NewDocumentProcessor(cfg Config) *DocumentProcessor {
	return &DocumentProcessor{pipeline: newPipeline(cfg, []stage{
		{name: StageSegmentation, weight: 0.2, milestone: 25},
		{name: StageTextExtraction, weight: 0.3, milestone: 50},
		{name: StageAuthenticity, weight: 0.3, milestone: 75},
		{name: StageQuality, weight: 0.2, milestone: 100},
	})}
}

func (p *DocumentProcessor) Kind() models.KindName { return models.KindDocument }

func (p *DocumentProcessor) Process(ctx context.Context, in Input) (Result, error) {
	if in.Kind.Name != models.KindDocument {
		return Result{}, NewProcessingError(ErrorInternal, "", fmt.Sprintf("document processor given %s", in.Kind), nil)
	}
	s, err := p.pipeline.run(ctx, in)
	if err != nil {
		return Result{}, err
	}

	var tamper []string
	if s.byStage[StageAuthenticity] < s.threshold {
		tamper = append(tamper, StageAuthenticity)
	}
	if s.byStage[StageQuality] < s.threshold {
		tamper = append(tamper, StageQuality)
	}
	extracted := extractDocumentFields(in.Kind.DocumentType, s.digest)

	return Result{
		Passed:          s.passed(),
		ConfidenceScore: s.confidence,
		Threshold:       s.threshold,
		ModelVersion:    documentModelVersion,
		Stages:          s.stages,
		ExtractedData:   extracted,
		Details: &models.DocumentDetails{
			DocumentType:    in.Kind.DocumentType,
			FieldsExtracted: len(extracted),
			TamperSignals:   tamper,
		},
	}, nil
}

// extractDocumentFields stands in for OCR output. Values are derived from the
// content digest so they are stable for the same artifact.
func extractDocumentFields(docType models.DocumentType, digest string) map[string]string {
	n, err := strconv.ParseUint(digest[:8], 16, 64)
	if err != nil {
		n = 0
	}
	return map[string]string{
		"document_type":   string(docType),
		"document_number": fmt.Sprintf("DOC%06d", n%1_000_000),
		"content_digest":  digest,
	}
}
