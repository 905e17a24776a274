package handler

import (
	"time"

	"vouch/internal/activity"
	"vouch/internal/securityscore"
	"vouch/internal/verification/models"
	"vouch/internal/verification/progress"
	"vouch/internal/verification/service"
)

// SubmitResponse acknowledges a submission or an asynchronous run.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// VerificationResponse is the full projection of a verification request.
type VerificationResponse struct {
	ID                  string            `json:"id"`
	Kind                string            `json:"kind"`
	Type                string            `json:"type"`
	Status              string            `json:"status"`
	ConfidenceScore     *float64          `json:"confidence_score"`
	LivenessScore       *float64          `json:"liveness_score,omitempty"`
	ExtractedData       map[string]string `json:"extracted_data,omitempty"`
	AnchorHash          string            `json:"anchor_hash,omitempty"`
	Metadata            *models.Metadata  `json:"metadata,omitempty"`
	FileName            string            `json:"file_name,omitempty"`
	ContentType         string            `json:"content_type"`
	SizeBytes           int64             `json:"size_bytes"`
	SubmittedFrom       string            `json:"submitted_from,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at,omitempty"`
	VerifiedAt          *time.Time        `json:"verified_at,omitempty"`
	ExpiresAt           *time.Time        `json:"expires_at,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func toVerificationResponse(v *models.Verification) VerificationResponse {
	return VerificationResponse{
		ID:                  v.ID.String(),
		Kind:                string(v.Kind.Name),
		Type:                v.Kind.Subtype(),
		Status:              string(v.Status),
		ConfidenceScore:     v.ConfidenceScore,
		LivenessScore:       v.LivenessScore,
		ExtractedData:       v.ExtractedData,
		AnchorHash:          v.AnchorHash,
		Metadata:            v.Metadata,
		FileName:            v.FileName,
		ContentType:         v.ContentType,
		SizeBytes:           v.SizeBytes,
		SubmittedFrom:       v.SubmittedFrom,
		CreatedAt:           v.CreatedAt,
		ProcessingStartedAt: v.ProcessingStartedAt,
		VerifiedAt:          v.VerifiedAt,
		ExpiresAt:           v.ExpiresAt,
		UpdatedAt:           v.UpdatedAt,
	}
}

type ListResponse struct {
	Verifications []VerificationResponse `json:"verifications"`
	Count         int                    `json:"count"`
}

type ProgressResponse struct {
	RequestID string `json:"request_id"`
	progress.Progress
}

type SummaryResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

func toSummaryResponse(s service.Summary) SummaryResponse {
	resp := SummaryResponse{Total: s.Total, ByStatus: make(map[string]int, len(s.ByStatus))}
	for status, n := range s.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	return resp
}

type ActivityResponse struct {
	Activities []activity.Event `json:"activities"`
	Count      int              `json:"count"`
}

type ScoreHistoryResponse struct {
	Scores []securityscore.Score `json:"scores"`
	Count  int                   `json:"count"`
}
