package activity

import (
	"time"

	id "vouch/pkg/domain"
)

// Activity types written by the verification pipeline.
const (
	TypeDocumentVerification  = "document_verification"
	TypeBiometricVerification = "biometric_verification"
	TypeBusinessVerification  = "business_verification"
	TypeVerificationExpired   = "verification_expired"
)

// Event is one entry in a subject's activity feed. Events are write-once.
type Event struct {
	ID          id.EventID     `json:"id"`
	SubjectID   id.SubjectID   `json:"subject_id"`
	Type        string         `json:"activity_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
