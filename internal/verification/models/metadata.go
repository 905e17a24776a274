package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageScore is one pipeline stage's contribution to the confidence score.
type StageScore struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Details is the kind-specific part of a verification's diagnostics. The set of
// implementations is closed: DocumentDetails, BiometricDetails, BusinessDetails.
type Details interface {
	Kind() KindName
	isDetails()
}

type DocumentDetails struct {
	DocumentType    DocumentType `json:"document_type"`
	FieldsExtracted int          `json:"fields_extracted"`
	TamperSignals   []string     `json:"tamper_signals,omitempty"`
}

type BiometricDetails struct {
	BiometricType   BiometricType `json:"biometric_type"`
	FeatureCount    int           `json:"feature_count"`
	LivenessChecked bool          `json:"liveness_checked"`
}

type BusinessDetails struct {
	BusinessType    string `json:"business_type"`
	RegistryMatched bool   `json:"registry_matched"`
}

func (*DocumentDetails) Kind() KindName  { return KindDocument }
func (*BiometricDetails) Kind() KindName { return KindBiometric }
func (*BusinessDetails) Kind() KindName  { return KindBusiness }

func (*DocumentDetails) isDetails()  {}
func (*BiometricDetails) isDetails() {}
func (*BusinessDetails) isDetails()  {}

// Metadata captures processing diagnostics, written on the terminal transition.
// Error is set when processing failed and the request was rejected because of it.
// VerifiedAt and ConfidenceAtExpiry are filled when a verified record expires.
type Metadata struct {
	ModelVersion       string       `json:"model_version,omitempty"`
	Threshold          float64      `json:"threshold,omitempty"`
	Stages             []StageScore `json:"stages,omitempty"`
	Details            Details      `json:"-"`
	Error              string       `json:"error,omitempty"`
	ErrorCategory      string       `json:"error_category,omitempty"`
	DurationMS         int64        `json:"duration_ms,omitempty"`
	VerifiedAt         *time.Time   `json:"verified_at,omitempty"`
	ConfidenceAtExpiry *float64     `json:"confidence_at_expiry,omitempty"`
}

type metadataAlias Metadata

type metadataWire struct {
	*metadataAlias
	Details json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON writes Details as an object tagged with its kind in a "type" field.
func (m Metadata) MarshalJSON() ([]byte, error) {
	alias := metadataAlias(m)
	wire := metadataWire{metadataAlias: &alias}
	if m.Details != nil {
		raw, err := marshalDetails(m.Details)
		if err != nil {
			return nil, err
		}
		wire.Details = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores the concrete Details variant from its "type" tag.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	wire := metadataWire{metadataAlias: (*metadataAlias)(m)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Details = nil
	if len(wire.Details) == 0 || string(wire.Details) == "null" {
		return nil
	}
	details, err := unmarshalDetails(wire.Details)
	if err != nil {
		return err
	}
	m.Details = details
	return nil
}

func marshalDetails(d Details) ([]byte, error) {
	switch v := d.(type) {
	case *DocumentDetails:
		return json.Marshal(struct {
			Type KindName `json:"type"`
			*DocumentDetails
		}{KindDocument, v})
	case *BiometricDetails:
		return json.Marshal(struct {
			Type KindName `json:"type"`
			*BiometricDetails
		}{KindBiometric, v})
	case *BusinessDetails:
		return json.Marshal(struct {
			Type KindName `json:"type"`
			*BusinessDetails
		}{KindBusiness, v})
	}
	return nil, fmt.Errorf("unsupported details type %T", d)
}

func unmarshalDetails(raw json.RawMessage) (Details, error) {
	var tag struct {
		Type KindName `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}
	var d Details
	switch tag.Type {
	case KindDocument:
		d = &DocumentDetails{}
	case KindBiometric:
		d = &BiometricDetails{}
	case KindBusiness:
		d = &BusinessDetails{}
	default:
		return nil, fmt.Errorf("unknown details type %q", tag.Type)
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, err
	}
	return d, nil
}
