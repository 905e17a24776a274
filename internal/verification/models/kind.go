package models

import (
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "vouch/pkg/domain-errors"
)

// KindName is the verification family.
type KindName string

const (
	KindDocument  KindName = "document"
	KindBiometric KindName = "biometric"
	KindBusiness  KindName = "business"
)

type DocumentType string

const (
	DocumentPassport         DocumentType = "passport"
	DocumentDriversLicense   DocumentType = "drivers_license"
	DocumentNationalID       DocumentType = "national_id"
	DocumentBirthCertificate DocumentType = "birth_certificate"
)

type BiometricType string

const (
	BiometricFingerprint BiometricType = "fingerprint"
	BiometricFace        BiometricType = "face"
	BiometricVoice       BiometricType = "voice"
	BiometricIris        BiometricType = "iris"
)

// maxBusinessTypeLength bounds the free-form business type.
const maxBusinessTypeLength = 64

// Kind is a tagged variant: exactly one of the type fields is set, matching Name.
// Construct it with DocumentKind, BiometricKind, BusinessKind or ParseKind.
type Kind struct {
	Name          KindName
	DocumentType  DocumentType
	BiometricType BiometricType
	BusinessType  string
}

func DocumentKind(t DocumentType) Kind   { return Kind{Name: KindDocument, DocumentType: t} }
func BiometricKind(t BiometricType) Kind { return Kind{Name: KindBiometric, BiometricType: t} }
func BusinessKind(t string) Kind         { return Kind{Name: KindBusiness, BusinessType: t} }

// ParseKind builds a Kind from its family name and subtype.
func ParseKind(name, subtype string) (Kind, error) {
	subtype = strings.TrimSpace(subtype)
	var k Kind
	switch KindName(strings.ToLower(strings.TrimSpace(name))) {
	case KindDocument:
		k = DocumentKind(DocumentType(strings.ToLower(subtype)))
	case KindBiometric:
		k = BiometricKind(BiometricType(strings.ToLower(subtype)))
	case KindBusiness:
		k = BusinessKind(subtype)
	default:
		return Kind{}, dErrors.New(dErrors.CodeValidation, "kind must be one of document, biometric, business")
	}
	if err := k.Validate(); err != nil {
		return Kind{}, err
	}
	return k, nil
}

// Validate checks that exactly the field matching Name is populated and known.
func (k Kind) Validate() error {
	switch k.Name {
	case KindDocument:
		if k.BiometricType != "" || k.BusinessType != "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "document kind carries a foreign subtype")
		}
		switch k.DocumentType {
		case DocumentPassport, DocumentDriversLicense, DocumentNationalID, DocumentBirthCertificate:
			return nil
		}
		return dErrors.New(dErrors.CodeValidation, "unsupported document type: "+string(k.DocumentType))
	case KindBiometric:
		if k.DocumentType != "" || k.BusinessType != "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "biometric kind carries a foreign subtype")
		}
		switch k.BiometricType {
		case BiometricFingerprint, BiometricFace, BiometricVoice, BiometricIris:
			return nil
		}
		return dErrors.New(dErrors.CodeValidation, "unsupported biometric type: "+string(k.BiometricType))
	case KindBusiness:
		if k.DocumentType != "" || k.BiometricType != "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "business kind carries a foreign subtype")
		}
		if k.BusinessType == "" {
			return dErrors.New(dErrors.CodeValidation, "business type is required")
		}
		if len(k.BusinessType) > maxBusinessTypeLength {
			return dErrors.New(dErrors.CodeValidation, "business type is too long")
		}
		if !utf8.ValidString(k.BusinessType) {
			return dErrors.New(dErrors.CodeValidation, "business type must be valid UTF-8")
		}
		if strings.IndexFunc(k.BusinessType, unicode.IsControl) >= 0 {
			return dErrors.New(dErrors.CodeValidation, "business type must not contain control characters")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "unknown kind: "+string(k.Name))
}

// Subtype returns whichever type field is populated.
func (k Kind) Subtype() string {
	switch k.Name {
	case KindDocument:
		return string(k.DocumentType)
	case KindBiometric:
		return string(k.BiometricType)
	case KindBusiness:
		return k.BusinessType
	}
	return ""
}

// ThresholdKey selects the configured pass threshold: biometrics are tuned per
// modality, documents and businesses per family.
func (k Kind) ThresholdKey() string {
	if k.Name == KindBiometric {
		return string(k.BiometricType)
	}
	return string(k.Name)
}

// Label is the human form used in activity descriptions, e.g. "Passport".
func (k Kind) Label() string {
	return humanize(k.Subtype())
}

func (k Kind) String() string {
	return string(k.Name) + ":" + k.Subtype()
}

func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
