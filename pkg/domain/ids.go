package domain

import (
	"github.com/google/uuid"

	dErrors "vouch/pkg/domain-errors"
)

// Typed identifiers keep subject, verification, event and score IDs from being
// passed where another kind is expected. All share the same UUID parsing rules.
type (
	SubjectID      uuid.UUID
	VerificationID uuid.UUID
	EventID        uuid.UUID
	ScoreID        uuid.UUID
)

// maxIDLength bounds input before parsing; canonical UUIDs are 36 characters and
// the braced/urn forms accepted by uuid.Parse stay under this.
const maxIDLength = 64

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is too long")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return parsed, nil
}

// ParseSubjectID parses an owning-user identifier at a trust boundary.
func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject_id")
	return SubjectID(id), err
}

// ParseVerificationID parses a verification request identifier.
func ParseVerificationID(s string) (VerificationID, error) {
	id, err := parseUUID(s, "verification_id")
	return VerificationID(id), err
}

// ParseEventID parses an activity event identifier.
func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event_id")
	return EventID(id), err
}

// ParseScoreID parses a security score identifier.
func ParseScoreID(s string) (ScoreID, error) {
	id, err := parseUUID(s, "score_id")
	return ScoreID(id), err
}

func NewSubjectID() SubjectID           { return SubjectID(uuid.New()) }
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }
func NewEventID() EventID               { return EventID(uuid.New()) }
func NewScoreID() ScoreID               { return ScoreID(uuid.New()) }

func (id SubjectID) String() string      { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id ScoreID) String() string        { return uuid.UUID(id).String() }

func (id SubjectID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ScoreID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

func (id SubjectID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id VerificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id ScoreID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	*id = SubjectID(parsed)
	return err
}

func (id *VerificationID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	*id = VerificationID(parsed)
	return err
}

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	*id = EventID(parsed)
	return err
}

func (id *ScoreID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	*id = ScoreID(parsed)
	return err
}
