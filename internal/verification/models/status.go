package models

import (
	dErrors "vouch/pkg/domain-errors"
)

// Status is the lifecycle state of a verification request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusVerified   Status = "verified"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// allowedTransitions is the complete state machine. Anything not listed is rejected.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusVerified, StatusRejected},
	StatusVerified:   {StatusExpired},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusVerified, StatusRejected, StatusExpired}

// ParseStatus validates a status string from a query or a database row.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusVerified, StatusRejected, StatusExpired:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown status: "+s)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processing will happen. Verified is
// terminal for processing even though it may still expire.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusExpired
}

// IsScored reports whether a record in this status carries a confidence score.
func (s Status) IsScored() bool {
	return s == StatusVerified || s == StatusRejected
}

func (s Status) String() string { return string(s) }
