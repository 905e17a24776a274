package testutil

import (
	"net/http"

	id "vouch/pkg/domain"
	"vouch/pkg/requestcontext"
)

// WithSubject adds an authenticated subject to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If subjectID is not a valid UUID, it will not be added to the context.
func WithSubject(req *http.Request, subjectID string) *http.Request {
	if parsed, err := id.ParseSubjectID(subjectID); err == nil {
		return req.WithContext(requestcontext.WithSubjectID(req.Context(), parsed))
	}
	return req
}
