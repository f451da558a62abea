package riot

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Failure kinds returned by the client. Callers branch on them with errors.Is.
var (
	ErrThrottled = errors.New("throttled")
	ErrUpstream  = errors.New("upstream error")
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("api key rejected")
	ErrCancelled = errors.New("cancelled")
	ErrMalformed = errors.New("malformed payload")
)

// APIError describes a failed Riot request.
type APIError struct {
	Class      EndpointClass
	Route      string
	Status     int
	RetryAfter time.Duration
	kind       error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("riot %s@%s: %v", e.Class, e.Route, e.kind)
	}
	return fmt.Sprintf("riot %s@%s: status %d: %v", e.Class, e.Route, e.Status, e.kind)
}

func (e *APIError) Unwrap() error { return e.kind }

// NewAPIError builds the error for a response with the given status.
func NewAPIError(class EndpointClass, route string, status int, retryAfter time.Duration) *APIError {
	return &APIError{Class: class, Route: route, Status: status, RetryAfter: retryAfter, kind: kindForStatus(status)}
}

// MalformedError reports a payload that lacks a field the pipeline needs.
type MalformedError struct {
	Field   string
	MatchID string
}

func (e *MalformedError) Error() string {
	if e.MatchID == "" {
		return fmt.Sprintf("malformed payload: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed payload for %s: missing %s", e.MatchID, e.Field)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Malformed returns a MalformedError for matchID.
func Malformed(matchID, field string) error {
	return &MalformedError{Field: field, MatchID: matchID}
}

// kindForStatus classifies an HTTP status into one of the failure kinds.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrForbidden
	case status >= 500:
		return ErrUpstream
	default:
		return errors.Newf("unexpected status %d", status)
	}
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// RetryAfter returns the retry-after carried by a throttling error, or 0.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// Kind returns a short label for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
