package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/Rodons/CitationMap/internal/model"
)

// Common errors returned by source clients.
var (
	// ErrNotFound means the source has no record for the identifier. It is absence, not failure.
	ErrNotFound = errors.New("not found")

	// ErrInvalidResponse indicates a response body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrDisallowed indicates a page excluded by robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// APIError represents a non-2xx answer from a source API
type APIError struct {
	Source     model.SourceName
	StatusCode int
	URL        string
	Message    string        // First bytes of the response body
	RetryAfter time.Duration // From the Retry-After header, if any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d)", e.Source, e.StatusCode)
}

// PartialError accompanies a record that is usable but lacks part of its data.
// Clients return it together with the record; the record must be kept.
type PartialError struct {
	Source model.SourceName
	Part   string // What is missing, e.g. "citing works"
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: partial record, %s incomplete: %v", e.Source, e.Part, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// IsPartial reports whether err marks a partial record
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// IsNotFound returns true if the error indicates a missing record
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404 || apiErr.StatusCode == 410
	}
	return false
}

// IsRateLimited returns true if the error indicates rate limiting
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// IsAuthError returns true if the error indicates a missing or rejected API key
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

// IsServerError returns true for 5xx answers
func IsServerError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 && apiErr.StatusCode < 600
	}
	return false
}
