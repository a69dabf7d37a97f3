package model

import (
	"errors"
	"fmt"
	"time"
)

// SourceRef points at one raw source record that contributed to a merged record
type SourceRef struct {
	Source    SourceName `json:"source"`
	RecordID  string     `json:"record_id"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// MergeConflict records two sources disagreeing on a reconciled field.
// The winner is decided by source priority; the run is never aborted.
type MergeConflict struct {
	Identifier  string     `json:"identifier"`
	Field       string     `json:"field"`
	Winner      SourceName `json:"winner"`
	WinnerValue string     `json:"winner_value"`
	Loser       SourceName `json:"loser"`
	LoserValue  string     `json:"loser_value"`
}

func (c MergeConflict) Error() string {
	return fmt.Sprintf("merge conflict on %s for %s: %s=%q kept over %s=%q",
		c.Field, c.Identifier, c.Winner, c.WinnerValue, c.Loser, c.LoserValue)
}

// IncompleteReason explains why a source did not contribute
type IncompleteReason string

const (
	ReasonFetchTimeout IncompleteReason = "fetch_timeout"
	ReasonFetchError   IncompleteReason = "fetch_error"

	// ReasonCohortTimeout marks a field-cohort lookup cut off by the run deadline
	ReasonCohortTimeout IncompleteReason = "cohort_timeout"
)

// IncompleteSource marks a source whose data is missing for an identifier
type IncompleteSource struct {
	Identifier string           `json:"identifier"`
	Source     SourceName       `json:"source"`
	Reason     IncompleteReason `json:"reason"`
	Detail     string           `json:"detail,omitempty"`
}

// AuditTrail records where a merged record came from and what went wrong on the way
type AuditTrail struct {
	Contributions []SourceRef        `json:"contributions"`
	Conflicts     []MergeConflict    `json:"conflicts,omitempty"`
	Incomplete    []IncompleteSource `json:"incomplete,omitempty"`
}

// HasSource reports whether a source contributed to the record
func (a AuditTrail) HasSource(source SourceName) bool {
	for _, ref := range a.Contributions {
		if ref.Source == source {
			return true
		}
	}
	return false
}

// FetchTimeout is returned when a source does not answer within the run budget
type FetchTimeout struct {
	Source     SourceName
	Identifier string
	Err        error
}

func (e *FetchTimeout) Error() string {
	return fmt.Sprintf("%s: fetch %s timed out: %v", e.Source, e.Identifier, e.Err)
}

func (e *FetchTimeout) Unwrap() error {
	return e.Err
}

// IsFetchTimeout reports whether err is (or wraps) a FetchTimeout
func IsFetchTimeout(err error) bool {
	var ft *FetchTimeout
	return errors.As(err, &ft)
}
