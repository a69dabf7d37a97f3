package model

import "time"

// Report represents the complete CitationMap run report
type Report struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Identifiers []string  `json:"identifiers"`     // Normalized identifiers in input order
	ORCID       string    `json:"orcid,omitempty"` // Author the identifiers were resolved from

	Records    []PublicationRecord `json:"records"`
	Rejected   []string            `json:"rejected,omitempty"` // Inputs that were neither DOI nor PMID
	Incomplete []IncompleteSource  `json:"incomplete,omitempty"`
	Conflicts  []MergeConflict     `json:"conflicts,omitempty"`

	Summary  Summary               `json:"summary"`
	Patterns *IndependencePatterns `json:"independence_patterns,omitempty"`
	Trend    *UptakeTrend          `json:"uptake_trend,omitempty"`

	LLM *LLMSummary `json:"llm,omitempty"` // Optional LLM summary (separate, never affects numbers)
}

// Record returns the record for a normalized identifier, or nil
func (r *Report) Record(id string) *PublicationRecord {
	for i := range r.Records {
		if r.Records[i].Identifier == id {
			return &r.Records[i]
		}
	}
	return nil
}

// Summary is the transparent portfolio-level breakdown
type Summary struct {
	Publications      int            `json:"publications"`
	TotalCitations    int            `json:"total_citations"`
	HIndex            int            `json:"h_index"`
	I10Index          int            `json:"i10_index"`
	IndependenceRatio float64        `json:"independence_ratio"`
	TopTenPercent     int            `json:"top_10_percent"`
	TopOnePercent     int            `json:"top_1_percent"`
	TranslationalSum  float64        `json:"translational_score"`
	FirstYear         int            `json:"first_year,omitempty"`
	LastYear          int            `json:"last_year,omitempty"`
	Fields            map[string]int `json:"fields,omitempty"`
	Countries         map[string]int `json:"countries,omitempty"`
	Signals           []Signal       `json:"signals"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"` // Inputs behind the signal
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalCoverage       SignalType = "coverage"        // Identifiers with no source data
	SignalIncompleteData SignalType = "incomplete_data" // Sources that timed out or failed
	SignalSourceConflict SignalType = "source_conflict" // Sources disagreeing on reconciled fields
	SignalSelfCitation   SignalType = "self_citation"   // Portfolio-level self-citation share
	SignalAmbiguity      SignalType = "ambiguity"       // Citations classified by policy
	SignalFieldOutlier   SignalType = "field_outlier"   // Papers far from their field mean
	SignalHighImpact     SignalType = "high_impact"     // Papers in the top percentiles
	SignalTranslational  SignalType = "translational"   // Downstream uptake present
	SignalMissingCohort  SignalType = "missing_cohort"  // Papers without a reference cohort
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// LLMSummary contains an optional LLM-generated narrative.
// It never feeds back into any computed number.
type LLMSummary struct {
	Enabled   bool     `json:"enabled"`
	Provider  string   `json:"provider,omitempty"` // openai, ollama
	Model     string   `json:"model,omitempty"`
	SummaryMD string   `json:"summary_md,omitempty"`
	Warnings  []string `json:"warnings,omitempty"` // e.g. identifiers the model invented
}
