package model

// CohortBin is one value of a reference citation-count distribution
type CohortBin struct {
	Citations int `json:"citations" yaml:"citations"`
	Count     int `json:"count" yaml:"count"`
}

// Cohort is a reference citation-count distribution for a field and year window
type Cohort struct {
	Field  string      `json:"field"`
	Year   int         `json:"year"`
	Source string      `json:"source"` // Provider that produced the distribution
	Bins   []CohortBin `json:"bins"`
}

// Size returns the number of papers in the cohort
func (c *Cohort) Size() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, b := range c.Bins {
		n += b.Count
	}
	return n
}

// FieldCandidate is the percentile a publication reaches in one of its declared fields
type FieldCandidate struct {
	Field        string  `json:"field"`
	Percentile   float64 `json:"percentile"`
	CohortSize   int     `json:"cohort_size"`
	CohortSource string  `json:"cohort_source"`
}

// FieldPercentile is the most favourable per-field percentile, annotated with its field.
// Candidates keeps every per-field result so nothing is averaged away.
type FieldPercentile struct {
	Field        string           `json:"field"`
	Year         int              `json:"year"`
	Percentile   float64          `json:"percentile"` // 0-100, average-rank convention
	CohortSize   int              `json:"cohort_size"`
	CohortSource string           `json:"cohort_source"`
	Candidates   []FieldCandidate `json:"candidates,omitempty"`
}

// CitationLabel classifies a citing work relative to the cited publication
type CitationLabel string

const (
	LabelSelf        CitationLabel = "self"
	LabelIndependent CitationLabel = "independent"
)

// MatchReason records which rule produced a citation label
type MatchReason string

const (
	ReasonNameMatch           MatchReason = "name_match"            // Normalized author name in both lists
	ReasonAffiliationMatch    MatchReason = "affiliation_match"     // Affiliation overlap at or above threshold
	ReasonAmbiguousName       MatchReason = "ambiguous_name"        // Initials-compatible names only
	ReasonAmbiguousAffilation MatchReason = "ambiguous_affiliation" // Overlap between floor and threshold
	ReasonNoOverlap           MatchReason = "no_overlap"
)

// CitationClass is the classification of one citing work
type CitationClass struct {
	CitingID  string        `json:"citing_id"`
	Label     CitationLabel `json:"label"`
	Reason    MatchReason   `json:"reason"`
	Ambiguous bool          `json:"ambiguous,omitempty"`
	Evidence  string        `json:"evidence,omitempty"` // Matched name or affiliation pair
	Overlap   float64       `json:"overlap,omitempty"`  // Best affiliation token overlap seen
}

// IndependenceSummary aggregates citation classes for one publication
type IndependenceSummary struct {
	Citations   []CitationClass `json:"citations,omitempty"`
	Self        int             `json:"self"`
	Independent int             `json:"independent"`
	Ambiguous   int             `json:"ambiguous"`
	Ratio       float64         `json:"ratio"` // Independent / classified; 0 when nothing classified
}

// FieldPattern holds independence totals for a field or year bucket
type FieldPattern struct {
	Papers           int     `json:"papers"`
	Citations        int     `json:"citations"`
	Independent      int     `json:"independent"`
	Self             int     `json:"self"`
	IndependenceRate float64 `json:"independence_ratio"`
	SelfRate         float64 `json:"self_citation_ratio"`
}

// IndependencePatterns is the portfolio-level independence report
type IndependencePatterns struct {
	Independent       int                     `json:"total_independent"`
	Self              int                     `json:"total_self"`
	Ambiguous         int                     `json:"total_ambiguous"`
	Ratio             float64                 `json:"overall_independence_ratio"`
	ByField           map[string]FieldPattern `json:"by_field,omitempty"`
	ByYear            map[int]FieldPattern    `json:"by_year,omitempty"`
	HighlyIndependent []string                `json:"highly_independent,omitempty"`
	HighSelfCitation  []string                `json:"high_self_citation,omitempty"`
}

// MentionType is the kind of downstream uptake
type MentionType string

const (
	MentionPatent        MentionType = "patent"
	MentionClinicalTrial MentionType = "clinical-trial"
	MentionGuideline     MentionType = "guideline"
)

// MentionTypes lists every mention type in report order
var MentionTypes = []MentionType{MentionPatent, MentionClinicalTrial, MentionGuideline}

// UptakeMention is one downstream document referencing a publication
type UptakeMention struct {
	PublicationID  string      `json:"publication_id"`
	Type           MentionType `json:"type"`
	SourceRecordID string      `json:"source_record_id"` // Patent lens id, NCT id, guideline URL
	Source         SourceName  `json:"source"`
	Title          string      `json:"title,omitempty"`
	Year           int         `json:"year,omitempty"`
}

// UptakeSummary is the deduplicated uptake of one publication
type UptakeSummary struct {
	Counts            map[MentionType]int `json:"counts"`
	Score             float64             `json:"translational_score"`
	MeanYearsToUptake *float64            `json:"mean_years_to_uptake,omitempty"`
	Breakthrough      bool                `json:"breakthrough,omitempty"`
}

// UptakeTrend is the portfolio-level uptake timeline
type UptakeTrend struct {
	ByYear        map[int]int `json:"by_year,omitempty"`
	Trend         string      `json:"trend"` // increasing, decreasing, stable, insufficient_data
	Breakthroughs []string    `json:"breakthroughs,omitempty"`
}
