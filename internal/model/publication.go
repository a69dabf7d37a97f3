package model

import (
	"regexp"
	"strings"
	"time"
)

// SourceName identifies an external data provider
type SourceName string

const (
	SourceOpenAlex   SourceName = "openalex"   // Citation graph, authorships, concepts
	SourceICite      SourceName = "icite"      // NIH iCite field metrics (RCR, percentile)
	SourceLens       SourceName = "lens"       // Lens.org patent citations
	SourceTrials     SourceName = "trials"     // ClinicalTrials.gov studies
	SourceGuidelines SourceName = "guidelines" // Guideline reference lists
)

// KnownSources lists every source name accepted in configuration
var KnownSources = []SourceName{SourceOpenAlex, SourceICite, SourceLens, SourceTrials, SourceGuidelines}

// Institution is an affiliation as listed on a specific work
type Institution struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	CountryCode string `json:"country_code,omitempty"`
}

// Author is an author with the affiliations listed on a specific work
type Author struct {
	Name         string        `json:"name"`
	ORCID        string        `json:"orcid,omitempty"`
	Institutions []Institution `json:"institutions,omitempty"`
}

// Affiliations returns the institution names of the author
func (a Author) Affiliations() []string {
	names := make([]string, 0, len(a.Institutions))
	for _, inst := range a.Institutions {
		if inst.Name != "" {
			names = append(names, inst.Name)
		}
	}
	return names
}

// Field is a field-of-study label declared for a publication
type Field struct {
	ID    string  `json:"id,omitempty"` // Provider concept ID (e.g. OpenAlex C71924100)
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"` // Provider confidence (0-1)
}

// CitingWork is a work that cites a publication, with authorships at its publication time
type CitingWork struct {
	ID      string   `json:"id"`
	DOI     string   `json:"doi,omitempty"`
	Year    int      `json:"year,omitempty"`
	Authors []Author `json:"authors,omitempty"`
}

// RawRecord is what a single source returned for a single identifier.
// Nil pointers mean the source had no value, which is distinct from zero.
type RawRecord struct {
	Source     SourceName `json:"source"`
	RecordID   string     `json:"record_id"` // Provider-native ID (W123, PMID, lens id)
	Identifier string     `json:"identifier"`
	FetchedAt  time.Time  `json:"fetched_at"`

	DOI           string       `json:"doi,omitempty"`
	PMID          string       `json:"pmid,omitempty"`
	Title         *string      `json:"title,omitempty"`
	Year          *int         `json:"year,omitempty"`
	Fields        []Field      `json:"fields,omitempty"`
	CitationCount *int         `json:"citation_count,omitempty"`
	CitingWorks   []CitingWork `json:"citing_works,omitempty"`
	Authors       []Author     `json:"authors,omitempty"`

	RCR        *float64 `json:"rcr,omitempty"`
	FCR        *float64 `json:"fcr,omitempty"`
	Percentile *float64 `json:"percentile,omitempty"`

	Mentions []UptakeMention `json:"mentions,omitempty"`
}

// PublicationRecord is the canonical per-publication record produced by the merger.
// Fields set by the merger are never rewritten; derived annotations are recomputable.
type PublicationRecord struct {
	Identifier string `json:"identifier"`
	DOI        string `json:"doi,omitempty"`
	PMID       string `json:"pmid,omitempty"`
	Title      string `json:"title,omitempty"`
	Year       *int   `json:"year,omitempty"`

	Fields        []Field      `json:"fields,omitempty"`
	CitationCount *int         `json:"citation_count,omitempty"`
	CitingWorks   []CitingWork `json:"citing_works,omitempty"`
	Authors       []Author     `json:"authors,omitempty"`

	RCR              *float64 `json:"rcr,omitempty"`
	FCR              *float64 `json:"fcr,omitempty"`
	SourcePercentile *float64 `json:"source_percentile,omitempty"` // As reported by the metrics source

	Mentions []UptakeMention `json:"mentions,omitempty"`

	// Derived annotations
	FieldPercentile *FieldPercentile     `json:"field_percentile,omitempty"`
	CitationZScore  *float64             `json:"citation_z_score,omitempty"`
	FieldOutlier    bool                 `json:"field_outlier,omitempty"`
	Independence    *IndependenceSummary `json:"independence,omitempty"`
	Uptake          *UptakeSummary       `json:"uptake,omitempty"`

	Audit AuditTrail `json:"audit"`
}

// PrimaryField returns the highest-scoring declared field, or "" if none
func (p *PublicationRecord) PrimaryField() string {
	best := -1
	for i, f := range p.Fields {
		if best < 0 || f.Score > p.Fields[best].Score {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return p.Fields[best].Label
}

// CitationEdge is a single (citing work, citing author) link to a cited publication
type CitationEdge struct {
	CitingID          string `json:"citing_id"`
	CitedID           string `json:"cited_id"`
	CitingAuthor      string `json:"citing_author"`
	CitingAffiliation string `json:"citing_affiliation,omitempty"`
}

// EdgesFor derives citation edges from a record's citing works.
// One edge is emitted per citing author and affiliation pair.
func EdgesFor(p *PublicationRecord) []CitationEdge {
	var edges []CitationEdge
	for _, work := range p.CitingWorks {
		for _, author := range work.Authors {
			affs := author.Affiliations()
			if len(affs) == 0 {
				edges = append(edges, CitationEdge{CitingID: work.ID, CitedID: p.Identifier, CitingAuthor: author.Name})
				continue
			}
			for _, aff := range affs {
				edges = append(edges, CitationEdge{
					CitingID:          work.ID,
					CitedID:           p.Identifier,
					CitingAuthor:      author.Name,
					CitingAffiliation: aff,
				})
			}
		}
	}
	return edges
}

var (
	doiPattern  = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
	pmidPattern = regexp.MustCompile(`^0*[1-9]\d{0,8}$`)
)

// NormalizeIdentifier canonicalizes a DOI or PMID.
// DOIs are lowercased with resolver prefixes removed; PMIDs become "pmid:<n>".
// The second return value is false for strings that are neither.
func NormalizeIdentifier(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)

	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			lower = strings.TrimSpace(lower[len(prefix):])
			break
		}
	}
	if doiPattern.MatchString(lower) {
		return lower, true
	}

	pmid := strings.TrimPrefix(lower, "pmid:")
	pmid = strings.TrimSpace(pmid)
	if pmidPattern.MatchString(pmid) {
		return "pmid:" + strings.TrimLeft(pmid, "0"), true
	}

	return "", false
}

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// NormalizeORCID canonicalizes an ORCID iD to its bare 0000-0000-0000-000X form.
// Resolver prefixes are removed and the ISO 7064 11,2 check digit is verified.
func NormalizeORCID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://orcid.org/", "http://orcid.org/", "orcid.org/", "orcid:"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	s = strings.ToUpper(s)
	if !orcidPattern.MatchString(s) {
		return "", false
	}

	total := 0
	for _, r := range strings.ReplaceAll(s[:len(s)-1], "-", "") {
		total = (total + int(r-'0')) * 2
	}
	check := (12 - total%11) % 11
	want := byte('0' + check)
	if check == 10 {
		want = 'X'
	}
	if s[len(s)-1] != want {
		return "", false
	}
	return s, true
}

// IsPMID reports whether a normalized identifier is a PMID
func IsPMID(id string) bool {
	return strings.HasPrefix(id, "pmid:")
}

// PMIDOf returns the bare PMID of a normalized PMID identifier
func PMIDOf(id string) string {
	return strings.TrimPrefix(id, "pmid:")
}
