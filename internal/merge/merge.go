// Package merge joins per-source raw records into one canonical record per publication.
package merge

import (
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
)

// sourcePriority orders sources for every reconciled field; unlisted sources rank last
var sourcePriority = map[model.SourceName]int{
	model.SourceOpenAlex: 0,
	model.SourceICite:    1,
}

func rank(s model.SourceName) int {
	if r, ok := sourcePriority[s]; ok {
		return r
	}
	return len(sourcePriority)
}

// Merge reconciles the raw records of one identifier.
// Inputs are sorted by priority before reconciliation, so the result does not depend on input order.
// Absent values stay unset; disagreements keep the priority winner and are returned as conflicts.
func Merge(id string, raws []model.RawRecord) (model.PublicationRecord, []model.MergeConflict) {
	sorted := make([]model.RawRecord, len(raws))
	copy(sorted, raws)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if rank(a.Source) != rank(b.Source) {
			return rank(a.Source) < rank(b.Source)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.RecordID < b.RecordID
	})

	rec := model.PublicationRecord{Identifier: id}
	m := &merger{id: id}

	for _, r := range sorted {
		rec.Audit.Contributions = append(rec.Audit.Contributions, model.SourceRef{
			Source:    r.Source,
			RecordID:  r.RecordID,
			FetchedAt: r.FetchedAt,
		})
	}

	// Identifiers: the input identifier is authoritative for its own kind
	if model.IsPMID(id) {
		rec.PMID = model.PMIDOf(id)
	} else {
		rec.DOI = id
	}
	rec.DOI = m.reconcileString("doi", rec.DOI, sorted, func(r model.RawRecord) string { return r.DOI }, strings.ToLower)
	rec.PMID = m.reconcileString("pmid", rec.PMID, sorted, func(r model.RawRecord) string { return r.PMID }, nil)

	if title := m.reconcileString("title", "", sorted, func(r model.RawRecord) string {
		if r.Title == nil {
			return ""
		}
		return *r.Title
	}, normalizeTitle); title != "" {
		rec.Title = title
	}

	rec.Year = m.reconcileInt("year", sorted, func(r model.RawRecord) *int { return r.Year })
	rec.CitationCount = m.reconcileInt("citation_count", sorted, func(r model.RawRecord) *int { return r.CitationCount })

	// Lists come whole from the highest-priority source that has them
	for _, r := range sorted {
		if rec.Authors == nil && len(r.Authors) > 0 {
			rec.Authors = r.Authors
		}
		if rec.Fields == nil && len(r.Fields) > 0 {
			rec.Fields = r.Fields
		}
		if rec.CitingWorks == nil && len(r.CitingWorks) > 0 {
			rec.CitingWorks = r.CitingWorks
		}
		rec.Mentions = append(rec.Mentions, r.Mentions...)
	}

	// Field metrics are only trusted from iCite
	for _, r := range sorted {
		if r.Source != model.SourceICite {
			continue
		}
		if rec.RCR == nil {
			rec.RCR = r.RCR
		}
		if rec.FCR == nil {
			rec.FCR = r.FCR
		}
		if rec.SourcePercentile == nil {
			rec.SourcePercentile = r.Percentile
		}
	}

	rec.Audit.Conflicts = m.conflicts
	return rec, m.conflicts
}

// MergeAll merges every identifier and returns records sorted by identifier
func MergeAll(raws map[string][]model.RawRecord) ([]model.PublicationRecord, []model.MergeConflict) {
	ids := make([]string, 0, len(raws))
	for id := range raws {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]model.PublicationRecord, 0, len(ids))
	var conflicts []model.MergeConflict
	for _, id := range ids {
		rec, c := Merge(id, raws[id])
		records = append(records, rec)
		conflicts = append(conflicts, c...)
	}
	return records, conflicts
}

type merger struct {
	id        string
	conflicts []model.MergeConflict
}

// reconcileString keeps the first non-empty value (seed first, then sources in order).
// norm, when set, decides equality so cosmetic differences are not conflicts.
func (m *merger) reconcileString(field, seed string, sorted []model.RawRecord, get func(model.RawRecord) string, norm func(string) string) string {
	eq := func(a, b string) bool {
		if norm != nil {
			return norm(a) == norm(b)
		}
		return a == b
	}

	value := seed
	var winner model.SourceName
	for _, r := range sorted {
		v := strings.TrimSpace(get(r))
		if v == "" {
			continue
		}
		if value == "" {
			value, winner = v, r.Source
			continue
		}
		if !eq(value, v) {
			m.conflict(field, winner, value, r.Source, v)
		}
	}
	return value
}

func (m *merger) reconcileInt(field string, sorted []model.RawRecord, get func(model.RawRecord) *int) *int {
	var value *int
	var winner model.SourceName
	for _, r := range sorted {
		v := get(r)
		if v == nil {
			continue
		}
		if value == nil {
			n := *v
			value, winner = &n, r.Source
			continue
		}
		if *v != *value {
			m.conflict(field, winner, strconv.Itoa(*value), r.Source, strconv.Itoa(*v))
		}
	}
	return value
}

func (m *merger) conflict(field string, winner model.SourceName, winnerValue string, loser model.SourceName, loserValue string) {
	// An empty winner means the value came from the input identifier itself
	if winner == "" {
		winner = "input"
	}
	c := model.MergeConflict{
		Identifier:  m.id,
		Field:       field,
		Winner:      winner,
		WinnerValue: winnerValue,
		Loser:       loser,
		LoserValue:  loserValue,
	}
	log.WithFields(log.Fields{
		"id":     m.id,
		"field":  field,
		"winner": winner,
		"loser":  loser,
	}).Warnf("source conflict: kept %q over %q", winnerValue, loserValue)
	m.conflicts = append(m.conflicts, c)
}

// normalizeTitle compares titles ignoring case, spacing and trailing punctuation
func normalizeTitle(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!?;: ")
}
