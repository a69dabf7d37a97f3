package score

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Rodons/CitationMap/internal/model"
)

// Percentile cut-offs for the high impact counts
const (
	topTenCutoff = 90.0
	topOneCutoff = 99.0
)

// Scorer builds the portfolio summary and its diagnostic signals
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate summarizes finalized records. Every number in the summary is
// traceable to a signal's Data or to the records themselves.
func (s *Scorer) Calculate(records []model.PublicationRecord, incomplete []model.IncompleteSource, conflicts []model.MergeConflict) model.Summary {
	sum := model.Summary{
		Publications: len(records),
		Fields:       make(map[string]int),
		Countries:    make(map[string]int),
	}

	var counts []int
	for _, rec := range records {
		if rec.CitationCount != nil {
			sum.TotalCitations += *rec.CitationCount
			counts = append(counts, *rec.CitationCount)
		}
		if rec.Year != nil {
			if sum.FirstYear == 0 || *rec.Year < sum.FirstYear {
				sum.FirstYear = *rec.Year
			}
			if *rec.Year > sum.LastYear {
				sum.LastYear = *rec.Year
			}
		}
		if f := rec.PrimaryField(); f != "" {
			sum.Fields[f]++
		}
		for _, c := range countriesOf(rec) {
			sum.Countries[c]++
		}
		if fp := rec.FieldPercentile; fp != nil {
			if fp.Percentile >= topTenCutoff {
				sum.TopTenPercent++
			}
			if fp.Percentile >= topOneCutoff {
				sum.TopOnePercent++
			}
		}
		if rec.Uptake != nil {
			sum.TranslationalSum += rec.Uptake.Score
		}
	}
	sum.HIndex = HIndex(counts)
	sum.I10Index = I10Index(counts)

	sum.Signals = append(sum.Signals, s.coverage(records))
	if sig, ok := s.incomplete(incomplete); ok {
		sum.Signals = append(sum.Signals, sig)
	}
	if sig, ok := s.conflicts(conflicts); ok {
		sum.Signals = append(sum.Signals, sig)
	}

	ratio, indSignals := s.independence(records)
	sum.IndependenceRatio = ratio
	sum.Signals = append(sum.Signals, indSignals...)

	if sig, ok := s.outliers(records); ok {
		sum.Signals = append(sum.Signals, sig)
	}
	if sig, ok := s.missingCohort(records); ok {
		sum.Signals = append(sum.Signals, sig)
	}
	if sum.TopTenPercent > 0 {
		sum.Signals = append(sum.Signals, model.Signal{
			Type:        model.SignalHighImpact,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d publication(s) in their field's top 10%%, %d in the top 1%%", sum.TopTenPercent, sum.TopOnePercent),
			Data: map[string]interface{}{
				"top_10_percent": sum.TopTenPercent,
				"top_1_percent":  sum.TopOnePercent,
				"formula":        "count(field_percentile >= 90), count(field_percentile >= 99)",
			},
		})
	}
	if sum.TranslationalSum > 0 {
		sum.Signals = append(sum.Signals, s.translational(records, sum.TranslationalSum))
	}

	return sum
}

// HIndex is the largest h such that h publications have at least h citations
func HIndex(counts []int) int {
	sorted := append([]int(nil), counts...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	h := 0
	for i, c := range sorted {
		if c >= i+1 {
			h = i + 1
		} else {
			break
		}
	}
	return h
}

// I10Index counts publications with at least ten citations
func I10Index(counts []int) int {
	n := 0
	for _, c := range counts {
		if c >= 10 {
			n++
		}
	}
	return n
}

// countriesOf returns the distinct author countries of a record, sorted
func countriesOf(rec model.PublicationRecord) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, a := range rec.Authors {
		for _, inst := range a.Institutions {
			if inst.CountryCode != "" {
				set.Add(inst.CountryCode)
			}
		}
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}

// coverage reports identifiers that no source contributed to
func (s *Scorer) coverage(records []model.PublicationRecord) model.Signal {
	var missing []string
	for _, rec := range records {
		if len(rec.Audit.Contributions) == 0 {
			missing = append(missing, rec.Identifier)
		}
	}

	severity := model.SeverityInfo
	switch {
	case len(records) > 0 && len(missing) == len(records):
		severity = model.SeverityCritical
	case len(missing) > 0:
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Source coverage: %d/%d publications with data", len(records)-len(missing), len(records)),
		Data: map[string]interface{}{
			"publications": len(records),
			"missing":      missing,
		},
	}
}

func (s *Scorer) incomplete(incomplete []model.IncompleteSource) (model.Signal, bool) {
	if len(incomplete) == 0 {
		return model.Signal{}, false
	}

	bySource := make(map[string]int)
	timeouts := 0
	for _, inc := range incomplete {
		bySource[string(inc.Source)]++
		if inc.Reason == model.ReasonFetchTimeout || inc.Reason == model.ReasonCohortTimeout {
			timeouts++
		}
	}

	return model.Signal{
		Type:        model.SignalIncompleteData,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d source lookup(s) incomplete (%d timed out)", len(incomplete), timeouts),
		Data: map[string]interface{}{
			"by_source": bySource,
			"timeouts":  timeouts,
			"errors":    len(incomplete) - timeouts,
		},
	}, true
}

func (s *Scorer) conflicts(conflicts []model.MergeConflict) (model.Signal, bool) {
	if len(conflicts) == 0 {
		return model.Signal{}, false
	}

	byField := make(map[string]int)
	for _, c := range conflicts {
		byField[c.Field]++
	}

	return model.Signal{
		Type:        model.SignalSourceConflict,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%d field(s) disagreed between sources; priority winner kept", len(conflicts)),
		Data: map[string]interface{}{
			"by_field": byField,
			"rule":     "openalex > icite > others",
		},
	}, true
}

// independence returns the portfolio independence ratio with its signals
func (s *Scorer) independence(records []model.PublicationRecord) (float64, []model.Signal) {
	var independent, self, ambiguous int
	for _, rec := range records {
		if rec.Independence == nil {
			continue
		}
		independent += rec.Independence.Independent
		self += rec.Independence.Self
		ambiguous += rec.Independence.Ambiguous
	}

	classified := independent + self
	if classified == 0 {
		return 0, nil
	}
	ratio := float64(independent) / float64(classified)
	selfShare := float64(self) / float64(classified)

	severity := model.SeverityInfo
	if selfShare > 0.5 {
		severity = model.SeverityCritical
	} else if selfShare > 0.3 {
		severity = model.SeverityWarning
	}

	signals := []model.Signal{{
		Type:        model.SignalSelfCitation,
		Severity:    severity,
		Description: fmt.Sprintf("Self-citation share: %.1f%% of %d classified citations", selfShare*100, classified),
		Data: map[string]interface{}{
			"independent":        independent,
			"self":               self,
			"independence_ratio": ratio,
			"formula":            "independent / (independent + self)",
		},
	}}

	if ambiguous > 0 {
		signals = append(signals, model.Signal{
			Type:        model.SignalAmbiguity,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d citation(s) matched only fuzzily and were labeled by policy", ambiguous),
			Data: map[string]interface{}{
				"ambiguous":  ambiguous,
				"classified": classified,
				"share":      float64(ambiguous) / float64(classified),
			},
		})
	}
	return ratio, signals
}

func (s *Scorer) outliers(records []model.PublicationRecord) (model.Signal, bool) {
	var ids []string
	for _, rec := range records {
		if rec.FieldOutlier {
			ids = append(ids, rec.Identifier)
		}
	}
	if len(ids) == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalFieldOutlier,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%d publication(s) far from their field's citation mean", len(ids)),
		Data: map[string]interface{}{
			"publications": ids,
			"formula":      "|citations - field_mean| / field_std > outlier_z",
		},
	}, true
}

func (s *Scorer) missingCohort(records []model.PublicationRecord) (model.Signal, bool) {
	var ids []string
	for _, rec := range records {
		if rec.CitationCount != nil && rec.FieldPercentile == nil {
			ids = append(ids, rec.Identifier)
		}
	}
	if len(ids) == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalMissingCohort,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d publication(s) have citations but no reference cohort", len(ids)),
		Data:        map[string]interface{}{"publications": ids},
	}, true
}

func (s *Scorer) translational(records []model.PublicationRecord, total float64) model.Signal {
	byType := make(map[string]int)
	withUptake := 0
	for _, rec := range records {
		if rec.Uptake == nil || rec.Uptake.Score == 0 {
			continue
		}
		withUptake++
		for t, n := range rec.Uptake.Counts {
			byType[string(t)] += n
		}
	}
	return model.Signal{
		Type:        model.SignalTranslational,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("Translational uptake in %d/%d publications (score %.1f)", withUptake, len(records), total),
		Data: map[string]interface{}{
			"mentions": byType,
			"score":    total,
			"formula":  "sum(weight[type] * count[type])",
		},
	}
}
