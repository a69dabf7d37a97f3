package score

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Rodons/CitationMap/internal/model"
)

func intPtr(v int) *int { return &v }

func findSignal(signals []model.Signal, typ model.SignalType) *model.Signal {
	for i := range signals {
		if signals[i].Type == typ {
			return &signals[i]
		}
	}
	return nil
}

func contributed() model.AuditTrail {
	return model.AuditTrail{Contributions: []model.SourceRef{{Source: model.SourceOpenAlex, RecordID: "W1"}}}
}

func TestHIndex(t *testing.T) {
	tests := []struct {
		counts []int
		want   int
	}{
		{nil, 0},
		{[]int{0, 0}, 0},
		{[]int{10, 8, 5, 4, 3}, 4},
		{[]int{25, 8, 5, 3, 3}, 3},
		{[]int{1, 1, 1}, 1},
		{[]int{100}, 1},
	}
	for _, tt := range tests {
		if got := HIndex(tt.counts); got != tt.want {
			t.Errorf("HIndex(%v) = %d, want %d", tt.counts, got, tt.want)
		}
	}
}

func TestHIndexDoesNotReorderInput(t *testing.T) {
	counts := []int{1, 5, 3}
	HIndex(counts)
	if diff := cmp.Diff([]int{1, 5, 3}, counts); diff != "" {
		t.Errorf("Input modified (-want +got):\n%s", diff)
	}
}

func TestI10Index(t *testing.T) {
	if got := I10Index([]int{9, 10, 11, 200}); got != 3 {
		t.Errorf("Expected 3, got %d", got)
	}
}

func TestScorer_Calculate_Portfolio(t *testing.T) {
	y2015, y2021 := 2015, 2021
	records := []model.PublicationRecord{
		{
			Identifier:      "10.1/a",
			Year:            &y2015,
			CitationCount:   intPtr(40),
			Fields:          []model.Field{{Label: "Medicine", Score: 0.9}},
			Authors:         []model.Author{{Name: "A", Institutions: []model.Institution{{Name: "X", CountryCode: "GB"}, {Name: "Y", CountryCode: "GB"}}}},
			FieldPercentile: &model.FieldPercentile{Percentile: 99.5},
			Independence:    &model.IndependenceSummary{Independent: 8, Self: 2, Ambiguous: 1},
			Uptake:          &model.UptakeSummary{Score: 7, Counts: map[model.MentionType]int{model.MentionPatent: 1, model.MentionGuideline: 1}},
			Audit:           contributed(),
		},
		{
			Identifier:      "10.1/b",
			Year:            &y2021,
			CitationCount:   intPtr(12),
			Fields:          []model.Field{{Label: "Medicine", Score: 0.8}},
			Authors:         []model.Author{{Name: "B", Institutions: []model.Institution{{Name: "Z", CountryCode: "US"}}}},
			FieldPercentile: &model.FieldPercentile{Percentile: 91},
			Independence:    &model.IndependenceSummary{Independent: 6, Self: 4},
			Audit:           contributed(),
		},
		{
			Identifier:    "pmid:3",
			CitationCount: intPtr(2),
			Audit:         contributed(),
		},
	}
	incomplete := []model.IncompleteSource{
		{Identifier: "10.1/a", Source: model.SourceLens, Reason: model.ReasonFetchTimeout},
		{Identifier: "10.1/b", Source: model.SourceTrials, Reason: model.ReasonFetchError},
		{Identifier: "10.1/b", Source: model.SourceOpenAlex, Reason: model.ReasonCohortTimeout},
	}
	conflicts := []model.MergeConflict{{Identifier: "10.1/a", Field: "citation_count"}}

	sum := NewScorer().Calculate(records, incomplete, conflicts)

	if sum.Publications != 3 || sum.TotalCitations != 54 {
		t.Errorf("Unexpected totals: %d publications, %d citations", sum.Publications, sum.TotalCitations)
	}
	if sum.HIndex != 2 || sum.I10Index != 2 {
		t.Errorf("Expected h=2 i10=2, got h=%d i10=%d", sum.HIndex, sum.I10Index)
	}
	if sum.TopTenPercent != 2 || sum.TopOnePercent != 1 {
		t.Errorf("Expected 2 top-10%% and 1 top-1%%, got %d and %d", sum.TopTenPercent, sum.TopOnePercent)
	}
	if sum.IndependenceRatio != 0.7 {
		t.Errorf("Expected independence ratio 0.7, got %v", sum.IndependenceRatio)
	}
	if sum.TranslationalSum != 7 {
		t.Errorf("Expected translational sum 7, got %v", sum.TranslationalSum)
	}
	if sum.FirstYear != 2015 || sum.LastYear != 2021 {
		t.Errorf("Expected years 2015-2021, got %d-%d", sum.FirstYear, sum.LastYear)
	}
	if diff := cmp.Diff(map[string]int{"Medicine": 2}, sum.Fields); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"GB": 1, "US": 1}, sum.Countries); diff != "" {
		t.Errorf("Countries mismatch (-want +got):\n%s", diff)
	}

	for _, typ := range []model.SignalType{
		model.SignalCoverage,
		model.SignalIncompleteData,
		model.SignalSourceConflict,
		model.SignalSelfCitation,
		model.SignalAmbiguity,
		model.SignalHighImpact,
		model.SignalTranslational,
		model.SignalMissingCohort,
	} {
		if findSignal(sum.Signals, typ) == nil {
			t.Errorf("Expected %s signal", typ)
		}
	}
	if findSignal(sum.Signals, model.SignalFieldOutlier) != nil {
		t.Error("Expected no outlier signal")
	}

	missing := findSignal(sum.Signals, model.SignalMissingCohort)
	if diff := cmp.Diff([]string{"pmid:3"}, missing.Data["publications"]); diff != "" {
		t.Errorf("Missing cohort mismatch (-want +got):\n%s", diff)
	}
	inc := findSignal(sum.Signals, model.SignalIncompleteData)
	if inc.Data["timeouts"] != 2 || inc.Data["errors"] != 1 {
		t.Errorf("Unexpected incomplete data: %v", inc.Data)
	}
}

func TestScorer_Calculate_Empty(t *testing.T) {
	sum := NewScorer().Calculate(nil, nil, nil)

	if sum.Publications != 0 || sum.HIndex != 0 || sum.IndependenceRatio != 0 {
		t.Errorf("Expected zero summary, got %+v", sum)
	}
	if len(sum.Signals) != 1 || sum.Signals[0].Type != model.SignalCoverage {
		t.Errorf("Expected only the coverage signal, got %+v", sum.Signals)
	}
}

func TestScorer_Calculate_NoCoverage(t *testing.T) {
	records := []model.PublicationRecord{{Identifier: "10.1/x"}, {Identifier: "10.1/y"}}

	sum := NewScorer().Calculate(records, nil, nil)

	cov := findSignal(sum.Signals, model.SignalCoverage)
	if cov == nil || cov.Severity != model.SeverityCritical {
		t.Fatalf("Expected critical coverage signal, got %+v", cov)
	}
	if findSignal(sum.Signals, model.SignalSelfCitation) != nil {
		t.Error("Expected no self-citation signal without classified citations")
	}
}

func TestScorer_Calculate_SelfCitationSeverity(t *testing.T) {
	records := []model.PublicationRecord{{
		Identifier:   "10.1/x",
		Independence: &model.IndependenceSummary{Independent: 2, Self: 8},
		Audit:        contributed(),
	}}

	sum := NewScorer().Calculate(records, nil, nil)

	sig := findSignal(sum.Signals, model.SignalSelfCitation)
	if sig == nil || sig.Severity != model.SeverityCritical {
		t.Errorf("Expected critical self-citation signal, got %+v", sig)
	}
}
