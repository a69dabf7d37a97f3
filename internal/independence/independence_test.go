package independence

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/Rodons/CitationMap/internal/model"
)

func author(name string, affs ...string) model.Author {
	a := model.Author{Name: name}
	for _, aff := range affs {
		a.Institutions = append(a.Institutions, model.Institution{Name: aff})
	}
	return a
}

func defaultClassifier() *Classifier {
	return NewClassifier(model.DefaultConfig().Independence)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"John Smith", "john smith"},
		{"  JOHN   SMITH ", "john smith"},
		{"Smith, John A.", "john a smith"},
		{"Dr. John A. Smith Jr.", "john a smith"},
		{"John Smith, Jr.", "john smith"},
		{"José Müller", "jose muller"},
		{"J. Smith", "j smith"},
		{"Jean-Pierre Dupont", "jean pierre dupont"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInitialsCompatible(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"j smith", "john smith", true},
		{"john a smith", "j a smith", true},
		{"j smith", "j smith", false}, // Exact, not fuzzy
		{"j smith", "john smyth", false},
		{"k smith", "john smith", false},
		{"smith", "smith", false},
		{"j smith", "john a smith", false},
	}
	for _, tt := range tests {
		if got := initialsCompatible(tt.a, tt.b); got != tt.want {
			t.Errorf("initialsCompatible(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAffiliationOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Massachusetts Institute of Technology", "MIT", 0},
		{"University of Oxford", "Oxford University Hospitals", 1},
		{"Department of Medicine, Harvard University", "Harvard Medical School", 1},
		{"Stanford University School of Medicine", "Harvard Medical School", 0},
		{"Karolinska Institutet, Stockholm", "Karolinska University Hospital", 1},
		{"Medical School", "Medical School", 1},
	}
	for _, tt := range tests {
		got := Overlap(AffiliationTokens(tt.a), AffiliationTokens(tt.b))
		if got != tt.want {
			t.Errorf("Overlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if got := Overlap(mapset.NewThreadUnsafeSet[string](), AffiliationTokens("Oxford")); got != 0 {
		t.Errorf("Expected 0 overlap with empty set, got %v", got)
	}
}

func TestClassifySameNameSameAffiliation(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors:     []model.Author{author("J. Smith", "MIT")},
		CitingWorks: []model.CitingWork{{ID: "W1", Authors: []model.Author{author("J. Smith", "MIT")}}},
	}

	sum := defaultClassifier().Classify(rec)
	if sum.Self != 1 || sum.Independent != 0 {
		t.Fatalf("Expected one self-citation, got %+v", sum)
	}
	if sum.Citations[0].Reason != model.ReasonNameMatch {
		t.Errorf("Expected name match, got %s", sum.Citations[0].Reason)
	}
}

func TestClassifyMovedAuthorIsSelfByName(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors:     []model.Author{author("J. Smith", "MIT")},
		CitingWorks: []model.CitingWork{{ID: "W1", Authors: []model.Author{author("J. Smith", "Stanford University")}}},
	}

	sum := defaultClassifier().Classify(rec)
	got := sum.Citations[0]
	if got.Label != model.LabelSelf || got.Reason != model.ReasonNameMatch {
		t.Errorf("Expected self by name, got %+v", got)
	}
}

func TestClassifyAffiliationMatch(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors:     []model.Author{author("Alice Jones", "University of Oxford")},
		CitingWorks: []model.CitingWork{{ID: "W1", Authors: []model.Author{author("Bob Brown", "Oxford University Hospitals")}}},
	}

	got := defaultClassifier().Classify(rec).Citations[0]
	if got.Label != model.LabelSelf || got.Reason != model.ReasonAffiliationMatch {
		t.Errorf("Expected self by affiliation, got %+v", got)
	}
	if got.Overlap != 1 {
		t.Errorf("Expected overlap 1, got %v", got.Overlap)
	}
}

func TestClassifyIndependent(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors:     []model.Author{author("Alice Jones", "University of Oxford")},
		CitingWorks: []model.CitingWork{{ID: "W1", Authors: []model.Author{author("Bob Brown", "Kyoto University")}}},
	}

	sum := defaultClassifier().Classify(rec)
	got := sum.Citations[0]
	if got.Label != model.LabelIndependent || got.Reason != model.ReasonNoOverlap || got.Ambiguous {
		t.Errorf("Expected plain independent, got %+v", got)
	}
	if sum.Ratio != 1 {
		t.Errorf("Expected ratio 1, got %v", sum.Ratio)
	}
}

func TestClassifyAmbiguityPolicy(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors: []model.Author{
			author("John Smith", "Imperial College London"),
			author("Pierre Martin", "Universite Paris Cite"),
		},
		CitingWorks: []model.CitingWork{
			{ID: "W1", Authors: []model.Author{author("J. Smith", "Kyoto University")}},
			// {paris, saclay} vs {paris, cite}: overlap 0.5
			{ID: "W2", Authors: []model.Author{author("Marie Curie", "Universite Paris Saclay")}},
		},
	}

	tests := []struct {
		policy    string
		wantLabel model.CitationLabel
		wantRatio float64
	}{
		{model.AmbiguousAsIndependent, model.LabelIndependent, 1},
		{model.AmbiguousAsSelf, model.LabelSelf, 0},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := model.DefaultConfig().Independence
			cfg.AmbiguousAs = tt.policy

			sum := NewClassifier(cfg).Classify(rec)
			if sum.Ambiguous != 2 {
				t.Fatalf("Expected 2 ambiguous citations, got %+v", sum)
			}
			reasons := []model.MatchReason{sum.Citations[0].Reason, sum.Citations[1].Reason}
			want := []model.MatchReason{model.ReasonAmbiguousName, model.ReasonAmbiguousAffilation}
			if diff := cmp.Diff(want, reasons); diff != "" {
				t.Errorf("Reasons mismatch (-want +got):\n%s", diff)
			}
			for _, c := range sum.Citations {
				if c.Label != tt.wantLabel {
					t.Errorf("Expected %s, got %s for %s", tt.wantLabel, c.Label, c.CitingID)
				}
			}
			if sum.Ratio != tt.wantRatio {
				t.Errorf("Expected ratio %v, got %v", tt.wantRatio, sum.Ratio)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	rec := &model.PublicationRecord{
		Authors: []model.Author{author("Ann Lee", "Seoul National University"), author("Tom Park", "KAIST")},
		CitingWorks: []model.CitingWork{
			{ID: "W1", Authors: []model.Author{author("A. Lee", "Yonsei University")}},
			{ID: "W2", Authors: []model.Author{author("Tom Park", "Yonsei University")}},
			{ID: "W3", Authors: []model.Author{author("Kim Cho", "Seoul National University Hospital")}},
			{ID: "W4", Authors: []model.Author{author("Zed Zulu")}},
		},
	}

	c := defaultClassifier()
	first := c.Classify(rec)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, c.Classify(rec)); diff != "" {
			t.Fatalf("Classification changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestClassifyWithoutCitingWorks(t *testing.T) {
	if sum := defaultClassifier().Classify(&model.PublicationRecord{}); sum != nil {
		t.Errorf("Expected nil summary, got %+v", sum)
	}
}

func TestPatterns(t *testing.T) {
	y2020, y2021 := 2020, 2021
	med := []model.Field{{Label: "Medicine", Score: 1}}
	records := []model.PublicationRecord{
		{Identifier: "a", Year: &y2020, Fields: med, Independence: &model.IndependenceSummary{Independent: 9, Self: 1, Ratio: 0.9}},
		{Identifier: "b", Year: &y2020, Fields: med, Independence: &model.IndependenceSummary{Independent: 2, Self: 6, Ambiguous: 1, Ratio: 0.25}},
		{Identifier: "c", Year: &y2021, Independence: &model.IndependenceSummary{Independent: 3, Self: 0, Ratio: 1}},
		{Identifier: "d"},
	}

	p := Patterns(records, model.DefaultConfig().Independence)

	if p.Independent != 14 || p.Self != 7 || p.Ambiguous != 1 {
		t.Errorf("Unexpected totals %+v", p)
	}
	if p.Ratio != 14.0/21.0 {
		t.Errorf("Expected ratio 14/21, got %v", p.Ratio)
	}

	wantMed := model.FieldPattern{Papers: 2, Citations: 18, Independent: 11, Self: 7, IndependenceRate: 11.0 / 18.0, SelfRate: 7.0 / 18.0}
	if diff := cmp.Diff(wantMed, p.ByField["Medicine"]); diff != "" {
		t.Errorf("Medicine pattern mismatch (-want +got):\n%s", diff)
	}
	if got := p.ByField[unknownField].Papers; got != 2 {
		t.Errorf("Expected 2 papers without field, got %d", got)
	}
	if got := p.ByYear[2020].Citations; got != 18 {
		t.Errorf("Expected 18 citations in 2020, got %d", got)
	}
	if _, ok := p.ByYear[0]; ok {
		t.Error("Records without a year should not create a year bucket")
	}

	if diff := cmp.Diff([]string{"a"}, p.HighlyIndependent); diff != "" {
		t.Errorf("HighlyIndependent mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, p.HighSelfCitation); diff != "" {
		t.Errorf("HighSelfCitation mismatch (-want +got):\n%s", diff)
	}
}
