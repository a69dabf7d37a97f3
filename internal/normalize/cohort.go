package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/source"
)

// ErrNoCohort means a provider has no distribution for the field and year
var ErrNoCohort = errors.New("no reference cohort")

// Provider supplies reference citation distributions
type Provider interface {
	Name() string
	Cohort(ctx context.Context, field model.Field, year, window int) (*model.Cohort, error)
}

// fieldKey folds case and whitespace. Casers are stateful, so one is made per call.
func fieldKey(label string) string {
	return cases.Fold().String(strings.Join(strings.Fields(label), " "))
}

// FileProvider serves cohorts from a local YAML or JSON file
type FileProvider struct {
	path    string
	cohorts map[string]map[int][]model.CohortBin // field key -> year -> bins
}

type cohortFile struct {
	Cohorts []cohortEntry `yaml:"cohorts"`
}

type cohortEntry struct {
	Field  string            `yaml:"field"`
	Year   int               `yaml:"year"`
	Bins   []model.CohortBin `yaml:"bins"`
	Counts []int             `yaml:"counts"` // Raw per-paper citation counts
}

// LoadFile reads a cohort file. JSON files parse as YAML.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort file: %w", err)
	}
	p, err := ParseCohorts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.path = path
	return p, nil
}

// ParseCohorts builds a FileProvider from file contents
func ParseCohorts(data []byte) (*FileProvider, error) {
	var f cohortFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse cohort file: %w", err)
	}

	p := &FileProvider{cohorts: make(map[string]map[int][]model.CohortBin)}
	for i, e := range f.Cohorts {
		if strings.TrimSpace(e.Field) == "" || e.Year == 0 {
			return nil, fmt.Errorf("cohort %d: field and year are required", i)
		}
		bins := append([]model.CohortBin(nil), e.Bins...)
		for _, c := range e.Counts {
			bins = append(bins, model.CohortBin{Citations: c, Count: 1})
		}
		for _, b := range bins {
			if b.Citations < 0 || b.Count < 0 {
				return nil, fmt.Errorf("cohort %d (%s %d): negative bin", i, e.Field, e.Year)
			}
		}

		key := fieldKey(e.Field)
		if p.cohorts[key] == nil {
			p.cohorts[key] = make(map[int][]model.CohortBin)
		}
		p.cohorts[key][e.Year] = append(p.cohorts[key][e.Year], bins...)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) inMemory() {}

// Cohort pools every year within the window for the field label
func (p *FileProvider) Cohort(_ context.Context, field model.Field, year, window int) (*model.Cohort, error) {
	years, ok := p.cohorts[fieldKey(field.Label)]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", field.Label, year, ErrNoCohort)
	}

	var bins []model.CohortBin
	for y := year - window; y <= year+window; y++ {
		bins = append(bins, years[y]...)
	}
	cohort := &model.Cohort{Field: field.Label, Year: year, Source: p.Name(), Bins: mergeBins(bins)}
	if cohort.Size() == 0 {
		return nil, fmt.Errorf("%s %d: %w", field.Label, year, ErrNoCohort)
	}
	return cohort, nil
}

type cohortSource interface {
	Cohort(ctx context.Context, field model.Field, year, window int) (*model.Cohort, error)
}

// OpenAlexProvider asks OpenAlex for the citation distribution of a concept
type OpenAlexProvider struct {
	src cohortSource
}

func NewOpenAlexProvider(src cohortSource) *OpenAlexProvider {
	return &OpenAlexProvider{src: src}
}

func (p *OpenAlexProvider) Name() string { return string(model.SourceOpenAlex) }

func (p *OpenAlexProvider) Cohort(ctx context.Context, field model.Field, year, window int) (*model.Cohort, error) {
	cohort, err := p.src.Cohort(ctx, field, year, window)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return nil, fmt.Errorf("%v: %w", err, ErrNoCohort)
		}
		return nil, err
	}
	return cohort, nil
}

// RunProvider builds cohorts from the publications of the current run.
// It is the last resort when no external distribution exists.
type RunProvider struct {
	minSize int
	counts  map[string]map[int][]int // field key -> year -> citation counts
}

// NewRunProvider indexes every declared field of every record with a year
// and citation count. Cohorts smaller than minSize are not served.
func NewRunProvider(records []model.PublicationRecord, minSize int) *RunProvider {
	p := &RunProvider{minSize: minSize, counts: make(map[string]map[int][]int)}
	for _, rec := range records {
		if rec.Year == nil || rec.CitationCount == nil {
			continue
		}
		seen := make(map[string]bool)
		for _, f := range rec.Fields {
			key := fieldKey(f.Label)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if p.counts[key] == nil {
				p.counts[key] = make(map[int][]int)
			}
			p.counts[key][*rec.Year] = append(p.counts[key][*rec.Year], *rec.CitationCount)
		}
	}
	return p
}

func (p *RunProvider) Name() string { return "run" }

func (p *RunProvider) inMemory() {}

func (p *RunProvider) Cohort(_ context.Context, field model.Field, year, window int) (*model.Cohort, error) {
	var bins []model.CohortBin
	for y := year - window; y <= year+window; y++ {
		for _, c := range p.counts[fieldKey(field.Label)][y] {
			bins = append(bins, model.CohortBin{Citations: c, Count: 1})
		}
	}
	cohort := &model.Cohort{Field: field.Label, Year: year, Source: p.Name(), Bins: mergeBins(bins)}
	if n := cohort.Size(); n == 0 || n < p.minSize {
		return nil, fmt.Errorf("%s %d: %d papers in run: %w", field.Label, year, n, ErrNoCohort)
	}
	return cohort, nil
}

// mergeBins sums counts per citation value and sorts ascending
func mergeBins(bins []model.CohortBin) []model.CohortBin {
	sums := make(map[int]int)
	for _, b := range bins {
		if b.Count > 0 {
			sums[b.Citations] += b.Count
		}
	}
	out := make([]model.CohortBin, 0, len(sums))
	for c, n := range sums {
		out = append(out, model.CohortBin{Citations: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Citations < out[j].Citations })
	return out
}
