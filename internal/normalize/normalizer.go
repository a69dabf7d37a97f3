package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/worker"
)

// Normalizer computes field percentiles by trying cohort providers in order
type Normalizer struct {
	providers []Provider
	window    int

	group   singleflight.Group
	mu      sync.Mutex
	cohorts map[string]*model.Cohort // nil value: no provider had one
}

func New(cfg model.NormalizeConfig, providers ...Provider) *Normalizer {
	return &Normalizer{
		providers: providers,
		window:    cfg.YearWindow,
		cohorts:   make(map[string]*model.Cohort),
	}
}

// AnnotateAll sets FieldPercentile on every record, using up to workers lookups at once.
// It returns one incomplete entry per record and provider whose lookup ctx cut off.
func (n *Normalizer) AnnotateAll(ctx context.Context, records []model.PublicationRecord, workers int) []model.IncompleteSource {
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	results := worker.Map(ctx, workers, idx, func(ctx context.Context, i int) []model.IncompleteSource {
		return n.Annotate(ctx, &records[i])
	})

	var cut []model.IncompleteSource
	for _, r := range results {
		cut = append(cut, r...)
	}
	return cut
}

// Annotate sets the most favourable field percentile of a record.
// Records without a year, a citation count, or any field with a cohort get none.
// In-memory providers still answer once ctx is done; the lookups ctx cut off
// are returned.
func (n *Normalizer) Annotate(ctx context.Context, rec *model.PublicationRecord) []model.IncompleteSource {
	rec.FieldPercentile = nil
	if rec.Year == nil || rec.CitationCount == nil || len(rec.Fields) == 0 {
		return nil
	}

	var (
		best       *model.FieldPercentile
		candidates []model.FieldCandidate
		cut        []model.IncompleteSource
		seen       = make(map[string]bool)
	)
	for _, field := range rec.Fields {
		cohort, skipped := n.cohort(ctx, field, *rec.Year)
		for _, name := range skipped {
			if seen[name] {
				continue
			}
			seen[name] = true
			cut = append(cut, model.IncompleteSource{
				Identifier: rec.Identifier,
				Source:     model.SourceName(name),
				Reason:     model.ReasonCohortTimeout,
				Detail:     fmt.Sprintf("cohort %s %d: %v", field.Label, *rec.Year, ctx.Err()),
			})
		}
		if cohort == nil {
			continue
		}
		p, ok := Percentile(*rec.CitationCount, cohort)
		if !ok {
			continue
		}

		c := model.FieldCandidate{
			Field:        field.Label,
			Percentile:   p,
			CohortSize:   cohort.Size(),
			CohortSource: cohort.Source,
		}
		candidates = append(candidates, c)
		if best == nil || p > best.Percentile {
			best = &model.FieldPercentile{
				Field:        c.Field,
				Year:         *rec.Year,
				Percentile:   c.Percentile,
				CohortSize:   c.CohortSize,
				CohortSource: c.CohortSource,
			}
		}
	}

	if best != nil {
		best.Candidates = candidates
		rec.FieldPercentile = best
	}
	return cut
}

// lookupResult is the outcome of one shared cohort lookup
type lookupResult struct {
	cohort  *model.Cohort
	skipped []string // Providers cut off by the context
}

// cohort returns the first distribution any provider has for field and year,
// and the providers that were skipped because ctx ended
func (n *Normalizer) cohort(ctx context.Context, field model.Field, year int) (*model.Cohort, []string) {
	key := fmt.Sprintf("%s|%s|%d", field.ID, fieldKey(field.Label), year)

	if cached, ok := n.lookup(key); ok {
		return cached, nil
	}

	v, _, _ := n.group.Do(key, func() (interface{}, error) {
		if cached, ok := n.lookup(key); ok {
			return lookupResult{cohort: cached}, nil
		}
		var res lookupResult
		for _, p := range n.providers {
			cohort, err := ask(ctx, p, field, year, n.window)
			if err == nil {
				res.cohort = cohort
				break
			}
			if ctx.Err() != nil {
				res.skipped = append(res.skipped, p.Name())
				continue
			}
			if !errors.Is(err, ErrNoCohort) {
				log.WithFields(log.Fields{
					"provider": p.Name(),
					"field":    field.Label,
					"year":     year,
				}).WithError(err).Warn("cohort lookup failed")
			}
		}
		// Lookups with skipped providers are not cached
		if len(res.skipped) == 0 {
			n.store(key, res.cohort)
		}
		return res, nil
	})
	res := v.(lookupResult)
	return res.cohort, res.skipped
}

// inMemory marks providers that answer without I/O
type inMemory interface {
	inMemory()
}

// ask queries one provider. Providers doing I/O are not called once ctx is done,
// and a call in flight is abandoned when ctx ends.
func ask(ctx context.Context, p Provider, field model.Field, year, window int) (*model.Cohort, error) {
	if _, ok := p.(inMemory); ok {
		return p.Cohort(ctx, field, year, window)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type answer struct {
		cohort *model.Cohort
		err    error
	}
	ch := make(chan answer, 1)
	go func() {
		c, err := p.Cohort(ctx, field, year, window)
		ch <- answer{c, err}
	}()

	select {
	case a := <-ch:
		return a.cohort, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Normalizer) lookup(key string) (*model.Cohort, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cohort, ok := n.cohorts[key]
	return cohort, ok
}

func (n *Normalizer) store(key string, cohort *model.Cohort) {
	n.mu.Lock()
	n.cohorts[key] = cohort
	n.mu.Unlock()
}

// FlagOutliers sets citation z-scores within each primary field and marks records
// whose |z| exceeds threshold. Fields with fewer than three counted papers are skipped.
// It returns the outlier identifiers per field.
func FlagOutliers(records []model.PublicationRecord, threshold float64) map[string][]string {
	groups := make(map[string][]int)
	for i := range records {
		records[i].CitationZScore = nil
		records[i].FieldOutlier = false
		field := records[i].PrimaryField()
		if field == "" || records[i].CitationCount == nil {
			continue
		}
		groups[field] = append(groups[field], i)
	}

	outliers := make(map[string][]string)
	for field, members := range groups {
		if len(members) < 3 {
			continue
		}

		var sum float64
		for _, i := range members {
			sum += float64(*records[i].CitationCount)
		}
		mean := sum / float64(len(members))

		var sq float64
		for _, i := range members {
			d := float64(*records[i].CitationCount) - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(len(members)))

		for _, i := range members {
			z := 0.0
			if std > 0 {
				z = (float64(*records[i].CitationCount) - mean) / std
			}
			records[i].CitationZScore = &z
			if math.Abs(z) > threshold {
				records[i].FieldOutlier = true
				outliers[field] = append(outliers[field], records[i].Identifier)
			}
		}
		sort.Strings(outliers[field])
	}
	return outliers
}
