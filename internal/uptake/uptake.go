// Package uptake aggregates downstream mentions of publications in patents,
// clinical trials and guidelines into a weighted translational score.
package uptake

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
)

// Trend labels
const (
	TrendIncreasing   = "increasing"
	TrendDecreasing   = "decreasing"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// Aggregator scores uptake with configured per-type weights
type Aggregator struct {
	cfg model.UptakeConfig
}

func NewAggregator(cfg model.UptakeConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

type mentionKey struct {
	typ model.MentionType
	id  string
}

// Dedupe drops repeated (type, source record id) pairs, keeping the first occurrence.
// Mentions without a source record id cannot be deduplicated and are dropped.
func Dedupe(mentions []model.UptakeMention) []model.UptakeMention {
	seen := mapset.NewThreadUnsafeSet[mentionKey]()
	out := make([]model.UptakeMention, 0, len(mentions))
	for _, m := range mentions {
		id := strings.TrimSpace(m.SourceRecordID)
		if id == "" {
			log.WithFields(log.Fields{
				"id":     m.PublicationID,
				"source": m.Source,
				"type":   m.Type,
			}).Debug("mention without source record id dropped")
			continue
		}
		if seen.Add(mentionKey{typ: m.Type, id: id}) {
			out = append(out, m)
		}
	}
	return out
}

// SummarizeAll sets Uptake on every record
func (a *Aggregator) SummarizeAll(records []model.PublicationRecord) {
	for i := range records {
		records[i].Uptake = a.Summarize(&records[i])
	}
}

// Summarize counts deduplicated mentions of rec and scores them
func (a *Aggregator) Summarize(rec *model.PublicationRecord) *model.UptakeSummary {
	sum := &model.UptakeSummary{Counts: make(map[model.MentionType]int, len(model.MentionTypes))}
	for _, t := range model.MentionTypes {
		sum.Counts[t] = 0
	}

	var lagTotal, lagN int
	for _, m := range Dedupe(rec.Mentions) {
		sum.Counts[m.Type]++
		if rec.Year != nil && m.Year > 0 {
			if lag := m.Year - *rec.Year; lag >= 0 {
				lagTotal += lag
				lagN++
			}
		}
	}

	for _, t := range model.MentionTypes {
		sum.Score += a.cfg.Weight(t) * float64(sum.Counts[t])
	}
	if lagN > 0 {
		mean := float64(lagTotal) / float64(lagN)
		sum.MeanYearsToUptake = &mean
	}
	sum.Breakthrough = sum.Score > 0 && sum.Score >= a.cfg.BreakthroughThreshold
	return sum
}

// Trend builds the portfolio uptake timeline from records already summarized
func (a *Aggregator) Trend(records []model.PublicationRecord) *model.UptakeTrend {
	trend := &model.UptakeTrend{ByYear: make(map[int]int)}
	for _, rec := range records {
		for _, m := range Dedupe(rec.Mentions) {
			if m.Year > 0 {
				trend.ByYear[m.Year]++
			}
		}
		if rec.Uptake != nil && rec.Uptake.Breakthrough {
			trend.Breakthroughs = append(trend.Breakthroughs, rec.Identifier)
		}
	}
	sort.Strings(trend.Breakthroughs)
	trend.Trend = growth(trend.ByYear)
	return trend
}

// growth compares the mean of the most recent years against the earliest ones.
// Years between the first and last mention count as zero.
func growth(byYear map[int]int) string {
	if len(byYear) < 2 {
		return TrendInsufficient
	}

	first, last := 0, 0
	for y := range byYear {
		if first == 0 || y < first {
			first = y
		}
		if y > last {
			last = y
		}
	}
	counts := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		counts = append(counts, byYear[y])
	}

	k := len(counts) / 2
	if k > 3 {
		k = 3
	}
	early := mean(counts[:k])
	recent := mean(counts[len(counts)-k:])

	switch {
	case recent > early*1.2:
		return TrendIncreasing
	case recent < early*0.8:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func mean(xs []int) float64 {
	total := 0
	for _, x := range xs {
		total += x
	}
	return float64(total) / float64(len(xs))
}
