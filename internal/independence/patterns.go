package independence

import (
	"sort"

	"github.com/Rodons/CitationMap/internal/model"
)

const unknownField = "Unknown"

// Patterns aggregates classified records into the portfolio independence report.
// Ratios use classified citing works, not the reported citation count.
func Patterns(records []model.PublicationRecord, cfg model.IndependenceConfig) *model.IndependencePatterns {
	p := &model.IndependencePatterns{
		ByField: make(map[string]model.FieldPattern),
		ByYear:  make(map[int]model.FieldPattern),
	}

	for _, rec := range records {
		field := rec.PrimaryField()
		if field == "" {
			field = unknownField
		}
		fp := p.ByField[field]
		fp.Papers++

		var yp model.FieldPattern
		if rec.Year != nil {
			yp = p.ByYear[*rec.Year]
			yp.Papers++
		}

		if s := rec.Independence; s != nil {
			n := s.Self + s.Independent
			p.Independent += s.Independent
			p.Self += s.Self
			p.Ambiguous += s.Ambiguous

			add(&fp, s)
			add(&yp, s)

			if n > cfg.MinCitations {
				if s.Ratio > cfg.HighIndependence {
					p.HighlyIndependent = append(p.HighlyIndependent, rec.Identifier)
				}
				if float64(s.Self)/float64(n) > cfg.HighSelfCitation {
					p.HighSelfCitation = append(p.HighSelfCitation, rec.Identifier)
				}
			}
		}

		p.ByField[field] = rates(fp)
		if rec.Year != nil {
			p.ByYear[*rec.Year] = rates(yp)
		}
	}

	if n := p.Independent + p.Self; n > 0 {
		p.Ratio = float64(p.Independent) / float64(n)
	}
	sort.Strings(p.HighlyIndependent)
	sort.Strings(p.HighSelfCitation)
	return p
}

func add(fp *model.FieldPattern, s *model.IndependenceSummary) {
	fp.Citations += s.Self + s.Independent
	fp.Independent += s.Independent
	fp.Self += s.Self
}

func rates(fp model.FieldPattern) model.FieldPattern {
	fp.IndependenceRate, fp.SelfRate = 0, 0
	if fp.Citations > 0 {
		fp.IndependenceRate = float64(fp.Independent) / float64(fp.Citations)
		fp.SelfRate = float64(fp.Self) / float64(fp.Citations)
	}
	return fp
}
