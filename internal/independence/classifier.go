// Package independence separates self-citations from independent citations.
//
// A citing work is a self-citation when it shares a normalized author name
// with the cited publication, or when one of its affiliations overlaps a cited
// author's affiliation at or above the configured threshold. Names are checked
// first so co-authors who have moved institution are still caught.
package independence

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Rodons/CitationMap/internal/model"
)

// Classifier labels citing works. It is a pure function of its inputs and config.
type Classifier struct {
	cfg model.IndependenceConfig
}

func NewClassifier(cfg model.IndependenceConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

type affiliation struct {
	name   string
	tokens mapset.Set[string]
}

// profile is the cited side of every comparison for one publication
type profile struct {
	names        mapset.Set[string]
	nameList     []string // Deterministic iteration order
	affiliations []affiliation
}

func newProfile(authors []model.Author) profile {
	p := profile{names: mapset.NewThreadUnsafeSet[string]()}
	seenAff := make(map[string]bool)
	for _, a := range authors {
		if n := NormalizeName(a.Name); n != "" && p.names.Add(n) {
			p.nameList = append(p.nameList, n)
		}
		for _, inst := range a.Affiliations() {
			if seenAff[inst] {
				continue
			}
			seenAff[inst] = true
			if tokens := AffiliationTokens(inst); tokens.Cardinality() > 0 {
				p.affiliations = append(p.affiliations, affiliation{name: inst, tokens: tokens})
			}
		}
	}
	return p
}

// ClassifyAll sets Independence on every record
func (c *Classifier) ClassifyAll(records []model.PublicationRecord) {
	for i := range records {
		records[i].Independence = c.Classify(&records[i])
	}
}

// Classify labels every citing work of rec. It returns nil when no citing works are known.
func (c *Classifier) Classify(rec *model.PublicationRecord) *model.IndependenceSummary {
	if len(rec.CitingWorks) == 0 {
		return nil
	}

	cited := newProfile(rec.Authors)
	sum := &model.IndependenceSummary{Citations: make([]model.CitationClass, 0, len(rec.CitingWorks))}
	for _, work := range rec.CitingWorks {
		class := c.classify(cited, work)
		sum.Citations = append(sum.Citations, class)
		if class.Ambiguous {
			sum.Ambiguous++
		}
		if class.Label == model.LabelSelf {
			sum.Self++
		} else {
			sum.Independent++
		}
	}
	if n := sum.Self + sum.Independent; n > 0 {
		sum.Ratio = float64(sum.Independent) / float64(n)
	}
	return sum
}

func (c *Classifier) classify(cited profile, work model.CitingWork) model.CitationClass {
	class := model.CitationClass{CitingID: work.ID}

	var citingNames []string
	for _, a := range work.Authors {
		n := NormalizeName(a.Name)
		if n == "" {
			continue
		}
		if cited.names.Contains(n) {
			class.Label = model.LabelSelf
			class.Reason = model.ReasonNameMatch
			class.Evidence = n
			return class
		}
		citingNames = append(citingNames, n)
	}

	best, evidence := 0.0, ""
	for _, a := range work.Authors {
		for _, inst := range a.Affiliations() {
			tokens := AffiliationTokens(inst)
			for _, aff := range cited.affiliations {
				if o := Overlap(tokens, aff.tokens); o > best {
					best = o
					evidence = fmt.Sprintf("%s ~ %s", inst, aff.name)
				}
			}
		}
	}
	class.Overlap = best

	if best >= c.cfg.AffiliationThreshold {
		class.Label = model.LabelSelf
		class.Reason = model.ReasonAffiliationMatch
		class.Evidence = evidence
		return class
	}

	for _, n := range citingNames {
		for _, m := range cited.nameList {
			if initialsCompatible(n, m) {
				class.Reason = model.ReasonAmbiguousName
				class.Evidence = fmt.Sprintf("%s ~ %s", n, m)
				return c.ambiguous(class)
			}
		}
	}

	if best > 0 && best >= c.cfg.AmbiguityFloor {
		class.Reason = model.ReasonAmbiguousAffilation
		class.Evidence = evidence
		return c.ambiguous(class)
	}

	class.Label = model.LabelIndependent
	class.Reason = model.ReasonNoOverlap
	return class
}

func (c *Classifier) ambiguous(class model.CitationClass) model.CitationClass {
	class.Ambiguous = true
	if c.cfg.AmbiguousAs == model.AmbiguousAsSelf {
		class.Label = model.LabelSelf
	} else {
		class.Label = model.LabelIndependent
	}
	return class
}
