// Package normalize places publications within reference citation cohorts
// for their field and publication year.
package normalize

import "github.com/Rodons/CitationMap/internal/model"

// Percentile returns the percentile rank of count within cohort.
//
// Ties are resolved by averaging rank: papers strictly below count fully,
// papers equal to count are split around it. The result is clamped to [0,100].
// The second return value is false when the cohort is empty.
func Percentile(count int, cohort *model.Cohort) (float64, bool) {
	if cohort == nil {
		return 0, false
	}

	n, below, atOrBelow := 0, 0, 0
	for _, b := range cohort.Bins {
		if b.Count <= 0 {
			continue
		}
		n += b.Count
		if b.Citations < count {
			below += b.Count
		}
		if b.Citations <= count {
			atOrBelow += b.Count
		}
	}

	if n == 0 {
		return 0, false
	}

	tie := 0
	if atOrBelow > below {
		tie = 1
	}
	return clamp((float64(below+atOrBelow+tie) * 50.0) / float64(n)), true
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
