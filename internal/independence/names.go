package independence

import (
	"strings"
	"unicode"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	namePrefixes = map[string]bool{"dr": true, "prof": true, "mr": true, "ms": true, "mrs": true}
	nameSuffixes = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "phd": true, "md": true}

	// Words that say what kind of institution it is, not which one
	genericWords = mapset.NewSet(
		"university", "universidad", "universite", "universitat", "college", "institute", "institut",
		"school", "center", "centre", "hospital", "medical", "health", "system", "dept", "department",
		"faculty", "division", "laboratory", "lab", "research", "sciences", "science", "national",
		"of", "the", "and", "for", "de", "at", "in", "la", "du", "der", "fur",
	)
	stopWords = mapset.NewSet("of", "the", "and", "for", "de", "at", "in", "la", "du", "der", "fur")
)

// fold lowercases, strips diacritics and canonicalizes unicode
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// words splits on anything that is not a letter or digit
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeName folds an author name into "first middle last" tokens.
// "Smith, John A." and "Dr. John A. Smith Jr." both become "john a smith".
func NormalizeName(name string) string {
	s := fold(strings.TrimSpace(name))
	if last, first, ok := strings.Cut(s, ","); ok && !strings.Contains(first, ",") {
		if f := strings.TrimSpace(first); f != "" && !nameSuffixes[strings.Trim(f, ". ")] {
			s = f + " " + last
		}
	}

	tokens := words(s)
	for len(tokens) > 0 && namePrefixes[tokens[0]] {
		tokens = tokens[1:]
	}
	for len(tokens) > 1 && nameSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// initialsCompatible reports whether two different normalized names could be the
// same person written with initials: same token count and surname, every other
// token either equal or an initial of its counterpart.
func initialsCompatible(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) != len(tb) || len(ta) < 2 {
		return false
	}
	if ta[len(ta)-1] != tb[len(tb)-1] {
		return false
	}
	for i := 0; i < len(ta)-1; i++ {
		x, y := ta[i], tb[i]
		switch {
		case x == y:
		case len([]rune(x)) == 1 && strings.HasPrefix(y, x):
		case len([]rune(y)) == 1 && strings.HasPrefix(x, y):
		default:
			return false
		}
	}
	return true
}

// AffiliationTokens returns the identifying words of an institution name
func AffiliationTokens(name string) mapset.Set[string] {
	all := words(fold(name))
	tokens := mapset.NewThreadUnsafeSet[string]()
	for _, w := range all {
		if !genericWords.Contains(w) {
			tokens.Add(w)
		}
	}
	if tokens.Cardinality() == 0 {
		// Only generic words ("Medical School"): compare them as they are
		for _, w := range all {
			if !stopWords.Contains(w) {
				tokens.Add(w)
			}
		}
	}
	return tokens
}

// Overlap is the overlap coefficient |A∩B| / min(|A|,|B|); 0 when either is empty
func Overlap(a, b mapset.Set[string]) float64 {
	small := a.Cardinality()
	if b.Cardinality() < small {
		small = b.Cardinality()
	}
	if small == 0 {
		return 0
	}
	return float64(a.Intersect(b).Cardinality()) / float64(small)
}
