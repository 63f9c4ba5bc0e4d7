package color

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// Keyword is one weighted vocabulary entry.
type Keyword struct {
	Term   string
	Weight float64
}

// KeywordMatcher scores text against a weighted color vocabulary in one
// pass. Terms match whole words only: "plum" does not hit "plumbing".
type KeywordMatcher struct {
	matcher *ahocorasick.Matcher
	terms   []string
	weights []float64
}

// NewKeywordMatcher builds the automaton. Blank terms and non-positive
// weights are dropped; duplicate terms keep the highest weight.
func NewKeywordMatcher(vocabulary []Keyword) *KeywordMatcher {
	best := map[string]float64{}
	for _, kw := range vocabulary {
		term := normalizeText(kw.Term)
		if term == "" || kw.Weight <= 0 {
			continue
		}
		if kw.Weight > best[term] {
			best[term] = clamp01(kw.Weight)
		}
	}

	terms := make([]string, 0, len(best))
	for term := range best {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	m := &KeywordMatcher{terms: terms, weights: make([]float64, len(terms))}
	padded := make([]string, len(terms))
	for i, term := range terms {
		m.weights[i] = best[term]
		padded[i] = " " + term + " "
	}
	if len(padded) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(padded)
	}
	return m
}

// KeywordResult is the outcome of matching one item.
type KeywordResult struct {
	Score float64
	// Matched lists matched terms in vocabulary order.
	Matched []string
}

// Score matches title and description. Title hits count at full weight,
// description-only hits at half, combined as 1 - Π(1 - w).
func (m *KeywordMatcher) Score(title, description string) KeywordResult {
	if m == nil || m.matcher == nil {
		return KeywordResult{}
	}

	inTitle := m.hits(title)
	inDesc := m.hits(description)

	miss := 1.0
	var matched []string
	for i, term := range m.terms {
		var w float64
		switch {
		case inTitle[i]:
			w = m.weights[i]
		case inDesc[i]:
			w = m.weights[i] / 2
		default:
			continue
		}
		miss *= 1 - w
		matched = append(matched, term)
	}
	return KeywordResult{Score: clamp01(1 - miss), Matched: matched}
}

// hits matches the text twice: once with hyphens kept so hyphenated terms
// match, once with hyphens as word breaks so "plum-colored" yields "plum".
func (m *KeywordMatcher) hits(text string) map[int]bool {
	text = normalizeText(text)
	if text == "" {
		return nil
	}
	found := map[int]bool{}
	forms := []string{text}
	if split := splitHyphens(text); split != text {
		forms = append(forms, split)
	}
	for _, form := range forms {
		for _, idx := range m.matcher.Match([]byte(" " + form + " ")) {
			found[idx] = true
		}
	}
	return found
}

func splitHyphens(s string) string {
	if !strings.Contains(s, "-") {
		return s
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "-", " ")), " ")
}

// normalizeText lowercases and turns everything but letters, digits and
// inner hyphens into single spaces.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
