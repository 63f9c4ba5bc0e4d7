package usecase

import (
	"PlumFinder/internal/color"
	"PlumFinder/internal/domain"
)

// Excluder drops listings whose title or category names an exclusion term.
// Matching is whole-word and case-insensitive.
type Excluder struct {
	matcher *color.KeywordMatcher
}

// NewExcluder builds the matcher; an empty list excludes nothing.
func NewExcluder(terms []string) *Excluder {
	vocab := make([]color.Keyword, 0, len(terms))
	for _, t := range terms {
		vocab = append(vocab, color.Keyword{Term: t, Weight: 1})
	}
	return &Excluder{matcher: color.NewKeywordMatcher(vocab)}
}

// Match returns the exclusion terms the item hits.
func (e *Excluder) Match(item domain.NormalizedItem) []string {
	if e == nil {
		return nil
	}
	return e.matcher.Score(item.Title, item.Category).Matched
}

// Filter splits items into kept and excluded, preserving order.
func (e *Excluder) Filter(items []domain.NormalizedItem) (kept, excluded []domain.NormalizedItem) {
	kept = make([]domain.NormalizedItem, 0, len(items))
	for _, item := range items {
		if len(e.Match(item)) > 0 {
			excluded = append(excluded, item)
			continue
		}
		kept = append(kept, item)
	}
	return kept, excluded
}
