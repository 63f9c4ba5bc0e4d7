package marketplace

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PlumFinder/internal/domain"
)

var (
	priceExpr   = regexp.MustCompile(`\$?\s*([\d,]+(?:\.\d+)?)`)
	shipPhrases = []string{"ship", "ships", "shipped", "shipping", "mail", "deliver", "usps", "fedex", "ups"}
)

// parsePrice extracts the first amount from text like "$1,250" or
// "$12.50 to $20.00". Text without digits yields nil.
func parsePrice(text string) *float64 {
	match := priceExpr.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &value
}

func mentionsShipping(text string) bool {
	text = strings.ToLower(text)
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for _, phrase := range shipPhrases {
			if word == phrase {
				return true
			}
		}
	}
	return false
}

func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func distanceFromText(gaz *domain.Gazetteer, location string) *float64 {
	if d, ok := gaz.DistanceFor(location); ok {
		return &d
	}
	return nil
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// cardListing is what a results card or an embedded JSON record yields on
// the scrape-only marketplaces.
type cardListing struct {
	ID       string
	Title    string
	URL      string
	Price    string
	Location string
	Image    string
}

// listingSet keeps the first listing per id, or per URL when the id is
// unknown, in discovery order.
type listingSet struct {
	seen  map[string]struct{}
	items []cardListing
}

func (s *listingSet) add(l cardListing) {
	key := l.ID
	if key == "" {
		key = l.URL
	}
	if s.seen == nil {
		s.seen = map[string]struct{}{}
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, l)
}

func (s *listingSet) raw(sourceName string) []domain.RawListing {
	out := make([]domain.RawListing, 0, len(s.items))
	for _, l := range s.items {
		out = append(out, domain.RawListing{Source: sourceName, Mode: domain.ModeScrape, Payload: l})
	}
	return out
}

// cardLink returns sel itself when it is a matching anchor, else the first
// matching anchor inside it.
func cardLink(sel *goquery.Selection, anchor string) *goquery.Selection {
	if goquery.NodeName(sel) == "a" && sel.Is(anchor) {
		return sel
	}
	return sel.Find(anchor).First()
}

func firstText(sel *goquery.Selection, selector string) string {
	return collapse(sel.Find(selector).First().Text())
}

func imageSrc(sel *goquery.Selection) string {
	img := sel.Find("img").First()
	for _, attr := range []string{"src", "data-src"} {
		if src, ok := img.Attr(attr); ok && strings.HasPrefix(src, "http") {
			return src
		}
	}
	return ""
}

// decodeJSON decodes an embedded JSON document, keeping numbers exact.
func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// walkJSON visits every object nested in v. Keys are walked in sorted
// order so the visit order is stable.
func walkJSON(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		visit(t)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkJSON(t[k], visit)
		}
	case []any:
		for _, child := range t {
			walkJSON(child, visit)
		}
	}
}

// jsonText renders a scalar JSON value as text; objects and arrays are empty.
func jsonText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

func idFrom(expr *regexp.Regexp, href string) string {
	if m := expr.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}
