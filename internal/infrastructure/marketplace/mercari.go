package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

const mercariAnchor = `a[href*="/item/"]`

var mercariIDExpr = regexp.MustCompile(`/item/([^/?#]+)`)

// Mercari scrapes on-sale search results. The page embeds its results as
// JSON; rendered item cards are read as well. Every Mercari listing ships.
type Mercari struct {
	client  *source.Client
	baseURL string
}

var _ source.Adapter = (*Mercari)(nil)

// NewMercari wires the adapter against the site root.
func NewMercari(client *source.Client, baseURL string) *Mercari {
	return &Mercari{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Name identifies the adapter inside the registry.
func (m *Mercari) Name() string { return "mercari" }

// Capabilities reports scrape-only access.
func (m *Mercari) Capabilities() source.Capabilities {
	return source.Capabilities{Scrape: true}
}

// ScrapeURL builds the newest-first on-sale search URL.
func (m *Mercari) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("keyword", q.Term)
	params.Set("status", "on_sale")
	params.Set("sortBy", "created_time")
	return m.baseURL + "/search?" + params.Encode()
}

// Search fetches one results page.
func (m *Mercari) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	if mode != domain.ModeScrape {
		return nil, fmt.Errorf("mercari: mode %s is not supported", mode)
	}
	doc, err := m.client.GetDocument(ctx, m.ScrapeURL(q))
	if err != nil {
		return nil, fmt.Errorf("mercari search %q: %w", q.Term, err)
	}

	var set listingSet
	doc.Find(`script[type="application/json"]`).Each(func(_ int, sel *goquery.Selection) {
		data, err := decodeJSON(sel.Text())
		if err != nil {
			return
		}
		walkJSON(data, func(obj map[string]any) {
			if l, ok := m.fromJSON(obj); ok {
				set.add(l)
			}
		})
	})
	doc.Find(`[data-testid="ItemContainer"], [class*="ItemContainer"], ` + mercariAnchor).Each(func(_ int, sel *goquery.Selection) {
		if l, ok := m.parseCard(sel); ok {
			set.add(l)
		}
	})
	return set.raw(m.Name()), nil
}

func (m *Mercari) fromJSON(obj map[string]any) (cardListing, bool) {
	if !hasKeys(obj, "id", "name", "price") {
		return cardListing{}, false
	}
	id, title := jsonText(obj["id"]), collapse(jsonText(obj["name"]))
	if id == "" || title == "" {
		return cardListing{}, false
	}
	l := cardListing{
		ID:    id,
		Title: title,
		URL:   m.baseURL + "/item/" + id + "/",
		Price: jsonText(obj["price"]),
	}
	if thumbs, ok := obj["thumbnails"].([]any); ok && len(thumbs) > 0 {
		switch t := thumbs[0].(type) {
		case string:
			l.Image = t
		case map[string]any:
			l.Image = jsonText(t["url"])
		}
	}
	return l, true
}

func (m *Mercari) parseCard(sel *goquery.Selection) (cardListing, bool) {
	link := cardLink(sel, mercariAnchor)
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return cardListing{}, false
	}
	href = absoluteURL(m.baseURL, href)

	title := firstText(sel, `[data-testid="ItemName"], [class*="ItemName"]`)
	if title == "" {
		title, _ = sel.Find("img").First().Attr("alt")
		title = collapse(title)
	}
	if title == "" {
		return cardListing{}, false
	}

	return cardListing{
		ID:    idFrom(mercariIDExpr, href),
		Title: title,
		URL:   stripQuery(href),
		Price: firstText(sel, `[data-testid="Price"], [class*="Price"]`),
		Image: imageSrc(sel),
	}, true
}

// Normalize maps a card or embedded record onto the shared item shape.
func (m *Mercari) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	l, ok := raw.Payload.(cardListing)
	if !ok {
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("mercari payload %T", raw.Payload), nil)
	}
	return shipOnlyItem(m.Name(), l, q), nil
}

// shipOnlyItem normalizes listings from marketplaces that only sell by mail:
// no location, always shippable.
func shipOnlyItem(sourceName string, l cardListing, q source.Query) domain.NormalizedItem {
	item := domain.NormalizedItem{
		Fingerprint: domain.Fingerprint(sourceName, l.ID, l.Title, l.URL),
		Source:      sourceName,
		NativeID:    l.ID,
		Title:       l.Title,
		URL:         l.URL,
		Price:       parsePrice(l.Price),
		Currency:    "USD",
		Shippable:   true,
		Category:    q.Category,
	}
	if strings.HasPrefix(l.Image, "http") {
		item.ImageURLs = []string{l.Image}
	}
	return item
}
