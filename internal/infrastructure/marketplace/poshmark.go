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

const poshmarkAnchor = `a[href*="/listing/"]`

var (
	poshmarkIDExpr   = regexp.MustCompile(`/listing/[^/?#]*-([a-f0-9]+)(?:[/?#]|$)`)
	poshmarkDataExpr = regexp.MustCompile(`(?s)__NEXT_DATA__\s*=\s*(\{.+\})\s*;?\s*$`)
)

// Poshmark scrapes the Home department, newest first. Results come from the
// page's embedded data and its rendered tiles. Poshmark only ships.
type Poshmark struct {
	client  *source.Client
	baseURL string
}

var _ source.Adapter = (*Poshmark)(nil)

func NewPoshmark(client *source.Client, baseURL string) *Poshmark {
	return &Poshmark{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (p *Poshmark) Name() string { return "poshmark" }

func (p *Poshmark) Capabilities() source.Capabilities {
	return source.Capabilities{Scrape: true}
}

func (p *Poshmark) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("query", q.Term)
	params.Set("department", "Home")
	params.Set("sort_by", "added_desc")
	params.Set("availability", "available")
	return p.baseURL + "/search?" + params.Encode()
}

func (p *Poshmark) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	if mode != domain.ModeScrape {
		return nil, fmt.Errorf("poshmark: mode %s is not supported", mode)
	}
	doc, err := p.client.GetDocument(ctx, p.ScrapeURL(q))
	if err != nil {
		return nil, fmt.Errorf("poshmark search %q: %w", q.Term, err)
	}

	var set listingSet
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if id, _ := sel.Attr("id"); id != "__NEXT_DATA__" {
			m := poshmarkDataExpr.FindStringSubmatch(text)
			if m == nil {
				return
			}
			text = m[1]
		}
		data, err := decodeJSON(text)
		if err != nil {
			return
		}
		walkJSON(data, func(obj map[string]any) {
			if l, ok := p.fromJSON(obj); ok {
				set.add(l)
			}
		})
	})
	doc.Find(`[data-et-name="listing"], .card, ` + poshmarkAnchor).Each(func(_ int, sel *goquery.Selection) {
		if l, ok := p.parseCard(sel); ok {
			set.add(l)
		}
	})
	return set.raw(p.Name()), nil
}

func (p *Poshmark) fromJSON(obj map[string]any) (cardListing, bool) {
	if !hasKeys(obj, "id", "title", "price_amount") {
		return cardListing{}, false
	}
	id, title := jsonText(obj["id"]), collapse(jsonText(obj["title"]))
	if id == "" || title == "" {
		return cardListing{}, false
	}
	price := jsonText(obj["price_amount"])
	if amount, ok := obj["price_amount"].(map[string]any); ok {
		price = jsonText(amount["val"])
	}
	return cardListing{
		ID:    id,
		Title: title,
		URL:   p.baseURL + "/listing/" + strings.ReplaceAll(title, " ", "-") + "-" + id,
		Price: price,
		Image: jsonText(obj["picture_url"]),
	}, true
}

func (p *Poshmark) parseCard(sel *goquery.Selection) (cardListing, bool) {
	link := cardLink(sel, poshmarkAnchor)
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return cardListing{}, false
	}
	href = absoluteURL(p.baseURL, href)

	title := firstText(sel, `.tile__title, [class*="title"], [class*="Title"], h4`)
	if title == "" {
		return cardListing{}, false
	}
	return cardListing{
		ID:    idFrom(poshmarkIDExpr, href),
		Title: title,
		URL:   stripQuery(href),
		Price: firstText(sel, `.tile__price, [class*="price"], [class*="Price"]`),
		Image: imageSrc(sel),
	}, true
}

func (p *Poshmark) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	l, ok := raw.Payload.(cardListing)
	if !ok {
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("poshmark payload %T", raw.Payload), nil)
	}
	return shipOnlyItem(p.Name(), l, q), nil
}
