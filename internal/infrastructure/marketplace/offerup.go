package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

const offerUpAnchor = `a[href*="/item/"]`

var offerUpIDExpr = regexp.MustCompile(`/item/(?:detail/)?([^/?#]+)`)

// OfferUp scrapes local search results around a region slug.
type OfferUp struct {
	client    *source.Client
	baseURL   string
	region    string
	gazetteer *domain.Gazetteer
}

var _ source.Adapter = (*OfferUp)(nil)

// NewOfferUp wires the adapter; region is OfferUp's location slug.
func NewOfferUp(client *source.Client, baseURL, region string, gaz *domain.Gazetteer) *OfferUp {
	return &OfferUp{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		region:    region,
		gazetteer: gaz,
	}
}

func (o *OfferUp) Name() string { return "offerup" }

func (o *OfferUp) Capabilities() source.Capabilities {
	return source.Capabilities{Scrape: true}
}

func (o *OfferUp) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("q", q.Term)
	if o.region != "" {
		params.Set("location", o.region)
	}
	if q.RadiusMiles > 0 {
		params.Set("radius", strconv.Itoa(int(q.RadiusMiles)))
	}
	return o.baseURL + "/search?" + params.Encode()
}

func (o *OfferUp) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	if mode != domain.ModeScrape {
		return nil, fmt.Errorf("offerup: mode %s is not supported", mode)
	}
	doc, err := o.client.GetDocument(ctx, o.ScrapeURL(q))
	if err != nil {
		return nil, fmt.Errorf("offerup search %q: %w", q.Term, err)
	}

	var set listingSet
	doc.Find(`[data-testid="listing-card"], .listing-card, ` + offerUpAnchor).Each(func(_ int, sel *goquery.Selection) {
		if l, ok := o.parseCard(sel); ok {
			set.add(l)
		}
	})
	return set.raw(o.Name()), nil
}

func (o *OfferUp) parseCard(sel *goquery.Selection) (cardListing, bool) {
	link := cardLink(sel, offerUpAnchor)
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return cardListing{}, false
	}
	href = absoluteURL(o.baseURL, href)

	title := firstText(sel, `[class*="title"], [class*="Title"], h2, h3`)
	if title == "" {
		title, _ = sel.Find("img").First().Attr("alt")
		title = collapse(title)
	}
	if title == "" {
		title = truncateRunes(collapse(link.Text()), 100)
	}
	if title == "" {
		return cardListing{}, false
	}

	return cardListing{
		ID:       idFrom(offerUpIDExpr, href),
		Title:    title,
		URL:      stripQuery(href),
		Price:    firstText(sel, `[class*="price"], [class*="Price"]`),
		Location: firstText(sel, `[class*="location"], [class*="Location"]`),
		Image:    imageSrc(sel),
	}, true
}

func (o *OfferUp) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	l, ok := raw.Payload.(cardListing)
	if !ok {
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("offerup payload %T", raw.Payload), nil)
	}
	item := domain.NormalizedItem{
		Fingerprint:   domain.Fingerprint(o.Name(), l.ID, l.Title, l.URL),
		Source:        o.Name(),
		NativeID:      l.ID,
		Title:         l.Title,
		URL:           l.URL,
		Price:         parsePrice(l.Price),
		Currency:      "USD",
		Location:      l.Location,
		DistanceMiles: distanceFromText(o.gazetteer, l.Location),
		Shippable:     mentionsShipping(l.Title),
		Category:      q.Category,
	}
	if l.Image != "" {
		item.ImageURLs = []string{l.Image}
	}
	return item, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
