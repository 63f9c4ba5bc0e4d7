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

var craigslistIDExpr = regexp.MustCompile(`/(\d+)\.html`)

var craigslistImageSizes = strings.NewReplacer("50x50c", "600x450", "300x300", "600x450")

type craigslistListing struct {
	ID       string
	Title    string
	URL      string
	Price    string
	Location string
	Image    string
	PostedAt string
}

// Craigslist scrapes the owner-listed search results page.
type Craigslist struct {
	client    *source.Client
	baseURL   string
	gazetteer *domain.Gazetteer
}

var (
	_ source.Adapter  = (*Craigslist)(nil)
	_ source.Detailer = (*Craigslist)(nil)
)

// NewCraigslist wires an HTTP client against a regional base URL.
func NewCraigslist(client *source.Client, baseURL string, gaz *domain.Gazetteer) *Craigslist {
	return &Craigslist{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		gazetteer: gaz,
	}
}

// Name identifies the adapter inside the registry.
func (c *Craigslist) Name() string { return "craigslist" }

// Capabilities reports scrape-only access; Craigslist has no public API.
func (c *Craigslist) Capabilities() source.Capabilities {
	return source.Capabilities{Scrape: true}
}

// ScrapeURL builds the search page URL for the query.
func (c *Craigslist) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("query", q.Term)
	if q.PostalCode != "" {
		params.Set("postal", q.PostalCode)
	}
	if q.RadiusMiles > 0 {
		params.Set("search_distance", strconv.Itoa(int(q.RadiusMiles)))
	}
	params.Set("sort", "date")
	params.Set("purveyor", "owner")
	return c.baseURL + "/search/sss?" + params.Encode()
}

// Search fetches one results page.
func (c *Craigslist) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	if mode != domain.ModeScrape {
		return nil, fmt.Errorf("craigslist: mode %s is not supported", mode)
	}
	doc, err := c.client.GetDocument(ctx, c.ScrapeURL(q))
	if err != nil {
		return nil, fmt.Errorf("craigslist search %q: %w", q.Term, err)
	}
	return c.extractListings(doc), nil
}

func (c *Craigslist) extractListings(doc *goquery.Document) []domain.RawListing {
	var listings []domain.RawListing
	doc.Find("li.cl-static-search-result, div.cl-search-result").Each(func(_ int, sel *goquery.Selection) {
		listing, ok := c.parseListing(sel)
		if !ok {
			return
		}
		listings = append(listings, domain.RawListing{
			Source:  c.Name(),
			Mode:    domain.ModeScrape,
			Payload: listing,
		})
	})
	return listings
}

func (c *Craigslist) parseListing(sel *goquery.Selection) (craigslistListing, bool) {
	link := sel.Find("a").First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return craigslistListing{}, false
	}
	href = absoluteURL(c.baseURL, href)

	title := collapse(sel.Find(".title, .label").First().Text())
	if title == "" {
		title, _ = sel.Attr("title")
	}
	if title == "" {
		title = collapse(link.Text())
	}
	if title == "" {
		return craigslistListing{}, false
	}

	var id string
	if m := craigslistIDExpr.FindStringSubmatch(href); m != nil {
		id = m[1]
	}

	img, _ := sel.Find("img").First().Attr("src")
	posted, _ := sel.Find("time").First().Attr("datetime")

	return craigslistListing{
		ID:       id,
		Title:    title,
		URL:      href,
		Price:    collapse(sel.Find(".priceinfo, .price").First().Text()),
		Location: collapse(sel.Find(".location, .meta").First().Text()),
		Image:    img,
		PostedAt: posted,
	}, true
}

// Normalize maps a scraped result onto the shared item shape.
func (c *Craigslist) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	listing, ok := raw.Payload.(craigslistListing)
	if !ok {
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("craigslist payload %T", raw.Payload), nil)
	}

	item := domain.NormalizedItem{
		Fingerprint: domain.Fingerprint(c.Name(), listing.ID, listing.Title, listing.URL),
		Source:      c.Name(),
		NativeID:    listing.ID,
		Title:       listing.Title,
		URL:         listing.URL,
		Price:       parsePrice(listing.Price),
		Currency:    "USD",
		Location:    listing.Location,
		Shippable:   mentionsShipping(listing.Title),
		PostedAt:    parseTimestamp(listing.PostedAt),
		Category:    q.Category,
	}
	item.DistanceMiles = distanceFromText(c.gazetteer, listing.Location)
	if listing.Image != "" && strings.HasPrefix(listing.Image, "http") {
		item.ImageURLs = []string{craigslistImageSizes.Replace(listing.Image)}
	}
	return item, nil
}

// DetailURL is the posting page itself.
func (c *Craigslist) DetailURL(item domain.NormalizedItem) string {
	return item.URL
}

// Details reads the posting page: body text, the full gallery, the posting
// time and any shipping offer in the body.
func (c *Craigslist) Details(ctx context.Context, item domain.NormalizedItem) (domain.NormalizedItem, error) {
	if item.URL == "" {
		return item, nil
	}
	doc, err := c.client.GetDocument(ctx, item.URL)
	if err != nil {
		return item, fmt.Errorf("craigslist posting %s: %w", item.NativeID, err)
	}

	var images []string
	seen := map[string]struct{}{}
	doc.Find("div.gallery img, div.swipe img, a.thumb img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			src, _ = img.Attr("data-src")
		}
		if !strings.HasPrefix(src, "http") {
			return
		}
		src = craigslistImageSizes.Replace(src)
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		images = append(images, src)
	})
	if len(images) > 0 {
		item.ImageURLs = images
	}

	if posted, ok := doc.Find("time.date").First().Attr("datetime"); ok {
		if t := parseTimestamp(posted); t != nil {
			item.PostedAt = t
		}
	}

	body := doc.Find("section#postingbody").First().Clone()
	body.Find(".print-information, .print-qrcode-container").Remove()
	if text := collapse(body.Text()); text != "" {
		item.Description = text
		if mentionsShipping(text) {
			item.Shippable = true
		}
	}
	return item, nil
}
