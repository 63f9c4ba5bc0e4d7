package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

var (
	etsyIDExpr   = regexp.MustCompile(`/listing/(\d+)`)
	etsySizeExpr = regexp.MustCompile(`_\d+x\d+`)
)

type etsyListing struct {
	ListingID        int64  `json:"listing_id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	URL              string `json:"url"`
	CreatedTimestamp int64  `json:"created_timestamp"`
	Price            struct {
		Amount       int64  `json:"amount"`
		Divisor      int64  `json:"divisor"`
		CurrencyCode string `json:"currency_code"`
	} `json:"price"`
	Images []struct {
		URL570xN    string `json:"url_570xN"`
		URLFullxFull string `json:"url_fullxfull"`
	} `json:"images"`
}

type etsySearchResponse struct {
	Count   int           `json:"count"`
	Results []etsyListing `json:"results"`
}

type etsyScraped struct {
	ID    string
	Title string
	URL   string
	Price string
	Image string
}

// Etsy queries Open API v3 with an API key and falls back to the search page.
// Etsy sellers ship, so every listing counts as shippable.
type Etsy struct {
	client     *source.Client
	baseURL    string
	apiBaseURL string
	apiKey     string
}

var _ source.Adapter = (*Etsy)(nil)

// NewEtsy wires the adapter. An empty key disables API mode.
func NewEtsy(client *source.Client, baseURL, apiBaseURL, apiKey string) *Etsy {
	return &Etsy{
		client:     client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		apiKey:     apiKey,
	}
}

// Name identifies the adapter inside the registry.
func (e *Etsy) Name() string { return "etsy" }

// Capabilities reports API access only when a key is present.
func (e *Etsy) Capabilities() source.Capabilities {
	return source.Capabilities{
		API:    e.apiKey != "" && e.apiBaseURL != "",
		Scrape: e.baseURL != "",
	}
}

// ScrapeURL builds the newest-first search page URL.
func (e *Etsy) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("q", q.Term)
	params.Set("explicit", "1")
	params.Set("ship_to", "US")
	params.Set("order", "date_desc")
	return e.baseURL + "/search?" + params.Encode()
}

func (e *Etsy) apiURL(q source.Query) string {
	params := url.Values{}
	params.Set("keywords", q.Term)
	params.Set("limit", "50")
	params.Set("sort_on", "created")
	params.Set("sort_order", "desc")
	params.Set("includes", "Images")
	return e.apiBaseURL + "/v3/application/listings/active?" + params.Encode()
}

// Search performs one request in the requested mode.
func (e *Etsy) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	switch mode {
	case domain.ModeAPI:
		header := http.Header{}
		header.Set("x-api-key", e.apiKey)

		var resp etsySearchResponse
		if err := e.client.GetJSON(ctx, e.apiURL(q), header, &resp); err != nil {
			return nil, fmt.Errorf("etsy api search %q: %w", q.Term, err)
		}
		listings := make([]domain.RawListing, 0, len(resp.Results))
		for _, l := range resp.Results {
			if l.ListingID == 0 || strings.TrimSpace(l.Title) == "" {
				continue
			}
			listings = append(listings, domain.RawListing{Source: e.Name(), Mode: domain.ModeAPI, Payload: l})
		}
		return listings, nil

	case domain.ModeScrape:
		doc, err := e.client.GetDocument(ctx, e.ScrapeURL(q))
		if err != nil {
			return nil, fmt.Errorf("etsy search %q: %w", q.Term, err)
		}
		var listings []domain.RawListing
		seen := map[string]struct{}{}
		doc.Find("[data-listing-id], .v2-listing-card").Each(func(_ int, sel *goquery.Selection) {
			scraped, ok := e.parseCard(sel)
			if !ok {
				return
			}
			if _, dup := seen[scraped.ID]; dup {
				return
			}
			seen[scraped.ID] = struct{}{}
			listings = append(listings, domain.RawListing{Source: e.Name(), Mode: domain.ModeScrape, Payload: scraped})
		})
		return listings, nil

	default:
		return nil, fmt.Errorf("etsy: mode %s is not supported", mode)
	}
}

func (e *Etsy) parseCard(sel *goquery.Selection) (etsyScraped, bool) {
	link := sel
	if goquery.NodeName(sel) != "a" {
		link = sel.Find(`a[href*="/listing/"]`).First()
	}
	href, _ := link.Attr("href")
	if href == "" {
		return etsyScraped{}, false
	}

	id, _ := sel.Attr("data-listing-id")
	if id == "" {
		if m := etsyIDExpr.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
	}
	if id == "" {
		return etsyScraped{}, false
	}

	title := collapse(sel.Find(`h3, h2, [class*="title"]`).First().Text())
	if title == "" {
		title, _ = link.Attr("title")
	}
	if title == "" {
		return etsyScraped{}, false
	}

	img := sel.Find("img").First()
	src, _ := img.Attr("src")
	if !strings.HasPrefix(src, "http") {
		src, _ = img.Attr("data-src")
	}
	if strings.HasPrefix(src, "http") {
		src = etsySizeExpr.ReplaceAllString(src, "_680x")
	} else {
		src = ""
	}

	return etsyScraped{
		ID:    id,
		Title: title,
		URL:   stripQuery(absoluteURL(e.baseURL, href)),
		Price: collapse(sel.Find(`.currency-value, [class*="price"]`).First().Text()),
		Image: src,
	}, true
}

// Normalize maps either payload shape onto the shared item shape.
func (e *Etsy) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	switch payload := raw.Payload.(type) {
	case etsyListing:
		id := strconv.FormatInt(payload.ListingID, 10)
		item := domain.NormalizedItem{
			Fingerprint: domain.Fingerprint(e.Name(), id, payload.Title, payload.URL),
			Source:      e.Name(),
			NativeID:    id,
			Title:       collapse(payload.Title),
			Description: collapse(payload.Description),
			URL:         stripQuery(payload.URL),
			Currency:    payload.Price.CurrencyCode,
			Location:    "Etsy Seller",
			Shippable:   true,
			Category:    q.Category,
		}
		if payload.Price.Divisor > 0 {
			v := float64(payload.Price.Amount) / float64(payload.Price.Divisor)
			item.Price = &v
		}
		if payload.CreatedTimestamp > 0 {
			t := time.Unix(payload.CreatedTimestamp, 0).UTC()
			item.PostedAt = &t
		}
		for _, img := range payload.Images {
			switch {
			case img.URL570xN != "":
				item.ImageURLs = append(item.ImageURLs, img.URL570xN)
			case img.URLFullxFull != "":
				item.ImageURLs = append(item.ImageURLs, img.URLFullxFull)
			}
		}
		return item, nil

	case etsyScraped:
		item := domain.NormalizedItem{
			Fingerprint: domain.Fingerprint(e.Name(), payload.ID, payload.Title, payload.URL),
			Source:      e.Name(),
			NativeID:    payload.ID,
			Title:       payload.Title,
			URL:         payload.URL,
			Price:       parsePrice(payload.Price),
			Currency:    "USD",
			Location:    "Etsy Seller",
			Shippable:   true,
			Category:    q.Category,
		}
		if payload.Image != "" {
			item.ImageURLs = []string{payload.Image}
		}
		return item, nil

	default:
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("etsy payload %T", raw.Payload), nil)
	}
}
