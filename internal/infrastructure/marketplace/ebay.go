package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

var ebayIDExpr = regexp.MustCompile(`/itm/(?:[^/]+/)?(\d+)`)

type ebayAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ebayImage struct {
	ImageURL string `json:"imageUrl"`
}

type ebayItemSummary struct {
	ItemID           string      `json:"itemId"`
	LegacyItemID     string      `json:"legacyItemId"`
	Title            string      `json:"title"`
	ShortDescription string      `json:"shortDescription"`
	Price            *ebayAmount `json:"price"`
	Image            *ebayImage  `json:"image"`
	AdditionalImages []ebayImage `json:"additionalImages"`
	ItemWebURL       string      `json:"itemWebUrl"`
	ItemCreationDate string      `json:"itemCreationDate"`
	ItemLocation     struct {
		City            string `json:"city"`
		StateOrProvince string `json:"stateOrProvince"`
		PostalCode      string `json:"postalCode"`
	} `json:"itemLocation"`
	ShippingOptions []struct {
		ShippingCostType string `json:"shippingCostType"`
	} `json:"shippingOptions"`
	DistanceFromPickupLocation *struct {
		Value         float64 `json:"value"`
		UnitOfMeasure string  `json:"unitOfMeasure"`
	} `json:"distanceFromPickupLocation"`
}

type ebaySearchResponse struct {
	Total         int               `json:"total"`
	ItemSummaries []ebayItemSummary `json:"itemSummaries"`
}

type ebayScraped struct {
	ID       string
	Title    string
	URL      string
	Price    string
	Image    string
	Location string
	Shipping string
}

// Ebay queries the Browse API when an application token is configured and
// scrapes the Buy It Now results page otherwise.
type Ebay struct {
	client     *source.Client
	baseURL    string
	apiBaseURL string
	token      string
	gazetteer  *domain.Gazetteer
}

var _ source.Adapter = (*Ebay)(nil)

// NewEbay wires the adapter. An empty token disables API mode.
func NewEbay(client *source.Client, baseURL, apiBaseURL, token string, gaz *domain.Gazetteer) *Ebay {
	return &Ebay{
		client:     client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		token:      token,
		gazetteer:  gaz,
	}
}

// Name identifies the adapter inside the registry.
func (e *Ebay) Name() string { return "ebay" }

// Capabilities reports API access only when a token is present.
func (e *Ebay) Capabilities() source.Capabilities {
	return source.Capabilities{
		API:    e.token != "" && e.apiBaseURL != "",
		Scrape: e.baseURL != "",
	}
}

// ScrapeURL builds the newest-first Buy It Now search page URL.
func (e *Ebay) ScrapeURL(q source.Query) string {
	params := url.Values{}
	params.Set("_nkw", q.Term)
	params.Set("_sop", "10")
	params.Set("LH_BIN", "1")
	if q.PostalCode != "" {
		params.Set("_stpos", q.PostalCode)
	}
	if q.RadiusMiles > 0 {
		params.Set("_sadis", strconv.Itoa(int(q.RadiusMiles)))
	}
	return e.baseURL + "/sch/i.html?" + params.Encode()
}

func (e *Ebay) apiURL(q source.Query) string {
	params := url.Values{}
	params.Set("q", q.Term)
	params.Set("limit", "50")
	params.Set("sort", "newlyListed")
	params.Set("filter", "buyingOptions:{FIXED_PRICE}")
	return e.apiBaseURL + "/buy/browse/v1/item_summary/search?" + params.Encode()
}

// Search performs one request in the requested mode.
func (e *Ebay) Search(ctx context.Context, mode domain.FetchMode, q source.Query) ([]domain.RawListing, error) {
	switch mode {
	case domain.ModeAPI:
		return e.searchAPI(ctx, q)
	case domain.ModeScrape:
		return e.searchScrape(ctx, q)
	default:
		return nil, fmt.Errorf("ebay: mode %s is not supported", mode)
	}
}

func (e *Ebay) searchAPI(ctx context.Context, q source.Query) ([]domain.RawListing, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token)
	header.Set("X-EBAY-C-MARKETPLACE-ID", "EBAY_US")
	if q.PostalCode != "" {
		header.Set("X-EBAY-C-ENDUSERCTX", "contextualLocation=country=US,zip="+q.PostalCode)
	}

	var resp ebaySearchResponse
	if err := e.client.GetJSON(ctx, e.apiURL(q), header, &resp); err != nil {
		return nil, fmt.Errorf("ebay api search %q: %w", q.Term, err)
	}

	listings := make([]domain.RawListing, 0, len(resp.ItemSummaries))
	for _, summary := range resp.ItemSummaries {
		if strings.TrimSpace(summary.Title) == "" {
			continue
		}
		listings = append(listings, domain.RawListing{Source: e.Name(), Mode: domain.ModeAPI, Payload: summary})
	}
	return listings, nil
}

func (e *Ebay) searchScrape(ctx context.Context, q source.Query) ([]domain.RawListing, error) {
	doc, err := e.client.GetDocument(ctx, e.ScrapeURL(q))
	if err != nil {
		return nil, fmt.Errorf("ebay search %q: %w", q.Term, err)
	}

	var listings []domain.RawListing
	doc.Find("li.s-item, div.s-item").Each(func(_ int, sel *goquery.Selection) {
		if scraped, ok := parseEbayCard(sel); ok {
			listings = append(listings, domain.RawListing{Source: e.Name(), Mode: domain.ModeScrape, Payload: scraped})
		}
	})
	return listings, nil
}

func parseEbayCard(sel *goquery.Selection) (ebayScraped, bool) {
	href, _ := sel.Find(`a.s-item__link, a[href*="/itm/"]`).First().Attr("href")
	if href == "" || strings.Contains(href, "pulsar") {
		return ebayScraped{}, false
	}
	m := ebayIDExpr.FindStringSubmatch(href)
	if m == nil {
		return ebayScraped{}, false
	}

	title := collapse(sel.Find(`.s-item__title, [role="heading"]`).First().Text())
	title = strings.TrimPrefix(title, "New Listing")
	title = strings.TrimSpace(title)
	if title == "" || strings.Contains(strings.ToLower(title), "shop on ebay") {
		return ebayScraped{}, false
	}

	img := sel.Find(".s-item__image-wrapper img, img.s-item__image-img").First()
	src, _ := img.Attr("src")
	if src == "" || !strings.HasPrefix(src, "http") {
		src, _ = img.Attr("data-src")
	}
	if strings.HasSuffix(strings.ToLower(src), ".gif") {
		src = ""
	}

	return ebayScraped{
		ID:       m[1],
		Title:    title,
		URL:      stripQuery(href),
		Price:    collapse(sel.Find(".s-item__price").First().Text()),
		Image:    src,
		Location: strings.TrimPrefix(collapse(sel.Find(".s-item__location, .s-item__itemLocation").First().Text()), "from "),
		Shipping: collapse(sel.Find(".s-item__shipping, .s-item__freeXDays").First().Text()),
	}, true
}

// Normalize maps either payload shape onto the shared item shape.
func (e *Ebay) Normalize(raw domain.RawListing, q source.Query) (domain.NormalizedItem, error) {
	switch payload := raw.Payload.(type) {
	case ebayItemSummary:
		return e.normalizeSummary(payload, q), nil
	case ebayScraped:
		return e.normalizeScraped(payload, q), nil
	default:
		return domain.NormalizedItem{}, source.Malformed(fmt.Sprintf("ebay payload %T", raw.Payload), nil)
	}
}

func (e *Ebay) normalizeSummary(s ebayItemSummary, q source.Query) domain.NormalizedItem {
	id := s.LegacyItemID
	if id == "" {
		id = s.ItemID
	}
	item := domain.NormalizedItem{
		Fingerprint: domain.Fingerprint(e.Name(), id, s.Title, s.ItemWebURL),
		Source:      e.Name(),
		NativeID:    id,
		Title:       collapse(s.Title),
		Description: collapse(s.ShortDescription),
		URL:         s.ItemWebURL,
		Currency:    "USD",
		PostedAt:    parseTimestamp(s.ItemCreationDate),
		Category:    q.Category,
	}
	if s.Price != nil {
		if v, err := strconv.ParseFloat(s.Price.Value, 64); err == nil {
			item.Price = &v
		}
		if s.Price.Currency != "" {
			item.Currency = s.Price.Currency
		}
	}
	if s.Image != nil && s.Image.ImageURL != "" {
		item.ImageURLs = append(item.ImageURLs, s.Image.ImageURL)
	}
	for _, img := range s.AdditionalImages {
		if img.ImageURL != "" {
			item.ImageURLs = append(item.ImageURLs, img.ImageURL)
		}
	}

	loc := s.ItemLocation
	item.Location = strings.Trim(strings.Join([]string{loc.City, loc.StateOrProvince}, ", "), ", ")
	if d := s.DistanceFromPickupLocation; d != nil {
		miles := d.Value
		if strings.EqualFold(d.UnitOfMeasure, "km") || strings.EqualFold(d.UnitOfMeasure, "kilometer") {
			miles = d.Value * 0.621371
		}
		item.DistanceMiles = &miles
	} else {
		item.DistanceMiles = distanceFromText(e.gazetteer, item.Location)
	}
	for _, opt := range s.ShippingOptions {
		if opt.ShippingCostType != "" {
			item.Shippable = true
			break
		}
	}
	return item
}

func (e *Ebay) normalizeScraped(s ebayScraped, q source.Query) domain.NormalizedItem {
	shipping := strings.ToLower(s.Shipping)
	item := domain.NormalizedItem{
		Fingerprint: domain.Fingerprint(e.Name(), s.ID, s.Title, s.URL),
		Source:      e.Name(),
		NativeID:    s.ID,
		Title:       s.Title,
		URL:         s.URL,
		Price:       parsePrice(s.Price),
		Currency:    "USD",
		Location:    s.Location,
		Shippable:   strings.Contains(shipping, "shipping") || strings.Contains(shipping, "free"),
		Category:    q.Category,
	}
	item.DistanceMiles = distanceFromText(e.gazetteer, s.Location)
	if s.Image != "" {
		item.ImageURLs = []string{s.Image}
	}
	return item
}
