package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

func serveHTML(t *testing.T, body string, gotQuery *url.Values) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotQuery != nil {
			*gotQuery = r.URL.Query()
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func normalizeAll(t *testing.T, adapter source.Adapter, raws []domain.RawListing, q source.Query) []domain.NormalizedItem {
	t.Helper()
	items := make([]domain.NormalizedItem, 0, len(raws))
	for _, raw := range raws {
		item, err := adapter.Normalize(raw, q)
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		items = append(items, item)
	}
	return items
}

func TestOfferUpSearchAndNormalize(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	server := serveHTML(t, `
	<div>
	  <div data-testid="listing-card">
	    <a href="/item/detail/1a2b3c?ref=search">
	      <img src="https://images.offerup.com/1.jpg" alt="ignored">
	      <span class="item-title">Plum velvet pillow, can ship</span>
	      <span class="item-price">$18</span>
	      <span class="item-location">Mountain View, CA</span>
	    </a>
	  </div>
	  <a href="/item/detail/9z8y7x"><img src="https://images.offerup.com/2.jpg" alt="Purple side table"></a>
	  <div class="listing-card"><span>no link</span></div>
	</div>`, &gotQuery)

	ou := NewOfferUp(source.NewClient(server.Client(), nil), server.URL, "palo-alto-ca", testGazetteer())
	q := source.Query{Term: "plum pillow", Category: "pillows", RadiusMiles: 20}

	raws, err := ou.Search(context.Background(), domain.ModeScrape, q)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotQuery.Get("q") != "plum pillow" || gotQuery.Get("location") != "palo-alto-ca" || gotQuery.Get("radius") != "20" {
		t.Fatalf("unexpected query params: %v", gotQuery)
	}
	items := normalizeAll(t, ou, raws, q)
	if len(items) != 2 {
		t.Fatalf("expected 2 listings (card and its link collapse), got %d: %+v", len(items), items)
	}

	first := items[0]
	if first.Fingerprint != "offerup:1a2b3c" || first.Title != "Plum velvet pillow, can ship" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.URL != server.URL+"/item/detail/1a2b3c" {
		t.Fatalf("unexpected url: %s", first.URL)
	}
	if first.Price == nil || *first.Price != 18 || !first.Shippable {
		t.Fatalf("unexpected price or shipping: %+v", first)
	}
	if first.DistanceMiles == nil || *first.DistanceMiles < 3 {
		t.Fatalf("expected mountain view distance, got %v", first.DistanceMiles)
	}
	if len(first.ImageURLs) != 1 || first.ImageURLs[0] != "https://images.offerup.com/1.jpg" {
		t.Fatalf("unexpected images: %v", first.ImageURLs)
	}

	second := items[1]
	if second.Title != "Purple side table" || second.Shippable || second.Price != nil {
		t.Fatalf("unexpected second item: %+v", second)
	}
}

func TestMercariReadsEmbeddedDataAndCards(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	server := serveHTML(t, `
	<html><head>
	  <script type="application/json">{"props":{"search":{"items":[
	    {"id":"m101","name":"Plum throw blanket","price":35,"thumbnails":["https://static.mercari.com/m101.jpg"]},
	    {"id":"m102","name":"Violet vase","price":"12.50","thumbnails":[{"url":"https://static.mercari.com/m102.jpg"}]}
	  ]}}}</script>
	  <script type="application/json">not json</script>
	</head><body>
	  <div data-testid="ItemContainer">
	    <a href="/item/m101/"><span data-testid="ItemName">Plum throw blanket</span><span data-testid="Price">$35</span></a>
	  </div>
	  <div data-testid="ItemContainer">
	    <a href="/item/m103/"><img src="https://static.mercari.com/m103.jpg" alt="Eggplant cushion"><span data-testid="Price">$9</span></a>
	  </div>
	</body></html>`, &gotQuery)

	mc := NewMercari(source.NewClient(server.Client(), nil), server.URL)
	q := source.Query{Term: "plum throw", Category: "throws"}

	raws, err := mc.Search(context.Background(), domain.ModeScrape, q)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotQuery.Get("keyword") != "plum throw" || gotQuery.Get("status") != "on_sale" {
		t.Fatalf("unexpected query params: %v", gotQuery)
	}
	items := normalizeAll(t, mc, raws, q)
	if len(items) != 3 {
		t.Fatalf("expected 3 unique listings, got %d: %+v", len(items), items)
	}

	want := []struct {
		fingerprint string
		title       string
		price       float64
		image       string
	}{
		{"mercari:m101", "Plum throw blanket", 35, "https://static.mercari.com/m101.jpg"},
		{"mercari:m102", "Violet vase", 12.5, "https://static.mercari.com/m102.jpg"},
		{"mercari:m103", "Eggplant cushion", 9, "https://static.mercari.com/m103.jpg"},
	}
	for i, w := range want {
		got := items[i]
		if got.Fingerprint != w.fingerprint || got.Title != w.title {
			t.Fatalf("item %d: unexpected identity %+v", i, got)
		}
		if got.Price == nil || *got.Price != w.price {
			t.Fatalf("item %d: unexpected price %v", i, got.Price)
		}
		if len(got.ImageURLs) != 1 || got.ImageURLs[0] != w.image {
			t.Fatalf("item %d: unexpected images %v", i, got.ImageURLs)
		}
		if !got.Shippable || got.DistanceMiles != nil || got.Category != "throws" {
			t.Fatalf("item %d: mercari items always ship: %+v", i, got)
		}
	}
	if items[0].URL != server.URL+"/item/m101/" {
		t.Fatalf("unexpected url: %s", items[0].URL)
	}
}

func TestPoshmarkReadsNextDataAndTiles(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	server := serveHTML(t, `
	<html><head>
	  <script id="__NEXT_DATA__" type="application/json">{"props":{"listings":[
	    {"id":"64af01","title":"Plum Velvet Pillow","price_amount":{"val":"22.00","currency_code":"USD"},"picture_url":"https://di2ponv0v5otw.cloudfront.net/64af01.jpg"}
	  ]}}</script>
	  <script>window.__NEXT_DATA__ = {"listings":[{"id":"64af02","title":"Purple Throw","price_amount":{"val":15}}]};</script>
	</head><body>
	  <div class="card" data-et-name="listing">
	    <a href="/listing/Plum-Velvet-Pillow-64af01"><div class="tile__title">Plum Velvet Pillow</div></a>
	  </div>
	  <div class="card">
	    <a href="/listing/Amethyst-Geode-Bookends-64af03?src=search">
	      <img data-src="https://di2ponv0v5otw.cloudfront.net/64af03.jpg">
	      <div class="tile__title">Amethyst Geode Bookends</div>
	      <span class="tile__price">$40</span>
	    </a>
	  </div>
	</body></html>`, &gotQuery)

	pm := NewPoshmark(source.NewClient(server.Client(), nil), server.URL)
	q := source.Query{Term: "plum pillow", Category: "pillows"}

	raws, err := pm.Search(context.Background(), domain.ModeScrape, q)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if gotQuery.Get("query") != "plum pillow" || gotQuery.Get("department") != "Home" || gotQuery.Get("sort_by") != "added_desc" {
		t.Fatalf("unexpected query params: %v", gotQuery)
	}
	items := normalizeAll(t, pm, raws, q)
	if len(items) != 3 {
		t.Fatalf("expected 3 unique listings, got %d: %+v", len(items), items)
	}

	if items[0].Fingerprint != "poshmark:64af01" || items[0].URL != server.URL+"/listing/Plum-Velvet-Pillow-64af01" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[0].Price == nil || *items[0].Price != 22 {
		t.Fatalf("unexpected first price: %v", items[0].Price)
	}
	if items[1].Fingerprint != "poshmark:64af02" || items[1].Price == nil || *items[1].Price != 15 || len(items[1].ImageURLs) != 0 {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
	third := items[2]
	if third.Fingerprint != "poshmark:64af03" || third.Title != "Amethyst Geode Bookends" {
		t.Fatalf("unexpected third item: %+v", third)
	}
	if third.URL != server.URL+"/listing/Amethyst-Geode-Bookends-64af03" || third.Price == nil || *third.Price != 40 {
		t.Fatalf("unexpected third url or price: %+v", third)
	}
	if len(third.ImageURLs) != 1 || !strings.HasSuffix(third.ImageURLs[0], "64af03.jpg") {
		t.Fatalf("expected data-src image, got %v", third.ImageURLs)
	}
	for _, item := range items {
		if !item.Shippable {
			t.Fatalf("poshmark items always ship: %+v", item)
		}
	}
}

func TestScrapeOnlyAdaptersRejectAPIMode(t *testing.T) {
	t.Parallel()

	client := source.NewClient(nil, nil)
	for _, adapter := range []source.Adapter{
		NewOfferUp(client, "https://offerup.com", "", nil),
		NewMercari(client, "https://www.mercari.com"),
		NewPoshmark(client, "https://poshmark.com"),
	} {
		if caps := adapter.Capabilities(); caps.API || !caps.Scrape {
			t.Fatalf("%s: unexpected capabilities %+v", adapter.Name(), caps)
		}
		if _, err := adapter.Search(context.Background(), domain.ModeAPI, source.Query{}); err == nil {
			t.Fatalf("%s: expected error for api mode", adapter.Name())
		}
	}
}

func TestCraigslistDetails(t *testing.T) {
	t.Parallel()

	server := serveHTML(t, `
	<html><body>
	  <div class="gallery">
	    <img src="https://images.craigslist.org/00a_abc_300x300.jpg">
	    <img src="https://images.craigslist.org/00a_abc_300x300.jpg">
	  </div>
	  <a class="thumb" href="#"><img src="https://images.craigslist.org/00b_def_50x50c.jpg"></a>
	  <time class="date timeago" datetime="2024-05-02T09:30:00-0700">May 2</time>
	  <section id="postingbody">
	    <div class="print-information print-qrcode-container">QR Code Link to This Post</div>
	    Deep plum velvet, barely used. Happy to ship via USPS.
	  </section>
	</body></html>`, nil)

	cl := NewCraigslist(source.NewClient(server.Client(), nil), server.URL, testGazetteer())
	item := domain.NormalizedItem{
		Fingerprint: "craigslist:7712345678",
		Source:      "craigslist",
		NativeID:    "7712345678",
		Title:       "Velvet pillow",
		URL:         server.URL + "/pen/hsh/d/velvet-pillow/7712345678.html",
		ImageURLs:   []string{"https://images.craigslist.org/00a_abc_600x450.jpg"},
	}

	if got := cl.DetailURL(item); got != item.URL {
		t.Fatalf("unexpected detail url: %s", got)
	}
	got, err := cl.Details(context.Background(), item)
	if err != nil {
		t.Fatalf("Details error: %v", err)
	}

	wantImages := []string{
		"https://images.craigslist.org/00a_abc_600x450.jpg",
		"https://images.craigslist.org/00b_def_600x450.jpg",
	}
	if strings.Join(got.ImageURLs, ",") != strings.Join(wantImages, ",") {
		t.Fatalf("unexpected gallery: %v", got.ImageURLs)
	}
	if got.Description != "Deep plum velvet, barely used. Happy to ship via USPS." {
		t.Fatalf("unexpected description: %q", got.Description)
	}
	if !got.Shippable {
		t.Fatalf("body offers shipping")
	}
	want := time.Date(2024, time.May, 2, 16, 30, 0, 0, time.UTC)
	if got.PostedAt == nil || !got.PostedAt.Equal(want) {
		t.Fatalf("unexpected posted time: %v", got.PostedAt)
	}
	if got.Fingerprint != item.Fingerprint || got.Title != item.Title {
		t.Fatalf("identity must not change: %+v", got)
	}
}

func TestCraigslistDetailsKeepsItemOnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	cl := NewCraigslist(source.NewClient(server.Client(), nil), server.URL, nil)
	item := domain.NormalizedItem{Title: "Plum vase", URL: server.URL + "/1.html"}
	got, err := cl.Details(context.Background(), item)
	if err == nil {
		t.Fatalf("expected error for a removed posting")
	}
	if got.Title != item.Title || got.URL != item.URL {
		t.Fatalf("item must be returned unchanged: %+v", got)
	}
}
