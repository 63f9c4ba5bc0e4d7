package domain

import (
	"fmt"
	"time"
)

// FetchMode tells an adapter which of its capabilities to use for a request.
type FetchMode string

const (
	ModeAPI    FetchMode = "api"
	ModeScrape FetchMode = "scrape"
)

// RawListing is a source-specific record before normalization. Payload is
// owned by the adapter that produced it and only its normalizer reads it.
type RawListing struct {
	Source  string
	Mode    FetchMode
	Payload any
}

// NormalizedItem is the single listing shape every source is mapped into.
type NormalizedItem struct {
	Fingerprint   string
	Source        string
	NativeID      string
	Title         string
	Description   string
	URL           string
	Price         *float64
	Currency      string
	DistanceMiles *float64
	Location      string
	Shippable     bool
	PostedAt      *time.Time
	ImageURLs     []string
	Category      string
}

// PrimaryImage returns the first image URL or an empty string.
func (i NormalizedItem) PrimaryImage() string {
	if len(i.ImageURLs) == 0 {
		return ""
	}
	return i.ImageURLs[0]
}

// ColorScore captures how plum/purple an item looks from text and images.
type ColorScore struct {
	KeywordScore    float64
	ImageScore      *float64
	Confidence      float64
	FusedScore      float64
	ImagesAnalyzed  int
	ImagesAttempted int
	MatchedTerms    []string
}

// HasImageScore reports whether at least one image was analyzed.
func (c ColorScore) HasImageScore() bool {
	return c.ImageScore != nil
}

// SubScores are the normalized ranking components kept for explainability.
type SubScores struct {
	Color     float64
	Recency   float64
	Price     float64
	Proximity float64
}

// RankedItem is an item with its color analysis and composite ranking score.
type RankedItem struct {
	Item      NormalizedItem
	Color     ColorScore
	Scores    SubScores
	Composite float64
}

// SeenRecord is the persisted marker of an already delivered listing.
type SeenRecord struct {
	Fingerprint   string
	Source        string
	FirstSeenDate time.Time
}

// DeliveryItem is the view of a ranked listing handed to a delivery channel.
type DeliveryItem struct {
	Title          string
	Source         string
	Price          *float64
	Currency       string
	DistanceMiles  *float64
	Location       string
	Shippable      bool
	ImageURL       string
	ListingURL     string
	ColorScore     float64
	CompositeScore float64
}

// NewDeliveryItem projects a ranked item onto the delivery view.
func NewDeliveryItem(r RankedItem) DeliveryItem {
	return DeliveryItem{
		Title:          r.Item.Title,
		Source:         r.Item.Source,
		Price:          r.Item.Price,
		Currency:       r.Item.Currency,
		DistanceMiles:  r.Item.DistanceMiles,
		Location:       r.Item.Location,
		Shippable:      r.Item.Shippable,
		ImageURL:       r.Item.PrimaryImage(),
		ListingURL:     r.Item.URL,
		ColorScore:     r.Color.FusedScore,
		CompositeScore: r.Composite,
	}
}

// PriceText renders the price or "price n/a".
func (d DeliveryItem) PriceText() string {
	if d.Price == nil {
		return "price n/a"
	}
	if d.Currency == "" || d.Currency == "USD" {
		return fmt.Sprintf("$%.2f", *d.Price)
	}
	return fmt.Sprintf("%.2f %s", *d.Price, d.Currency)
}

// DistanceText renders the distance, "ships" or "distance n/a".
func (d DeliveryItem) DistanceText() string {
	switch {
	case d.DistanceMiles != nil:
		return fmt.Sprintf("%.1f mi", *d.DistanceMiles)
	case d.Shippable:
		return "ships"
	default:
		return "distance n/a"
	}
}

// DeliveryReceipt is what a delivery channel reports back. Only an accepted
// receipt counts as a successful delivery.
type DeliveryReceipt struct {
	Accepted  bool
	MessageID string
	Channel   string
}
