package config

import (
	"time"

	"PlumFinder/internal/domain"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
}

// Default returns the built-in configuration. Callers get a fresh copy.
func Default() Config {
	cfg := defaultConfig()
	cfg.bindTimezone()
	return cfg
}

func defaultConfig() Config {
	origin := domain.GeoPoint{Latitude: 37.4419, Longitude: -122.1430}

	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Location: LocationConfig{
			Origin:      origin,
			PostalCode:  "94301",
			RadiusMiles: 20,
		},
		Search: SearchConfig{
			Queries: []QueryConfig{
				{Term: "plum pillow", Category: "pillows"},
				{Term: "purple pillow", Category: "pillows"},
				{Term: "violet pillow", Category: "pillows"},
				{Term: "eggplant pillow", Category: "pillows"},
				{Term: "plum cushion", Category: "pillows"},
				{Term: "purple cushion", Category: "pillows"},
				{Term: "plum vase", Category: "vases"},
				{Term: "purple vase", Category: "vases"},
				{Term: "violet vase", Category: "vases"},
				{Term: "plum plant pot", Category: "planters"},
				{Term: "purple planter", Category: "planters"},
				{Term: "violet pot", Category: "planters"},
				{Term: "plum side table", Category: "tables"},
				{Term: "purple accent table", Category: "tables"},
				{Term: "plum end table", Category: "tables"},
				{Term: "plum decor", Category: "decor"},
				{Term: "purple home decor", Category: "decor"},
				{Term: "plum accent", Category: "decor"},
				{Term: "plum throw", Category: "throws"},
				{Term: "purple throw blanket", Category: "throws"},
			},
			Exclude: []string{
				"candle", "candles", "soap", "perfume", "lotion", "dress", "shirt",
				"sweater", "shoes", "earrings", "necklace", "nail polish", "lipstick",
				"wig", "car", "bike",
			},
			TopK:          30,
			MinColorScore: 0.3,
		},
		Sources: []SourceConfig{
			{
				Name:           SourceCraigslist,
				BaseURL:        "https://sfbay.craigslist.org",
				MinInterval:    2 * time.Second,
				Burst:          1,
				Concurrency:    1,
				MaxAttempts:    3,
				BaseDelay:      2 * time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 30 * time.Second,
				UserAgents:     defaultUserAgents,
				DetailLimit:    40,
			},
			{
				Name:           SourceOfferUp,
				BaseURL:        "https://offerup.com",
				Region:         "palo-alto-ca",
				MinInterval:    2 * time.Second,
				Burst:          1,
				Concurrency:    1,
				MaxAttempts:    3,
				BaseDelay:      2 * time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 30 * time.Second,
				UserAgents:     defaultUserAgents,
			},
			{
				Name:           SourceMercari,
				BaseURL:        "https://www.mercari.com",
				MinInterval:    2 * time.Second,
				Burst:          1,
				Concurrency:    1,
				MaxAttempts:    3,
				BaseDelay:      2 * time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 30 * time.Second,
				UserAgents:     defaultUserAgents,
			},
			{
				Name:           SourceEbay,
				BaseURL:        "https://www.ebay.com",
				APIBaseURL:     "https://api.ebay.com",
				MinInterval:    time.Second,
				Burst:          2,
				Concurrency:    2,
				MaxAttempts:    3,
				BaseDelay:      time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 20 * time.Second,
				UserAgents:     defaultUserAgents,
			},
			{
				Name:           SourceEtsy,
				BaseURL:        "https://www.etsy.com",
				APIBaseURL:     "https://openapi.etsy.com",
				MinInterval:    time.Second,
				Burst:          2,
				Concurrency:    2,
				MaxAttempts:    3,
				BaseDelay:      time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 20 * time.Second,
				UserAgents:     defaultUserAgents,
			},
			{
				Name:           SourcePoshmark,
				BaseURL:        "https://poshmark.com",
				MinInterval:    2 * time.Second,
				Burst:          1,
				Concurrency:    1,
				MaxAttempts:    3,
				BaseDelay:      2 * time.Second,
				MaxDelay:       30 * time.Second,
				RequestTimeout: 30 * time.Second,
				UserAgents:     defaultUserAgents,
			},
		},
		Color: ColorConfig{
			KeywordWeight:      0.4,
			ImageWeight:        0.6,
			HueMin:             270,
			HueMax:             330,
			HueTolerance:       30,
			SaturationMin:      0.15,
			ValueMin:           0.15,
			ValueMax:           1.0,
			PaletteSize:        6,
			CoverageSaturation: 0.35,
			MaxImages:          3,
			ImageConcurrency:   8,
			ImageTimeout:       15 * time.Second,
			ImageMaxBytes:      8 << 20,
			Keywords: []KeywordWeight{
				{Term: "plum", Weight: 0.9},
				{Term: "eggplant", Weight: 0.9},
				{Term: "aubergine", Weight: 0.9},
				{Term: "amethyst", Weight: 0.85},
				{Term: "purple", Weight: 0.8},
				{Term: "violet", Weight: 0.7},
				{Term: "grape", Weight: 0.6},
				{Term: "magenta", Weight: 0.5},
				{Term: "mauve", Weight: 0.5},
				{Term: "lavender", Weight: 0.45},
				{Term: "lilac", Weight: 0.45},
				{Term: "orchid", Weight: 0.4},
				{Term: "burgundy", Weight: 0.3},
				{Term: "wine", Weight: 0.25},
				{Term: "berry", Weight: 0.25},
				{Term: "purple-ish", Weight: 0.3},
				{Term: "purplish", Weight: 0.3},
			},
		},
		Ranking: RankingConfig{
			Weights: RankingWeights{
				Color:     0.4,
				Recency:   0.3,
				Price:     0.15,
				Proximity: 0.15,
			},
			RecencyHalfLife:  72 * time.Hour,
			DefaultPriceBand: PriceBand{Min: 0, Max: 500},
			PriceBands: map[string]PriceBand{
				"pillows":  {Min: 0, Max: 80},
				"throws":   {Min: 0, Max: 120},
				"vases":    {Min: 0, Max: 150},
				"planters": {Min: 0, Max: 150},
				"decor":    {Min: 0, Max: 200},
				"tables":   {Min: 0, Max: 500},
			},
		},
		Store: StoreConfig{
			LocalPath:     "data/seen_items.db",
			ConnTimeout:   5 * time.Second,
			RetentionDays: 0,
		},
		Delivery: DeliveryConfig{
			Channel: ChannelEmail,
			Email: EmailConfig{
				Region: "us-west-2",
				Sender: "plumfinder@example.org",
			},
			Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
		},
		Scheduler: SchedulerConfig{CronExpression: "0 7 * * *", Timezone: "America/Los_Angeles"},
		Metrics:   MetricsConfig{Job: "plumfinder"},
		Places: []domain.Place{
			{Name: "palo alto", Point: origin},
			{Name: "stanford", Point: domain.GeoPoint{Latitude: 37.4275, Longitude: -122.1697}},
			{Name: "menlo park", Point: domain.GeoPoint{Latitude: 37.4530, Longitude: -122.1817}},
			{Name: "los altos", Point: domain.GeoPoint{Latitude: 37.3852, Longitude: -122.1141}},
			{Name: "mountain view", Point: domain.GeoPoint{Latitude: 37.3861, Longitude: -122.0839}},
			{Name: "redwood city", Point: domain.GeoPoint{Latitude: 37.4852, Longitude: -122.2364}},
			{Name: "sunnyvale", Point: domain.GeoPoint{Latitude: 37.3688, Longitude: -122.0363}},
			{Name: "cupertino", Point: domain.GeoPoint{Latitude: 37.3230, Longitude: -122.0322}},
			{Name: "santa clara", Point: domain.GeoPoint{Latitude: 37.3541, Longitude: -121.9552}},
			{Name: "san mateo", Point: domain.GeoPoint{Latitude: 37.5630, Longitude: -122.3255}},
			{Name: "san jose", Point: domain.GeoPoint{Latitude: 37.3382, Longitude: -121.8863}},
			{Name: "fremont", Point: domain.GeoPoint{Latitude: 37.5485, Longitude: -121.9886}},
			{Name: "oakland", Point: domain.GeoPoint{Latitude: 37.8044, Longitude: -122.2712}},
			{Name: "san francisco", Point: domain.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}},
		},
	}
}
