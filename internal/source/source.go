package source

import (
	"context"
	"fmt"

	"PlumFinder/internal/domain"
)

// Capabilities is the explicit set of fetch modes an adapter can serve.
type Capabilities struct {
	API    bool
	Scrape bool
}

// Supports reports whether the adapter can serve the mode.
func (c Capabilities) Supports(mode domain.FetchMode) bool {
	switch mode {
	case domain.ModeAPI:
		return c.API
	case domain.ModeScrape:
		return c.Scrape
	default:
		return false
	}
}

// Preferred returns the first mode a run should try.
func (c Capabilities) Preferred() (domain.FetchMode, bool) {
	switch {
	case c.API:
		return domain.ModeAPI, true
	case c.Scrape:
		return domain.ModeScrape, true
	default:
		return "", false
	}
}

// Query carries all parameters required to execute one source-query.
type Query struct {
	Term        string
	Category    string
	Origin      domain.GeoPoint
	PostalCode  string
	RadiusMiles float64
}

// Adapter captures a single marketplace implementation (Craigslist, eBay, etc.).
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	// Search performs one request in the given mode. It returns what the
	// source returned, possibly empty, and never invents listings.
	Search(ctx context.Context, mode domain.FetchMode, q Query) ([]domain.RawListing, error)
	// Normalize maps the adapter's own payload onto the shared item shape.
	Normalize(raw domain.RawListing, q Query) (domain.NormalizedItem, error)
	// ScrapeURL is the page a scrape-mode Search would request, used for
	// crawl-permission checks.
	ScrapeURL(q Query) string
}

// Detailer is implemented by adapters whose search results lack fields that
// the listing's own page carries.
type Detailer interface {
	// DetailURL is the page Details requests for the item, empty when none.
	DetailURL(item domain.NormalizedItem) string
	// Details returns the item completed from its page. Identity fields
	// (fingerprint, source, native id, URL) never change.
	Details(ctx context.Context, item domain.NormalizedItem) (domain.NormalizedItem, error)
}

// Registry keeps adapters by name in registration order.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	name := adapter.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("source %s is not registered", name)
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}
