package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"PlumFinder/internal/domain"
)

const (
	neutralScore = 0.5
	tieEpsilon   = 1e-9
)

// Weights are the composite coefficients; they are normalized to sum to one.
type Weights struct {
	Color     float64
	Recency   float64
	Price     float64
	Proximity float64
}

func (w Weights) normalized() Weights {
	sum := w.Color + w.Recency + w.Price + w.Proximity
	if sum <= 0 {
		return Weights{Color: 0.25, Recency: 0.25, Price: 0.25, Proximity: 0.25}
	}
	return Weights{
		Color:     w.Color / sum,
		Recency:   w.Recency / sum,
		Price:     w.Price / sum,
		Proximity: w.Proximity / sum,
	}
}

// PriceBand is the normal price range for a category.
type PriceBand struct {
	Min float64
	Max float64
}

// Config tunes the ranking engine.
type Config struct {
	Weights          Weights
	RecencyHalfLife  time.Duration
	DefaultPriceBand PriceBand
	PriceBands       map[string]PriceBand
	RadiusMiles      float64
	// MinColorScore drops items below this fused score; zero disables it.
	MinColorScore float64
	TopK          int
}

// Engine computes composite scores and orders items. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine normalizes weights and fills defaults.
func NewEngine(cfg Config) *Engine {
	cfg.Weights = cfg.Weights.normalized()
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 72 * time.Hour
	}
	if cfg.DefaultPriceBand.Max <= cfg.DefaultPriceBand.Min {
		cfg.DefaultPriceBand = PriceBand{Min: 0, Max: 500}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 30
	}
	return &Engine{cfg: cfg}
}

// Recency decays by half every half-life. Unknown times are neutral and
// future times count as brand new.
func (e *Engine) Recency(postedAt *time.Time, now time.Time) float64 {
	if postedAt == nil {
		return neutralScore
	}
	age := now.Sub(*postedAt)
	if age <= 0 {
		return 1
	}
	return clamp01(math.Pow(0.5, age.Hours()/e.cfg.RecencyHalfLife.Hours()))
}

// Price is inverse-normalized within the item's category band. Unknown
// prices are neutral.
func (e *Engine) Price(price *float64, category string) float64 {
	if price == nil || math.IsNaN(*price) {
		return neutralScore
	}
	band := e.cfg.DefaultPriceBand
	if b, ok := e.cfg.PriceBands[strings.ToLower(category)]; ok && b.Max > b.Min {
		band = b
	}
	return clamp01(1 - (*price-band.Min)/(band.Max-band.Min))
}

// Proximity is 1 - distance/radius. Shippable items get full credit and
// unknown distances are neutral.
func (e *Engine) Proximity(item domain.NormalizedItem) float64 {
	if item.Shippable {
		return 1
	}
	if item.DistanceMiles == nil || e.cfg.RadiusMiles <= 0 {
		return neutralScore
	}
	return clamp01(1 - *item.DistanceMiles/e.cfg.RadiusMiles)
}

// Score builds the ranked view of one item.
func (e *Engine) Score(item domain.NormalizedItem, color domain.ColorScore, now time.Time) domain.RankedItem {
	sub := domain.SubScores{
		Color:     clamp01(color.FusedScore),
		Recency:   e.Recency(item.PostedAt, now),
		Price:     e.Price(item.Price, item.Category),
		Proximity: e.Proximity(item),
	}
	w := e.cfg.Weights
	composite := w.Color*sub.Color + w.Recency*sub.Recency + w.Price*sub.Price + w.Proximity*sub.Proximity

	return domain.RankedItem{
		Item:      item,
		Color:     color,
		Scores:    sub,
		Composite: clamp01(composite),
	}
}

// Rank scores, thresholds, orders and truncates to top K. The input slices
// are index-aligned.
func (e *Engine) Rank(items []domain.NormalizedItem, colors []domain.ColorScore, now time.Time) []domain.RankedItem {
	ranked := make([]domain.RankedItem, 0, len(items))
	for i, item := range items {
		if i >= len(colors) {
			break
		}
		if e.cfg.MinColorScore > 0 && colors[i].FusedScore < e.cfg.MinColorScore {
			continue
		}
		ranked = append(ranked, e.Score(item, colors[i], now))
	}
	Sort(ranked)
	if len(ranked) > e.cfg.TopK {
		ranked = ranked[:e.cfg.TopK]
	}
	return ranked
}

// Sort orders by composite descending. Near-equal composites fall back to
// color, then recency, then lower price, then fingerprint.
func Sort(items []domain.RankedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return less(items[i], items[j])
	})
}

func less(a, b domain.RankedItem) bool {
	if d := a.Composite - b.Composite; math.Abs(d) > tieEpsilon {
		return d > 0
	}
	if d := a.Scores.Color - b.Scores.Color; math.Abs(d) > tieEpsilon {
		return d > 0
	}
	if c := compareTimes(a.Item.PostedAt, b.Item.PostedAt); c != 0 {
		return c > 0
	}
	if c := comparePrices(a.Item.Price, b.Item.Price); c != 0 {
		return c < 0
	}
	return a.Item.Fingerprint < b.Item.Fingerprint
}

// compareTimes orders newer first; unknown counts as oldest.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// comparePrices orders cheaper first; unknown counts as most expensive.
func comparePrices(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case math.Abs(*a-*b) <= tieEpsilon:
		return 0
	case *a < *b:
		return -1
	default:
		return 1
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
