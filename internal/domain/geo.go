package domain

import (
	"math"
	"strings"
)

const earthRadiusMiles = 3958.8

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// IsZero reports whether the point was left unset.
func (p GeoPoint) IsZero() bool {
	return p.Latitude == 0 && p.Longitude == 0
}

// DistanceMiles returns the great-circle distance between two points.
func (p GeoPoint) DistanceMiles(other GeoPoint) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - p.Latitude) * math.Pi / 180
	dLon := (other.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Place is a named location used to resolve free-text listing locations.
type Place struct {
	Name  string   `yaml:"name"`
	Point GeoPoint `yaml:"point"`
}

// Gazetteer resolves location text like "Palo Alto, CA" to a distance from
// the search origin.
type Gazetteer struct {
	origin GeoPoint
	places []Place
}

// NewGazetteer builds a resolver over the given places.
func NewGazetteer(origin GeoPoint, places []Place) *Gazetteer {
	return &Gazetteer{origin: origin, places: places}
}

// DistanceFor returns the distance to the first known place mentioned in the
// text. Longer names are checked first so "south san francisco" wins over
// "san francisco".
func (g *Gazetteer) DistanceFor(location string) (float64, bool) {
	if g == nil || strings.TrimSpace(location) == "" {
		return 0, false
	}
	text := strings.ToLower(location)

	var (
		best    *Place
		bestLen int
	)
	for i := range g.places {
		name := strings.ToLower(strings.TrimSpace(g.places[i].Name))
		if name == "" || !strings.Contains(text, name) {
			continue
		}
		if len(name) > bestLen {
			best = &g.places[i]
			bestLen = len(name)
		}
	}
	if best == nil {
		return 0, false
	}
	return g.origin.DistanceMiles(best.Point), true
}
