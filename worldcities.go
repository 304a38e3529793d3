// Package worldcities builds the region corpus consumed by the region picker.
//
// The pipeline downloads city and country datasets (falling back to local
// cache files and then to embedded defaults), normalizes and deduplicates
// the cities, enriches them with flag, timezone and settlement type, caps
// the number of cities per country and writes one ordered JSON array:
//
//	p := worldcities.NewPipeline(worldcities.DefaultConfig())
//	result, err := p.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Stats.Generated)
package worldcities

import "math"

// Settlement types attached during enrichment.
const (
	TypeCapital = "capital"
	TypeCity    = "city"
)

// Defaults substituted when an enrichment value is unavailable.
const (
	PlaceholderFlag = "🏳️"
	DefaultTimezone = "UTC"
)

// ParsedRecord is the uniform shape produced by the parsers, one per source row.
type ParsedRecord struct {
	Name       string
	Country    string // ISO2 code or free-text country name, as the source had it
	Lat        float64
	Lng        float64
	Population int
	Capital    bool
	Source     string // provider ID
}

// NormalizedRecord is a city with a canonical slug and an ISO2 country code.
type NormalizedRecord struct {
	Slug       string
	Name       string // place name as parsed, without the country suffix
	Label      string
	Country    string
	Lat        float64
	Lng        float64
	Population int
	Capital    bool
	Source     string
}

// EnrichedRecord is a NormalizedRecord with derived metadata attached.
// Population and Source are kept for ranking and dropped by projection.
type EnrichedRecord struct {
	NormalizedRecord
	Flag     string
	Timezone string
	Type     string
}

// Region is the externally visible record. Field names are a contract with
// the region picker and must not change.
type Region struct {
	Slug       string  `json:"slug"`
	Label      string  `json:"label"`
	Country    string  `json:"country"`
	Flag       string  `json:"flag"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Timezone   string  `json:"timezone"`
	Type       string  `json:"type"`
	Population int     `json:"population,omitempty"`
}

// roundCoord rounds a coordinate to 4 decimal places (~11m).
func roundCoord(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validCoordinate reports whether lat/lng are finite and within
// [-90, 90] x [-180, 180].
func validCoordinate(lat, lng float64) bool {
	return finite(lat) && finite(lng) &&
		lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Parsed converts n back into the parser shape, so an already normalized
// set can be fed through normalization again.
func (n NormalizedRecord) Parsed() ParsedRecord {
	return ParsedRecord{
		Name:       n.Name,
		Country:    n.Country,
		Lat:        n.Lat,
		Lng:        n.Lng,
		Population: n.Population,
		Capital:    n.Capital,
		Source:     n.Source,
	}
}
