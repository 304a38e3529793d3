package worldcities

import (
	"log/slog"
	"strings"
)

// Normalizer canonicalizes parsed records against the resolved countries.
type Normalizer interface {
	Normalize(records []ParsedRecord, countries Countries) []NormalizedRecord
}

// RecordNormalizer is the default Normalizer.
//
// Per record, in order: reject missing name/country or invalid coordinates,
// canonicalize the country to an ISO2 code present in countries, derive the
// slug, deduplicate by slug according to the duplicate policy, then apply the
// population floor. Kept coordinates are rounded to 4 decimals.
type RecordNormalizer struct {
	minPopulation int
	slug          SlugOptions
	policy        string
	fuzzy         int
	logger        *slog.Logger
}

// NewNormalizer creates a normalizer from cfg.
func NewNormalizer(cfg Config, opts ...Option) *RecordNormalizer {
	cfg.apply(opts)
	return &RecordNormalizer{
		minPopulation: cfg.MinPopulation,
		slug:          cfg.SlugOptions,
		policy:        cfg.Normalization.DuplicatePolicy,
		fuzzy:         cfg.Normalization.CountryNameFuzzyDistance,
		logger:        cfg.logger,
	}
}

// NormalizeStats counts why records were dropped.
type NormalizeStats struct {
	Invalid        int `json:"invalid"`
	UnknownCountry int `json:"unknownCountry"`
	EmptySlug      int `json:"emptySlug"`
	Duplicate      int `json:"duplicate"`
	BelowFloor     int `json:"belowFloor"`
}

// Normalize implements Normalizer.
func (n *RecordNormalizer) Normalize(records []ParsedRecord, countries Countries) []NormalizedRecord {
	out, st := n.normalize(records, countries)
	n.logger.Info("records normalized",
		"in", len(records), "out", len(out),
		"invalid", st.Invalid, "unknownCountry", st.UnknownCountry,
		"emptySlug", st.EmptySlug, "duplicate", st.Duplicate, "belowFloor", st.BelowFloor)
	return out
}

func (n *RecordNormalizer) normalize(records []ParsedRecord, countries Countries) ([]NormalizedRecord, NormalizeStats) {
	var st NormalizeStats
	out := make([]NormalizedRecord, 0, len(records))
	seen := make(map[string]int, len(records)) // slug → index in out, or -1 when claimed but dropped

	for _, r := range records {
		name := strings.TrimSpace(r.Name)
		if name == "" || strings.TrimSpace(r.Country) == "" || !validCoordinate(r.Lat, r.Lng) {
			st.Invalid++
			continue
		}

		entry, ok := n.resolveCountry(r.Country, countries)
		if !ok {
			st.UnknownCountry++
			continue
		}

		slug := regionSlug(entry.Code, name, n.slug)
		if slug == "" {
			st.EmptySlug++
			continue
		}

		rec := NormalizedRecord{
			Slug:       slug,
			Name:       name,
			Label:      name + ", " + entry.Name,
			Country:    entry.Code,
			Lat:        roundCoord(r.Lat),
			Lng:        roundCoord(r.Lng),
			Population: r.Population,
			Capital:    r.Capital,
			Source:     r.Source,
		}

		if idx, dup := seen[slug]; dup {
			st.Duplicate++
			if n.policy == DuplicatePopulation && idx >= 0 && rec.Population > out[idx].Population {
				out[idx] = rec
			}
			continue
		}

		if rec.Population < n.minPopulation {
			// the slug stays claimed, so a later duplicate cannot resurface
			// under the first-wins policy
			st.BelowFloor++
			if n.policy == DuplicatePopulation {
				continue
			}
			seen[slug] = -1
			continue
		}
		seen[slug] = len(out)
		out = append(out, rec)
	}
	return out, st
}

func (n *RecordNormalizer) resolveCountry(country string, countries Countries) (CountryEntry, bool) {
	if code, ok := canonicalCode(country); ok {
		return countries.Lookup(code)
	}
	return countries.Match(country, n.fuzzy)
}

// identityNormalizer converts records without validation, deduplication or
// country lookup. Used when no Normalizer is configured.
type identityNormalizer struct {
	slug SlugOptions
}

func (n identityNormalizer) Normalize(records []ParsedRecord, _ Countries) []NormalizedRecord {
	out := make([]NormalizedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, NormalizedRecord{
			Slug:       regionSlug(r.Country, r.Name, n.slug),
			Name:       r.Name,
			Label:      r.Name,
			Country:    strings.ToUpper(r.Country),
			Lat:        r.Lat,
			Lng:        r.Lng,
			Population: r.Population,
			Capital:    r.Capital,
			Source:     r.Source,
		})
	}
	return out
}
