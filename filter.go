package worldcities

import (
	"log/slog"
	"sort"
	"strings"
)

// Filter drops unusable records and caps the number kept per country.
type Filter interface {
	Filter(records []EnrichedRecord) []EnrichedRecord
}

// QualityFilter is the default Filter. It drops records with invalid
// coordinates or a missing slug, label or country, orders the rest by
// population (largest first) and keeps at most maxPerCountry per country.
type QualityFilter struct {
	maxPerCountry int
	logger        *slog.Logger
}

// NewFilter creates a filter from cfg. MaxCitiesPerCountry 0 disables the cap.
func NewFilter(cfg Config, opts ...Option) *QualityFilter {
	cfg.apply(opts)
	return &QualityFilter{maxPerCountry: cfg.MaxCitiesPerCountry, logger: cfg.logger}
}

// Filter implements Filter. The result is ordered by population descending,
// then label, then slug.
func (f *QualityFilter) Filter(records []EnrichedRecord) []EnrichedRecord {
	kept := make([]EnrichedRecord, 0, len(records))
	invalid := 0
	for _, r := range records {
		if !usable(r) {
			invalid++
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Population != b.Population {
			return a.Population > b.Population
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Slug < b.Slug
	})

	capped := 0
	if f.maxPerCountry > 0 {
		counts := make(map[string]int)
		out := kept[:0]
		for _, r := range kept {
			if counts[r.Country] >= f.maxPerCountry {
				capped++
				continue
			}
			counts[r.Country]++
			out = append(out, r)
		}
		kept = out
	}

	f.logger.Info("records filtered", "in", len(records), "out", len(kept),
		"invalid", invalid, "capped", capped)
	return kept
}

// usable reports whether r has valid coordinates and the identifying fields.
func usable(r EnrichedRecord) bool {
	return validCoordinate(r.Lat, r.Lng) &&
		strings.TrimSpace(r.Slug) != "" &&
		strings.TrimSpace(r.Label) != "" &&
		strings.TrimSpace(r.Country) != ""
}

type identityFilter struct{}

func (identityFilter) Filter(records []EnrichedRecord) []EnrichedRecord {
	return records
}
