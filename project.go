package worldcities

import (
	"log/slog"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Projector maps enriched records to the output schema and fixes their order.
type Projector interface {
	Project(records []EnrichedRecord) []Region
}

// RegionProjector is the default Projector. It re-checks every record
// independently of the filter, fills missing enrichment fields with their
// defaults and sorts by country, then label.
type RegionProjector struct {
	includePopulation bool
	logger            *slog.Logger
}

// NewProjector creates a projector from cfg.
func NewProjector(cfg Config, opts ...Option) *RegionProjector {
	cfg.apply(opts)
	return &RegionProjector{includePopulation: cfg.Output.IncludePopulation, logger: cfg.logger}
}

// Project implements Projector.
func (p *RegionProjector) Project(records []EnrichedRecord) []Region {
	out := make([]Region, 0, len(records))
	for _, r := range records {
		if !usable(r) {
			continue
		}
		out = append(out, toRegion(r, p.includePopulation))
	}
	SortRegions(out)
	p.logger.Info("records projected", "in", len(records), "out", len(out))
	return out
}

func toRegion(r EnrichedRecord, includePopulation bool) Region {
	reg := Region{
		Slug:     r.Slug,
		Label:    r.Label,
		Country:  r.Country,
		Flag:     r.Flag,
		Lat:      r.Lat,
		Lng:      r.Lng,
		Timezone: r.Timezone,
		Type:     r.Type,
	}
	if reg.Flag == "" {
		reg.Flag = PlaceholderFlag
	}
	if reg.Timezone == "" {
		reg.Timezone = DefaultTimezone
	}
	if reg.Type == "" {
		reg.Type = TypeCity
	}
	if includePopulation {
		reg.Population = r.Population
	}
	return reg
}

// SortRegions orders regions by country code, then label using the root
// locale collation, then slug.
func SortRegions(regions []Region) {
	col := collate.New(language.Und)
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if c := col.CompareString(a.Label, b.Label); c != 0 {
			return c < 0
		}
		return a.Slug < b.Slug
	})
}

// RegionsSorted reports whether regions are in SortRegions order.
func RegionsSorted(regions []Region) bool {
	col := collate.New(language.Und)
	for i := 1; i < len(regions); i++ {
		a, b := regions[i-1], regions[i]
		if a.Country != b.Country {
			if a.Country > b.Country {
				return false
			}
			continue
		}
		if c := col.CompareString(a.Label, b.Label); c > 0 || (c == 0 && a.Slug > b.Slug) {
			return false
		}
	}
	return true
}

// identityProjector converts without re-checking or sorting.
type identityProjector struct {
	includePopulation bool
}

func (p identityProjector) Project(records []EnrichedRecord) []Region {
	out := make([]Region, len(records))
	for i, r := range records {
		out[i] = toRegion(r, p.includePopulation)
	}
	return out
}
