package worldcities

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ringsaturn/tzf"
)

// Enricher attaches flag, timezone and settlement type to normalized records.
// Implementations must not drop records.
type Enricher interface {
	Enrich(records []NormalizedRecord, countries Countries) []EnrichedRecord
}

// ZoneLocator resolves a timezone name from coordinates.
type ZoneLocator interface {
	TimezoneAt(lat, lng float64) (string, error)
}

type tzfLocator struct {
	finder tzf.F
}

// NewTZFLocator loads the tzf default finder. It keeps the polygon data in
// memory, so build it once per process.
func NewTZFLocator() (ZoneLocator, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize timezone finder: %w", err)
	}
	return &tzfLocator{finder: finder}, nil
}

func (l *tzfLocator) TimezoneAt(lat, lng float64) (string, error) {
	name := l.finder.GetTimezoneName(lng, lat)
	if name == "" {
		return "", fmt.Errorf("could not determine timezone for coordinates lat=%f, lng=%f", lat, lng)
	}
	return name, nil
}

// countryZones is the country → timezone table, one abbreviation per
// country. Countries spanning several zones take the first of their list,
// e.g. US (EST, CST, MST, PST) → EST. It covers every built-in country;
// countries added by a live provider fall back to that provider's first
// zone, which REST Countries spells as a UTC offset.
var countryZones = map[string]string{
	"US": "EST", "CA": "EST", "MX": "CST", "BR": "BRT", "AR": "ART",
	"GB": "GMT", "FR": "CET", "DE": "CET", "IT": "CET", "ES": "CET",
	"RU": "MSK", "CN": "CST", "JP": "JST", "KR": "KST", "IN": "IST",
	"AU": "AEDT", "NZ": "NZDT",

	"AT": "CET", "BE": "CET", "CH": "CET", "CZ": "CET", "DK": "CET",
	"HR": "CET", "HU": "CET", "LU": "CET", "NL": "CET", "NO": "CET",
	"PL": "CET", "RS": "CET", "SE": "CET", "SK": "CET",
	"PT": "WET", "IE": "GMT", "IS": "GMT",
	"BG": "EET", "EG": "EET", "FI": "EET", "GR": "EET", "RO": "EET", "UA": "EET",
	"TR": "TRT", "IL": "IST", "SA": "AST", "AE": "GST", "IR": "IRST",
	"ZA": "SAST", "NG": "WAT", "KE": "EAT", "ET": "EAT",
	"PK": "PKT", "BD": "BST", "TH": "ICT", "VN": "ICT", "ID": "WIB",
	"PH": "PHT", "SG": "SGT", "MY": "MYT", "HK": "HKT", "TW": "CST",
	"CL": "CLT", "CO": "COT", "PE": "PET", "VE": "VET",

	"BO": "BOT", "EC": "ECT", "PY": "PYT", "UY": "UYT",
	"CR": "CST", "GT": "CST", "CU": "CST", "PA": "EST", "DO": "AST",
	"AO": "WAT", "CD": "WAT", "CM": "WAT", "DZ": "CET", "TN": "CET",
	"CI": "GMT", "GH": "GMT", "SN": "GMT", "MA": "WET", "LY": "EET",
	"MZ": "CAT", "SD": "CAT", "ZM": "CAT", "ZW": "CAT", "TZ": "EAT", "UG": "EAT",
	"IQ": "AST", "JO": "AST", "KW": "AST", "QA": "AST", "LB": "EET",
	"KZ": "AQTT", "LK": "SLST", "NP": "NPT", "MM": "MMT", "KH": "ICT",
}

// flagFromCode builds the regional-indicator glyph for an ISO2 code.
func flagFromCode(code string) string {
	code, ok := canonicalCode(code)
	if !ok {
		return ""
	}
	const base = 0x1F1E6
	return string([]rune{rune(base + int(code[0]-'A')), rune(base + int(code[1]-'A'))})
}

// EnrichmentTables are the per-run lookup tables, immutable once built.
type EnrichmentTables struct {
	flags map[string]string
	zones map[string]string
}

// NewEnrichmentTables resolves a flag and a timezone for every country.
// Timezones come from overrides, then the built-in table, then the first
// timezone of the CountryEntry, then the locator at the country reference
// point (when locator is non-nil), then UTC.
func NewEnrichmentTables(countries Countries, overrides map[string]string, locator ZoneLocator) EnrichmentTables {
	codes := countries.Codes()
	t := EnrichmentTables{
		flags: make(map[string]string, len(codes)),
		zones: make(map[string]string, len(codes)),
	}
	upper := make(map[string]string, len(overrides))
	for k, v := range overrides {
		upper[strings.ToUpper(k)] = v
	}

	for _, code := range codes {
		entry, _ := countries.Lookup(code)

		flag := entry.Flag
		if flag == "" {
			flag = flagFromCode(code)
		}
		t.flags[code] = flag

		t.zones[code] = resolveZone(entry, upper, locator)
	}
	return t
}

func resolveZone(entry CountryEntry, overrides map[string]string, locator ZoneLocator) string {
	if z := strings.TrimSpace(overrides[entry.Code]); z != "" {
		return z
	}
	if z, ok := countryZones[entry.Code]; ok {
		return z
	}
	for _, z := range entry.Timezones {
		if z = strings.TrimSpace(z); z != "" {
			return z
		}
	}
	if locator != nil && entry.HasCenter {
		if z, err := locator.TimezoneAt(entry.Lat, entry.Lng); err == nil {
			return z
		}
	}
	return DefaultTimezone
}

// Flag returns the glyph for code, or PlaceholderFlag.
func (t EnrichmentTables) Flag(code string) string {
	if f := t.flags[code]; f != "" {
		return f
	}
	return PlaceholderFlag
}

// Timezone returns the zone for code, or DefaultTimezone.
func (t EnrichmentTables) Timezone(code string) string {
	if z := t.zones[code]; z != "" {
		return z
	}
	return DefaultTimezone
}

// LookupEnricher is the default Enricher.
type LookupEnricher struct {
	opts    Enrichment
	locator ZoneLocator
	logger  *slog.Logger
}

// NewEnricher creates an enricher. With Enrichment.GeoTimezones on and no
// WithZoneLocator option, the tzf finder is loaded; if that fails the geo
// fallback is skipped.
func NewEnricher(cfg Config, opts ...Option) *LookupEnricher {
	cfg.apply(opts)
	e := &LookupEnricher{opts: cfg.Enrichment, logger: cfg.logger}
	if cfg.Enrichment.AddTimezones && cfg.Enrichment.GeoTimezones {
		e.locator = cfg.zones
		if e.locator == nil {
			loc, err := NewTZFLocator()
			if err != nil {
				cfg.logger.Warn("geo timezones disabled", "error", err)
			} else {
				e.locator = loc
			}
		}
	}
	return e
}

// Enrich implements Enricher.
func (e *LookupEnricher) Enrich(records []NormalizedRecord, countries Countries) []EnrichedRecord {
	tables := NewEnrichmentTables(countries, e.opts.TimezoneOverrides, e.locator)
	out := make([]EnrichedRecord, len(records))
	capitals := 0
	for i, r := range records {
		er := EnrichedRecord{NormalizedRecord: r}
		if e.opts.AddFlags {
			er.Flag = tables.Flag(r.Country)
		}
		if e.opts.AddTimezones {
			er.Timezone = tables.Timezone(r.Country)
		}
		if e.opts.AddTypes {
			er.Type = settlementType(r.Capital)
		}
		if r.Capital {
			capitals++
		}
		out[i] = er
	}
	e.logger.Info("records enriched", "records", len(out), "capitals", capitals)
	return out
}

func settlementType(capital bool) string {
	if capital {
		return TypeCapital
	}
	return TypeCity
}

// identityEnricher wraps records without adding metadata.
type identityEnricher struct{}

func (identityEnricher) Enrich(records []NormalizedRecord, _ Countries) []EnrichedRecord {
	out := make([]EnrichedRecord, len(records))
	for i, r := range records {
		out[i] = EnrichedRecord{NormalizedRecord: r}
	}
	return out
}
