package worldcities

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/goccy/go-json"
)

// CountryEntry is the resolved metadata of one country.
type CountryEntry struct {
	Code      string // ISO 3166-1 alpha-2, upper-case
	Name      string
	Flag      string // empty when the source had none
	Timezones []string
	Capital   string
	Lat, Lng  float64 // reference point, valid only when HasCenter
	HasCenter bool
}

// Countries is an immutable code → CountryEntry map with a case-insensitive
// name index. The zero value is empty and usable.
type Countries struct {
	byCode map[string]CountryEntry
	byName map[string]string // lower-cased name or alias → code
}

// NewCountries builds a Countries set from entries. The first entry for a
// code wins; invalid codes are skipped.
func NewCountries(entries []CountryEntry) Countries {
	c := Countries{
		byCode: make(map[string]CountryEntry, len(entries)),
		byName: make(map[string]string, len(entries)+len(countryAliases)),
	}
	for _, e := range entries {
		c.add(e)
	}
	for alias, code := range countryAliases {
		if _, ok := c.byCode[code]; !ok {
			continue
		}
		if _, taken := c.byName[alias]; !taken {
			c.byName[alias] = code
		}
	}
	return c
}

func (c *Countries) add(e CountryEntry) bool {
	code, ok := canonicalCode(e.Code)
	if !ok {
		return false
	}
	if _, exists := c.byCode[code]; exists {
		return false
	}
	e.Code = code
	e.Name = strings.TrimSpace(e.Name)
	e.Timezones = append([]string(nil), e.Timezones...)
	c.byCode[code] = e
	if e.Name != "" {
		key := strings.ToLower(e.Name)
		if _, taken := c.byName[key]; !taken {
			c.byName[key] = code
		}
	}
	return true
}

// Lookup returns the entry for an ISO2 code (case-insensitive).
func (c Countries) Lookup(code string) (CountryEntry, bool) {
	e, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return CountryEntry{}, false
	}
	e.Timezones = append([]string(nil), e.Timezones...)
	return e, true
}

// ByName resolves a display name or alias, case-insensitively.
func (c Countries) ByName(name string) (CountryEntry, bool) {
	code, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CountryEntry{}, false
	}
	return c.Lookup(code)
}

// maxFuzzyDistance caps the edit distance accepted for country names.
// Distances above 2 start matching unrelated short names ("Oman" ~ "Iran").
const maxFuzzyDistance = 2

// Match resolves a name exactly and, failing that, with an edit-distance
// tolerance of maxDist. A fuzzy match is accepted only when exactly one
// country is at the best distance.
func (c Countries) Match(name string, maxDist int) (CountryEntry, bool) {
	if e, ok := c.ByName(name); ok {
		return e, true
	}
	if maxDist <= 0 {
		return CountryEntry{}, false
	}
	if maxDist > maxFuzzyDistance {
		maxDist = maxFuzzyDistance
	}
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return CountryEntry{}, false
	}

	best := maxDist + 1
	var bestCode string
	ambiguous := false
	for key, code := range c.byName {
		d := levenshtein.ComputeDistance(query, key)
		switch {
		case d < best:
			best, bestCode, ambiguous = d, code, false
		case d == best && code != bestCode:
			ambiguous = true
		}
	}
	if bestCode == "" || best > maxDist || ambiguous {
		return CountryEntry{}, false
	}
	return c.Lookup(bestCode)
}

// Len returns the number of countries.
func (c Countries) Len() int { return len(c.byCode) }

// Codes returns all codes in ascending order.
func (c Countries) Codes() []string {
	codes := make([]string, 0, len(c.byCode))
	for code := range c.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// canonicalCode upper-cases s and reports whether it is two ASCII letters.
func canonicalCode(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 {
		return "", false
	}
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return "", false
		}
	}
	return s, true
}

// countryAliases maps common alternative spellings to ISO2 codes. An alias
// is only registered when its code is present.
var countryAliases = map[string]string{
	"usa":                              "US",
	"u.s.":                             "US",
	"u.s.a.":                           "US",
	"united states of america":         "US",
	"uk":                               "GB",
	"u.k.":                             "GB",
	"great britain":                    "GB",
	"britain":                          "GB",
	"england":                          "GB",
	"russian federation":               "RU",
	"south korea":                      "KR",
	"korea, south":                     "KR",
	"republic of korea":                "KR",
	"korea, republic of":               "KR",
	"viet nam":                         "VN",
	"czech republic":                   "CZ",
	"turkey":                           "TR",
	"türkiye":                          "TR",
	"ivory coast":                      "CI",
	"côte d'ivoire":                    "CI",
	"cote d'ivoire":                    "CI",
	"holland":                          "NL",
	"the netherlands":                  "NL",
	"uae":                              "AE",
	"dr congo":                         "CD",
	"democratic republic of the congo": "CD",
	"congo, democratic republic of":    "CD",
	"iran, islamic republic of":        "IR",
	"burma":                            "MM",
	"hong kong sar":                    "HK",
	"mainland china":                   "CN",
	"people's republic of china":       "CN",
	"taiwan, province of china":        "TW",
}

// commonCountries is merged after every dataset so the most frequent codes
// always resolve, even with no country source at all.
var commonCountries = []CountryEntry{
	{Code: "US", Name: "United States", Flag: "🇺🇸", Capital: "Washington, D.C.", Lat: 38.9072, Lng: -77.0369, HasCenter: true},
	{Code: "BR", Name: "Brazil", Flag: "🇧🇷", Capital: "Brasília", Lat: -15.7939, Lng: -47.8828, HasCenter: true},
	{Code: "CA", Name: "Canada", Flag: "🇨🇦", Capital: "Ottawa", Lat: 45.4215, Lng: -75.6972, HasCenter: true},
	{Code: "MX", Name: "Mexico", Flag: "🇲🇽", Capital: "Mexico City", Lat: 19.4326, Lng: -99.1332, HasCenter: true},
	{Code: "GB", Name: "United Kingdom", Flag: "🇬🇧", Capital: "London", Lat: 51.5074, Lng: -0.1278, HasCenter: true},
	{Code: "FR", Name: "France", Flag: "🇫🇷", Capital: "Paris", Lat: 48.8566, Lng: 2.3522, HasCenter: true},
	{Code: "DE", Name: "Germany", Flag: "🇩🇪", Capital: "Berlin", Lat: 52.52, Lng: 13.405, HasCenter: true},
	{Code: "IT", Name: "Italy", Flag: "🇮🇹", Capital: "Rome", Lat: 41.9028, Lng: 12.4964, HasCenter: true},
	{Code: "ES", Name: "Spain", Flag: "🇪🇸", Capital: "Madrid", Lat: 40.4168, Lng: -3.7038, HasCenter: true},
	{Code: "JP", Name: "Japan", Flag: "🇯🇵", Capital: "Tokyo", Lat: 35.6762, Lng: 139.6503, HasCenter: true},
	{Code: "CN", Name: "China", Flag: "🇨🇳", Capital: "Beijing", Lat: 39.9042, Lng: 116.4074, HasCenter: true},
	{Code: "IN", Name: "India", Flag: "🇮🇳", Capital: "New Delhi", Lat: 28.6139, Lng: 77.209, HasCenter: true},
	{Code: "AU", Name: "Australia", Flag: "🇦🇺", Capital: "Canberra", Lat: -35.2809, Lng: 149.13, HasCenter: true},
	{Code: "KR", Name: "South Korea", Flag: "🇰🇷", Capital: "Seoul", Lat: 37.5665, Lng: 126.978, HasCenter: true},
	{Code: "RU", Name: "Russia", Flag: "🇷🇺", Capital: "Moscow", Lat: 55.7558, Lng: 37.6173, HasCenter: true},
	{Code: "AR", Name: "Argentina", Flag: "🇦🇷", Capital: "Buenos Aires", Lat: -34.6037, Lng: -58.3816, HasCenter: true},
	{Code: "ZA", Name: "South Africa", Flag: "🇿🇦", Capital: "Pretoria", Lat: -25.7479, Lng: 28.2293, HasCenter: true},
	{Code: "NG", Name: "Nigeria", Flag: "🇳🇬", Capital: "Abuja", Lat: 9.0765, Lng: 7.3986, HasCenter: true},
	{Code: "EG", Name: "Egypt", Flag: "🇪🇬", Capital: "Cairo", Lat: 30.0444, Lng: 31.2357, HasCenter: true},
	{Code: "NZ", Name: "New Zealand", Flag: "🇳🇿", Capital: "Wellington", Lat: -41.2865, Lng: 174.7762, HasCenter: true},
}

// CommonCountries returns the built-in country set on its own.
func CommonCountries() Countries {
	return NewCountries(commonCountries)
}

// CountryResolver builds the country map from country payloads.
type CountryResolver interface {
	Resolve(payloads []Payload) Countries
}

// PayloadResolver parses REST Countries and Geonames countryInfo payloads in
// provider order, then merges the common countries without overwriting.
type PayloadResolver struct {
	logger *slog.Logger
}

// NewCountryResolver creates the default resolver.
func NewCountryResolver(cfg Config, opts ...Option) *PayloadResolver {
	cfg.apply(opts)
	return &PayloadResolver{logger: cfg.logger}
}

// Resolve never fails; unusable payloads are logged and skipped.
func (r *PayloadResolver) Resolve(payloads []Payload) Countries {
	var entries []CountryEntry
	for _, pl := range payloads {
		if pl.Source.Kind != KindCountries || len(pl.Data) == 0 {
			continue
		}
		var (
			parsed []CountryEntry
			err    error
		)
		switch pl.Format {
		case FormatCountriesJSON:
			parsed, err = parseRestCountries(pl.Data)
		case FormatCountryInfo:
			parsed, err = parseCountryInfo(pl.Data)
		default:
			err = fmt.Errorf("unsupported country format %q", pl.Format)
		}
		if err != nil {
			r.logger.Warn("country payload not parsed", "source", pl.Source.ID, "error", err)
			continue
		}
		r.logger.Debug("countries parsed", "source", pl.Source.ID, "countries", len(parsed))
		entries = append(entries, parsed...)
	}
	entries = append(entries, commonCountries...)
	countries := NewCountries(entries)
	r.logger.Info("countries resolved", "countries", countries.Len())
	return countries
}

type restCountry struct {
	CCA2 string `json:"cca2"`
	Name struct {
		Common string `json:"common"`
	} `json:"name"`
	Flag      string    `json:"flag"`
	Capital   []string  `json:"capital"`
	LatLng    []float64 `json:"latlng"`
	Timezones []string  `json:"timezones"`
}

// parseRestCountries decodes the REST Countries v3.1 array. Malformed
// elements are skipped individually.
func parseRestCountries(data []byte) ([]CountryEntry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding countries: %w", err)
	}
	out := make([]CountryEntry, 0, len(raw))
	for _, r := range raw {
		var rc restCountry
		if err := json.Unmarshal(r, &rc); err != nil {
			continue
		}
		code, ok := canonicalCode(rc.CCA2)
		name := strings.TrimSpace(rc.Name.Common)
		if !ok || name == "" {
			continue
		}
		e := CountryEntry{
			Code:      code,
			Name:      name,
			Flag:      strings.TrimSpace(rc.Flag),
			Timezones: rc.Timezones,
		}
		if len(rc.Capital) > 0 {
			e.Capital = rc.Capital[0]
		}
		if len(rc.LatLng) == 2 && validCoordinate(rc.LatLng[0], rc.LatLng[1]) {
			e.Lat, e.Lng, e.HasCenter = rc.LatLng[0], rc.LatLng[1], true
		}
		out = append(out, e)
	}
	return out, nil
}

// parseCountryInfo reads Geonames countryInfo.txt: 19 tab-separated
// columns, comment lines start with '#'.
func parseCountryInfo(data []byte) ([]CountryEntry, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var out []CountryEntry
	for scanner.Scan() {
		t := scanner.Text()
		if len(t) == 0 || t[0] == '#' {
			continue
		}
		fields := strings.SplitN(t, "\t", 19)
		if len(fields) != 19 {
			continue
		}
		code, ok := canonicalCode(fields[0])
		name := strings.TrimSpace(fields[4])
		if !ok || name == "" {
			continue
		}
		out = append(out, CountryEntry{Code: code, Name: name, Capital: strings.TrimSpace(fields[5])})
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scanning country info: %w", err)
	}
	return out, nil
}
