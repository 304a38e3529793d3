package worldcities

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// DataSourceID identifies a provider.
type DataSourceID string

const (
	DataSourceRestCountries   DataSourceID = "restcountries"
	DataSourceGeonamesCountry DataSourceID = "geonamesCountryInfo"
	DataSourceGeonamesCities  DataSourceID = "geonamesCities15000"
	DataSourceWorldCities     DataSourceID = "worldcities"
)

// DataKind says which stage consumes a provider's payload.
type DataKind string

const (
	KindCities    DataKind = "cities"
	KindCountries DataKind = "countries"
)

// PayloadFormat is the raw layout of a payload. Parsers dispatch on it, not on
// the provider, because a fallback payload may have a different layout than
// the network one.
type PayloadFormat string

const (
	FormatCountriesJSON PayloadFormat = "countries-json"       // REST Countries array
	FormatCountryInfo   PayloadFormat = "geonames-countryinfo" // Geonames countryInfo.txt
	FormatGeonamesZip   PayloadFormat = "geonames-zip"         // Geonames citiesNNNN.zip
	FormatGeonamesTSV   PayloadFormat = "geonames-tsv"         // Geonames citiesNNNN.txt
	FormatRecordsCSV    PayloadFormat = "records-csv"          // header-keyed CSV
	FormatRecordsJSON   PayloadFormat = "records-json"         // array of keyed objects
)

// Origin records where a payload came from.
type Origin string

const (
	OriginNetwork Origin = "network"
	OriginCache   Origin = "cache"
	OriginBuiltin Origin = "builtin"
	OriginNone    Origin = "none"
)

// DataSource defines a provider of raw city or country records.
type DataSource struct {
	ID       DataSourceID
	Kind     DataKind
	URL      string        // download URL; empty means cache/default only
	Path     string        // cache file name inside the cache directory
	Format   PayloadFormat // layout of the downloaded and cached file
	Optional bool          // an optional provider may yield an empty payload

	DefaultFile   string // embedded default dataset, if any
	DefaultFormat PayloadFormat
}

// dataSetFiles is the built-in provider table. Order matters: it is the
// observation order for first-source-wins country merging and for
// first-slug-wins deduplication.
var dataSetFiles = []DataSource{
	{
		ID: DataSourceRestCountries, Kind: KindCountries,
		URL:  "https://restcountries.com/v3.1/all?fields=cca2,name,flag,capital,latlng,timezones",
		Path: "countries.json", Format: FormatCountriesJSON,
		DefaultFile: "defaults/countries.json", DefaultFormat: FormatCountriesJSON,
	},
	{
		ID: DataSourceGeonamesCountry, Kind: KindCountries,
		URL:  "https://download.geonames.org/export/dump/countryInfo.txt",
		Path: "countryInfo.txt", Format: FormatCountryInfo,
		Optional: true,
	},
	{
		ID: DataSourceGeonamesCities, Kind: KindCities,
		URL:  "https://download.geonames.org/export/dump/cities15000.zip",
		Path: "cities15000.zip", Format: FormatGeonamesZip,
		DefaultFile: "defaults/cities.json", DefaultFormat: FormatRecordsJSON,
	},
	{
		ID: DataSourceWorldCities, Kind: KindCities,
		Path: "worldcities.csv", Format: FormatRecordsCSV,
		Optional: true,
	},
}

// DefaultDataSources returns a copy of the built-in provider table.
func DefaultDataSources() []DataSource {
	return append([]DataSource(nil), dataSetFiles...)
}

// DataSources returns the provider table with the configured overrides applied.
func (c Config) DataSources() []DataSource {
	out := make([]DataSource, 0, len(dataSetFiles))
	for _, ds := range dataSetFiles {
		if pc, ok := c.providerConfig(ds.ID); ok {
			if pc.Disabled {
				continue
			}
			if pc.URL != "" {
				ds.URL = pc.URL
			}
		}
		out = append(out, ds)
	}
	return out
}

// providerConfig finds the override for id. Keys are matched
// case-insensitively because viper lower-cases map keys.
func (c Config) providerConfig(id DataSourceID) (ProviderConfig, bool) {
	if pc, ok := c.Sources.Providers[string(id)]; ok {
		return pc, true
	}
	for k, pc := range c.Sources.Providers {
		if strings.EqualFold(k, string(id)) {
			return pc, true
		}
	}
	return ProviderConfig{}, false
}

// Payload is the raw content acquired for one provider.
type Payload struct {
	Source DataSource
	Format PayloadFormat
	Origin Origin
	Data   []byte
	Err    error // last retrieval error, kept for stats; never fatal
}

// Acquirer retrieves raw payloads for every configured provider.
// Implementations never fail: they always return some payload per provider.
type Acquirer interface {
	Acquire(ctx context.Context) []Payload
}

// SourceAcquirer downloads providers over HTTP, keeps the last good download
// in the cache directory and falls back to cache, then to embedded defaults.
type SourceAcquirer struct {
	sources  []DataSource
	cacheDir string
	offline  bool
	parallel int
	client   *http.Client
	logger   *slog.Logger
}

// NewAcquirer creates an acquirer for cfg's provider table.
func NewAcquirer(cfg Config, opts ...Option) *SourceAcquirer {
	cfg.apply(opts)
	return &SourceAcquirer{
		sources:  cfg.DataSources(),
		cacheDir: cfg.Paths.Cache,
		offline:  cfg.Sources.Offline,
		parallel: max(cfg.Sources.Parallelism, 1),
		client:   cfg.httpClient,
		logger:   cfg.logger,
	}
}

// maxPayloadBytes bounds a single download. cities15000.zip is ~3MB;
// cities1000.zip ~10MB.
const maxPayloadBytes = 256 << 20

// Acquire fetches the providers one at a time unless Sources.Parallelism
// allows more. Payloads are returned in table order either way.
func (a *SourceAcquirer) Acquire(ctx context.Context) []Payload {
	out := make([]Payload, len(a.sources))
	var g errgroup.Group
	g.SetLimit(a.parallel)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			p := a.fetch(ctx, src)
			a.logger.Info("source acquired",
				"source", src.ID, "origin", p.Origin, "bytes", len(p.Data))
			out[i] = p
			return nil
		})
	}
	// fetch never fails; errors travel on the payload
	_ = g.Wait()
	return out
}

func (a *SourceAcquirer) fetch(ctx context.Context, src DataSource) Payload {
	cachePath := filepath.Join(a.cacheDir, filepath.Base(src.Path))
	var lastErr error

	if !a.offline && src.URL != "" {
		data, err := a.download(ctx, src.URL)
		if err == nil {
			err = sniffPayload(data, src.Format)
		}
		if err == nil {
			if werr := a.storeCache(cachePath, data); werr != nil {
				a.logger.Warn("failed to store cache", "source", src.ID, "error", werr)
			}
			return Payload{Source: src, Format: src.Format, Origin: OriginNetwork, Data: data}
		}
		lastErr = err
		a.logger.Warn("download failed, falling back", "source", src.ID, "error", err)
	}

	if data, err := os.ReadFile(cachePath); err == nil {
		if serr := sniffPayload(data, src.Format); serr == nil {
			return Payload{Source: src, Format: src.Format, Origin: OriginCache, Data: data, Err: lastErr}
		} else {
			a.logger.Warn("ignoring malformed cache file", "source", src.ID, "path", cachePath, "error", serr)
		}
	}

	if src.DefaultFile != "" {
		data, err := builtinDataset(src.DefaultFile)
		if err == nil {
			return Payload{Source: src, Format: src.DefaultFormat, Origin: OriginBuiltin, Data: data, Err: lastErr}
		}
		a.logger.Error("built-in dataset unavailable", "source", src.ID, "error", err)
	}

	if !src.Optional {
		a.logger.Warn("no data for required source", "source", src.ID)
	}
	return Payload{Source: src, Format: src.Format, Origin: OriginNone, Err: lastErr}
}

func (a *SourceAcquirer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("HTTP GET %s: body exceeds %d bytes", url, maxPayloadBytes)
	}
	return data, nil
}

func (a *SourceAcquirer) storeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

var errEmptyPayload = errors.New("empty payload")

// sniffPayload rejects bodies that cannot be the declared format, such as an
// HTML error page served with status 200.
func sniffPayload(data []byte, format PayloadFormat) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errEmptyPayload
	}
	switch format {
	case FormatCountriesJSON, FormatRecordsJSON:
		if trimmed[0] != '[' || !json.Valid(trimmed) {
			return fmt.Errorf("malformed %s payload: not a JSON array", format)
		}
	case FormatGeonamesZip:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return fmt.Errorf("malformed %s payload: %w", format, err)
		}
		if len(zr.File) == 0 {
			return fmt.Errorf("malformed %s payload: empty archive", format)
		}
	case FormatGeonamesTSV, FormatCountryInfo:
		if !hasDataLine(trimmed, "\t") {
			return fmt.Errorf("malformed %s payload: no tab-separated rows", format)
		}
	case FormatRecordsCSV:
		if !hasDataLine(trimmed, ",") {
			return fmt.Errorf("malformed %s payload: no comma-separated rows", format)
		}
	}
	return nil
}

func hasDataLine(data []byte, sep string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.Contains(line, sep) {
			return true
		}
	}
	return false
}

// CacheReport describes the outcome of RefreshCache for one provider.
type CacheReport struct {
	Source DataSourceID
	Origin Origin
	Bytes  int
	Err    error
}

// RefreshCache downloads every provider into the cache directory without
// running the rest of the pipeline. It fails only when the cache directory
// cannot be created.
func RefreshCache(ctx context.Context, cfg Config, opts ...Option) ([]CacheReport, error) {
	cfg.apply(opts)
	if err := os.MkdirAll(cfg.Paths.Cache, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	a := NewAcquirer(cfg)
	payloads := a.Acquire(ctx)
	reports := make([]CacheReport, len(payloads))
	for i, p := range payloads {
		reports[i] = CacheReport{Source: p.Source.ID, Origin: p.Origin, Bytes: len(p.Data), Err: p.Err}
	}
	return reports, nil
}
