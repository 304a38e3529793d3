package worldcities

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// Parser turns city payloads into ParsedRecords. Country payloads are ignored
// here; they belong to the CountryResolver.
type Parser interface {
	Parse(payloads []Payload) []ParsedRecord
}

// FormatParser parses every city payload according to its PayloadFormat.
type FormatParser struct {
	logger *slog.Logger
}

// NewParser creates the default parser.
func NewParser(cfg Config, opts ...Option) *FormatParser {
	cfg.apply(opts)
	return &FormatParser{logger: cfg.logger}
}

// Parse returns the records of all city payloads, in payload order then row order.
func (p *FormatParser) Parse(payloads []Payload) []ParsedRecord {
	var out []ParsedRecord
	for _, pl := range payloads {
		if pl.Source.Kind != KindCities || len(pl.Data) == 0 {
			continue
		}
		recs, dropped, err := parsePayload(pl)
		if err != nil {
			p.logger.Warn("payload not parsed", "source", pl.Source.ID, "format", pl.Format, "error", err)
			continue
		}
		p.logger.Info("source parsed", "source", pl.Source.ID, "format", pl.Format,
			"records", len(recs), "dropped", dropped)
		out = append(out, recs...)
	}
	return out
}

func parsePayload(pl Payload) ([]ParsedRecord, int, error) {
	source := string(pl.Source.ID)
	switch pl.Format {
	case FormatGeonamesZip:
		return parseGeonamesZip(pl.Data, source)
	case FormatGeonamesTSV:
		recs, dropped, err := parseGeonamesRows(bytes.NewReader(pl.Data), source)
		return recs, dropped, err
	case FormatRecordsCSV:
		return parseRecordsCSV(pl.Data, source)
	case FormatRecordsJSON:
		return parseRecordsJSON(pl.Data, source)
	default:
		return nil, 0, fmt.Errorf("unsupported city format %q", pl.Format)
	}
}

func parseGeonamesZip(data []byte, source string) ([]ParsedRecord, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening zip payload: %w", err)
	}
	var (
		out     []ParsedRecord
		dropped int
	)
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, "readme.txt") {
			continue
		}
		recs, d, err := parseZipEntry(f, source)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, recs...)
		dropped += d
	}
	return out, dropped, nil
}

// parseZipEntry reads a single file entry from a zip archive.
// Extracted to avoid defer-in-loop.
func parseZipEntry(f *zip.File, source string) ([]ParsedRecord, int, error) {
	fi, err := f.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("opening file in zip: %w", err)
	}
	defer fi.Close()
	return parseGeonamesRows(fi, source)
}

// Geonames "geoname" table columns used by the parser.
const (
	gnName       = 1
	gnLatitude   = 4
	gnLongitude  = 5
	gnFeature    = 7
	gnCountry    = 8
	gnPopulation = 14
	gnColumns    = 19
)

// parseGeonamesRows parses the tab-separated Geonames city layout. Rows
// without exactly 19 columns, a name or a country code are dropped.
func parseGeonamesRows(r io.Reader, source string) ([]ParsedRecord, int, error) {
	scanner := bufio.NewScanner(r)
	// alternatenames can be very long for large cities
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out     []ParsedRecord
		dropped int
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.SplitN(line, "\t", gnColumns)
		if len(fields) != gnColumns {
			dropped++
			continue
		}
		rec := ParsedRecord{
			Name:       strings.TrimSpace(fields[gnName]),
			Country:    strings.TrimSpace(fields[gnCountry]),
			Lat:        parseFloat(fields[gnLatitude]),
			Lng:        parseFloat(fields[gnLongitude]),
			Population: parseInt(fields[gnPopulation]),
			Capital:    fields[gnFeature] == "PPLC",
			Source:     source,
		}
		if rec.Name == "" || rec.Country == "" {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, dropped, fmt.Errorf("scanning geonames rows: %w", err)
	}
	return out, dropped, nil
}

// parseRecordsCSV parses a header-keyed CSV into keyed objects. A row that
// fails to parse is skipped; the reader resumes on the next line.
func parseRecordsCSV(data []byte, source string) ([]ParsedRecord, int, error) {
	// spreadsheet exports often start with a byte order mark
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var (
		out     []ParsedRecord
		dropped int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			dropped++
			continue
		}
		if err != nil {
			return out, dropped, fmt.Errorf("reading csv: %w", err)
		}
		if len(row) != len(header) {
			dropped++
			continue
		}
		obj := make(map[string]any, len(header))
		for i, h := range header {
			obj[h] = row[i]
		}
		rec, ok := recordFromObject(obj, source)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped, nil
}

// parseRecordsJSON parses an array of loosely-typed objects. Elements that are
// not objects are dropped individually.
func parseRecordsJSON(data []byte, source string) ([]ParsedRecord, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decoding json records: %w", err)
	}
	var (
		out     []ParsedRecord
		dropped int
	)
	for _, r := range raw {
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil || obj == nil {
			dropped++
			continue
		}
		lowered := make(map[string]any, len(obj))
		for k, v := range obj {
			lowered[strings.ToLower(k)] = v
		}
		rec, ok := recordFromObject(lowered, source)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped, nil
}

// recordFromObject maps a keyed object onto ParsedRecord. Keys must already
// be lower-case. It reports false when name or country is missing.
func recordFromObject(obj map[string]any, source string) (ParsedRecord, bool) {
	rec := ParsedRecord{
		Name:       firstString(obj, "name", "city", "city_ascii"),
		Country:    firstString(obj, "iso2", "country_code", "countrycode", "country"),
		Lat:        firstFloat(obj, "lat", "latitude"),
		Lng:        firstFloat(obj, "lng", "lon", "longitude"),
		Population: clampPopulation(firstFloat(obj, "population", "pop")),
		Capital:    capitalFlag(obj["capital"]),
		Source:     source,
	}
	if rec.Name == "" || rec.Country == "" {
		return ParsedRecord{}, false
	}
	return rec, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(cast.ToString(v)); s != "" {
			return s
		}
	}
	return ""
}

// firstFloat returns the first key that coerces to a number, or 0.
func firstFloat(obj map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			v = strings.TrimSpace(s)
		}
		f, err := cast.ToFloat64E(v)
		if err == nil && finite(f) {
			return f
		}
		return 0
	}
	return 0
}

// clampPopulation converts a loosely typed population to an int, clamping
// negatives to 0 and values beyond the int range to math.MaxInt.
func clampPopulation(f float64) int {
	switch {
	case !(f > 0):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	}
	return int(f)
}

// capitalFlag understands booleans and the simplemaps "capital" column, where
// "primary" marks a national capital.
func capitalFlag(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "primary", "true", "yes", "1":
			return true
		default:
			return false
		}
	}
	b, err := cast.ToBoolE(v)
	return err == nil && b
}

// parseFloat returns 0 for unparseable input; the Geonames dump uses empty
// strings for unknown values.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !finite(f) {
		return 0
	}
	return f
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
