package worldcities

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// quietLogger discards everything; stage logs are noise in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns an offline configuration writing into temp dirs.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Paths.Output = t.TempDir()
	cfg.Paths.Cache = t.TempDir()
	cfg.Paths.FinalDestination = t.TempDir() + "/deployed/world-cities.json"
	cfg.Sources.Offline = true
	return cfg
}

// geonamesLine builds a 19-column Geonames row.
func geonamesLine(name, lat, lng, feature, country, population string) string {
	cols := make([]string, 19)
	cols[0] = "1"
	cols[1] = name
	cols[2] = name
	cols[4] = lat
	cols[5] = lng
	cols[6] = "P"
	cols[7] = feature
	cols[8] = country
	cols[14] = population
	return strings.Join(cols, "\t")
}

// zipOf returns a zip archive holding a single file.
func zipOf(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func cityPayload(id DataSourceID, format PayloadFormat, data string) Payload {
	return Payload{
		Source: DataSource{ID: id, Kind: KindCities, Format: format},
		Format: format,
		Origin: OriginCache,
		Data:   []byte(data),
	}
}

func countryPayload(id DataSourceID, format PayloadFormat, data string) Payload {
	return Payload{
		Source: DataSource{ID: id, Kind: KindCountries, Format: format},
		Format: format,
		Origin: OriginCache,
		Data:   []byte(data),
	}
}
