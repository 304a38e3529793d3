package worldcities

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

const restCountriesBody = `[{"cca2":"US","name":{"common":"United States"},"flag":"🇺🇸"}]`

// onlySource disables every built-in provider except id, which is pointed at url.
func onlySource(cfg *Config, id DataSourceID, url string) {
	cfg.Sources.Providers = make(map[string]ProviderConfig)
	for _, ds := range dataSetFiles {
		if ds.ID != id {
			cfg.Sources.Providers[string(ds.ID)] = ProviderConfig{Disabled: true}
		}
	}
	cfg.Sources.Providers[string(id)] = ProviderConfig{URL: url}
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func acquireOne(t *testing.T, cfg Config) Payload {
	t.Helper()
	payloads := NewAcquirer(cfg, WithLogger(quietLogger())).Acquire(context.Background())
	if len(payloads) != 1 {
		t.Fatalf("len(payloads) = %d, want 1", len(payloads))
	}
	return payloads[0]
}

func TestAcquire_NetworkStoresCache(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, restCountriesBody)
	cfg := testConfig(t)
	cfg.Sources.Offline = false
	onlySource(&cfg, DataSourceRestCountries, srv.URL)

	p := acquireOne(t, cfg)
	if p.Origin != OriginNetwork || string(p.Data) != restCountriesBody || p.Err != nil {
		t.Errorf("payload = %s/%q/%v", p.Origin, p.Data, p.Err)
	}
	cached, err := os.ReadFile(filepath.Join(cfg.Paths.Cache, "countries.json"))
	if err != nil {
		t.Fatalf("cache not written: %v", err)
	}
	if string(cached) != restCountriesBody {
		t.Errorf("cache = %q", cached)
	}
}

func TestAcquire_ServerErrorFallsBackToCache(t *testing.T) {
	srv, _ := serve(t, http.StatusInternalServerError, "boom")
	cfg := testConfig(t)
	cfg.Sources.Offline = false
	onlySource(&cfg, DataSourceRestCountries, srv.URL)
	if err := os.WriteFile(filepath.Join(cfg.Paths.Cache, "countries.json"), []byte(restCountriesBody), 0o644); err != nil {
		t.Fatal(err)
	}

	p := acquireOne(t, cfg)
	if p.Origin != OriginCache {
		t.Errorf("Origin = %s, want cache", p.Origin)
	}
	if p.Err == nil {
		t.Error("the download error should be kept on the payload")
	}
}

func TestAcquire_FallbackToBuiltin(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		cache  string
	}{
		{"server error, no cache", http.StatusInternalServerError, "", ""},
		{"html error page", http.StatusOK, "<html><body>rate limited</body></html>", ""},
		{"empty body", http.StatusOK, "   ", ""},
		{"malformed cache", http.StatusBadGateway, "", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			cfg := testConfig(t)
			cfg.Sources.Offline = false
			onlySource(&cfg, DataSourceGeonamesCities, srv.URL)
			if tt.cache != "" {
				if err := os.WriteFile(filepath.Join(cfg.Paths.Cache, "cities15000.zip"), []byte(tt.cache), 0o644); err != nil {
					t.Fatal(err)
				}
			}

			p := acquireOne(t, cfg)
			if p.Origin != OriginBuiltin {
				t.Fatalf("Origin = %s, want builtin", p.Origin)
			}
			if p.Format != FormatRecordsJSON {
				t.Errorf("Format = %s, the builtin dataset is records-json", p.Format)
			}
			if len(p.Data) == 0 {
				t.Error("builtin payload is empty")
			}
		})
	}
}

func TestAcquire_OfflineSkipsNetwork(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, restCountriesBody)
	cfg := testConfig(t)
	onlySource(&cfg, DataSourceRestCountries, srv.URL)

	p := acquireOne(t, cfg)
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("offline run made %d requests", *hits)
	}
	if p.Origin != OriginBuiltin {
		t.Errorf("Origin = %s, want builtin", p.Origin)
	}
}

func TestAcquire_OptionalSourceWithoutData(t *testing.T) {
	cfg := testConfig(t)
	onlySource(&cfg, DataSourceWorldCities, "")

	p := acquireOne(t, cfg)
	if p.Origin != OriginNone || len(p.Data) != 0 {
		t.Errorf("payload = %s with %d bytes, want none", p.Origin, len(p.Data))
	}
}

func TestAcquire_CacheOnlySource(t *testing.T) {
	cfg := testConfig(t)
	onlySource(&cfg, DataSourceWorldCities, "")
	csv := "city,lat,lng,iso2,population\nLima,-12.06,-77.04,PE,8852000\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.Cache, "worldcities.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	p := acquireOne(t, cfg)
	if p.Origin != OriginCache || p.Format != FormatRecordsCSV {
		t.Errorf("payload = %s/%s, want cache/records-csv", p.Origin, p.Format)
	}
}

func TestAcquire_Parallelism(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4} {
		var inflight, peak int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&inflight, 1)
			defer atomic.AddInt32(&inflight, -1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		cfg := testConfig(t)
		cfg.Sources.Offline = false
		cfg.Sources.Parallelism = parallelism
		cfg.Sources.Providers = make(map[string]ProviderConfig)
		for _, ds := range dataSetFiles {
			cfg.Sources.Providers[string(ds.ID)] = ProviderConfig{URL: srv.URL + "/" + string(ds.ID)}
		}

		want := cfg.DataSources()
		got := NewAcquirer(cfg, WithLogger(quietLogger())).Acquire(context.Background())
		srv.Close()

		if len(got) != len(want) {
			t.Fatalf("parallelism %d: len = %d, want %d", parallelism, len(got), len(want))
		}
		for i := range want {
			if got[i].Source.ID != want[i].ID {
				t.Errorf("parallelism %d: payload[%d] = %s, want %s", parallelism, i, got[i].Source.ID, want[i].ID)
			}
		}
		if parallelism <= 1 && peak > 1 {
			t.Errorf("parallelism %d: %d requests in flight at once", parallelism, peak)
		}
	}
}

func TestDataSources_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources.Providers = map[string]ProviderConfig{
		"geonamescountryinfo": {Disabled: true}, // viper lower-cases keys
		"worldcities":         {URL: "https://example.invalid/worldcities.csv"},
	}
	sources := cfg.DataSources()
	if len(sources) != len(dataSetFiles)-1 {
		t.Fatalf("len(sources) = %d, want %d", len(sources), len(dataSetFiles)-1)
	}
	for _, ds := range sources {
		if ds.ID == DataSourceGeonamesCountry {
			t.Error("disabled provider still listed")
		}
		if ds.ID == DataSourceWorldCities && ds.URL != "https://example.invalid/worldcities.csv" {
			t.Errorf("URL override not applied: %q", ds.URL)
		}
	}
	if dataSetFiles[3].URL != "" {
		t.Error("overrides must not mutate the built-in table")
	}
}

func TestSniffPayload(t *testing.T) {
	zipData := string(zipOf(t, "cities.txt", geonamesLine("Oslo", "59.9", "10.7", "PPLC", "NO", "1")))
	tests := []struct {
		name    string
		data    string
		format  PayloadFormat
		wantErr bool
	}{
		{"json array", `[{"a":1}]`, FormatRecordsJSON, false},
		{"json object", `{"a":1}`, FormatCountriesJSON, true},
		{"truncated json", `[{"a":1}`, FormatRecordsJSON, true},
		{"html", "<!doctype html>", FormatCountriesJSON, true},
		{"blank", " \n ", FormatRecordsCSV, true},
		{"zip", zipData, FormatGeonamesZip, false},
		{"not a zip", "PK nope", FormatGeonamesZip, true},
		{"tsv", "# header\nA\tB\n", FormatGeonamesTSV, false},
		{"tsv without tabs", "a,b\n", FormatCountryInfo, true},
		{"csv", "a,b\n1,2\n", FormatRecordsCSV, false},
		{"csv without commas", "<html>\n", FormatRecordsCSV, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sniffPayload([]byte(tt.data), tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("sniffPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRefreshCache(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, restCountriesBody)
	cfg := testConfig(t)
	cfg.Sources.Offline = false
	cfg.Paths.Cache = filepath.Join(t.TempDir(), "nested", "cache")
	onlySource(&cfg, DataSourceRestCountries, srv.URL)

	reports, err := RefreshCache(context.Background(), cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Origin != OriginNetwork || reports[0].Bytes != len(restCountriesBody) {
		t.Errorf("reports = %+v", reports)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.Cache, "countries.json")); err != nil {
		t.Errorf("cache file missing: %v", err)
	}
}

func TestRefreshCache_UnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.Paths.Cache = filepath.Join(blocker, "cache")
	if _, err := RefreshCache(context.Background(), cfg, WithLogger(quietLogger())); err == nil {
		t.Error("expected an error when the cache directory cannot be created")
	}
}
