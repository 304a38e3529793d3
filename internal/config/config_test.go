package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreiashu/worldcities"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func commandFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("strict", false, "")
	fs.Bool("deploy", false, "")
	fs.Bool("offline", false, "")
	fs.String("output", "", "")
	fs.String("cache", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := worldcities.DefaultConfig()
	assert.Equal(t, d.MinPopulation, cfg.MinPopulation)
	assert.Equal(t, d.MaxCitiesPerCountry, cfg.MaxCitiesPerCountry)
	assert.Equal(t, d.SlugOptions, cfg.SlugOptions)
	assert.Equal(t, d.Normalization, cfg.Normalization)
	assert.Equal(t, d.Validation.RequiredFields, cfg.Validation.RequiredFields)
	assert.Equal(t, d.Paths, cfg.Paths)
	assert.Equal(t, 30*time.Second, cfg.Sources.Timeout)
	assert.Equal(t, d.Output, cfg.Output)
	assert.Equal(t, d.Log, cfg.Log)
	assert.True(t, cfg.Enrichment.AddFlags)
	assert.False(t, cfg.Enrichment.GeoTimezones)
	assert.False(t, cfg.Sources.Offline)
	assert.Equal(t, 1, cfg.Sources.Parallelism)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, "worldcities.yaml", `
minPopulation: 100000
maxCitiesPerCountry: 100
normalization:
  duplicatePolicy: population
  countryNameFuzzyDistance: 1
enrichment:
  addTypes: false
  timezoneOverrides:
    FR: Europe/Paris
validation:
  proximityKm: 5
sources:
  timeout: 5s
  parallelism: 3
  providers:
    worldcities:
      url: https://example.com/worldcities.csv
    geonamesCountryInfo:
      disabled: true
output:
  indent: 0
  includePopulation: true
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 100000, cfg.MinPopulation)
	assert.Equal(t, 100, cfg.MaxCitiesPerCountry)
	assert.Equal(t, worldcities.DuplicatePopulation, cfg.Normalization.DuplicatePolicy)
	assert.Equal(t, 1, cfg.Normalization.CountryNameFuzzyDistance)
	assert.False(t, cfg.Enrichment.AddTypes)
	assert.True(t, cfg.Enrichment.AddFlags, "unset keys keep their defaults")
	assert.Equal(t, 5.0, cfg.Validation.ProximityKm)
	assert.Equal(t, 5*time.Second, cfg.Sources.Timeout)
	assert.Equal(t, 3, cfg.Sources.Parallelism)
	assert.Equal(t, 0, cfg.Output.Indent)
	assert.True(t, cfg.Output.IncludePopulation)
	assert.Equal(t, "world-cities.json", cfg.Output.File)

	// viper lower-cases map keys
	assert.Equal(t, "Europe/Paris", cfg.Enrichment.TimezoneOverrides["fr"])

	sources := cfg.DataSources()
	require.Len(t, sources, len(worldcities.DefaultDataSources())-1)
	for _, ds := range sources {
		assert.NotEqual(t, worldcities.DataSourceGeonamesCountry, ds.ID)
		if ds.ID == worldcities.DataSourceWorldCities {
			assert.Equal(t, "https://example.com/worldcities.csv", ds.URL)
		}
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeConfig(t, "worldcities.json", `{"paths": {"output": "/tmp/out"}, "log": {"format": "json"}}`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", cfg.Paths.Output)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./worldcities-data", cfg.Paths.Cache)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WORLDCITIES_MINPOPULATION", "250000")
	t.Setenv("WORLDCITIES_PATHS_CACHE", "/var/cache/worldcities")
	t.Setenv("WORLDCITIES_VALIDATION_STRICT", "true")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 250000, cfg.MinPopulation)
	assert.Equal(t, "/var/cache/worldcities", cfg.Paths.Cache)
	assert.True(t, cfg.Validation.Strict)
}

func TestLoad_FlagsOverrideFileAndEnv(t *testing.T) {
	t.Setenv("WORLDCITIES_PATHS_OUTPUT", "/from/env")
	path := writeConfig(t, "worldcities.yaml", "paths:\n  output: /from/file\n  cache: /cache/from/file\n")

	cfg, err := Load(path, commandFlags(t, "--output", "/from/flag", "--strict", "--offline"))
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Paths.Output)
	assert.Equal(t, "/cache/from/file", cfg.Paths.Cache, "unset flags must not override")
	assert.True(t, cfg.Validation.Strict)
	assert.True(t, cfg.Sources.Offline)
	assert.False(t, cfg.Output.Deploy)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		file    string
		wantErr string
	}{
		{"missing explicit file", "", "does-not-exist.yaml", "failed to read config file"},
		{"malformed yaml", "minPopulation: [", "worldcities.yaml", "failed to read config file"},
		{"bad policy", "normalization:\n  duplicatePolicy: newest\n", "worldcities.yaml", "duplicatePolicy"},
		{"negative cap", "maxCitiesPerCountry: -1\n", "worldcities.yaml", "maxCitiesPerCountry"},
		{"negative parallelism", "sources:\n  parallelism: -2\n", "worldcities.yaml", "sources.parallelism"},
		{"deploy without destination", "output:\n  deploy: true\npaths:\n  finalDestination: \"\"\n", "worldcities.yaml", "finalDestination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if tt.content != "" {
				path = writeConfig(t, tt.file, tt.content)
			}
			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       worldcities.LogConfig
		wantDebug bool
		wantJSON  bool
	}{
		{"defaults", worldcities.LogConfig{}, false, false},
		{"debug text", worldcities.LogConfig{Level: "debug", Format: "text"}, true, false},
		{"json", worldcities.LogConfig{Level: "INFO", Format: "JSON"}, false, true},
		{"unknown level", worldcities.LogConfig{Level: "loud"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.cfg, &buf)
			assert.Equal(t, tt.wantDebug, logger.Enabled(context.Background(), slog.LevelDebug))

			logger.Info("hello", "k", "v")
			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"hello"`)
			} else {
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestNewLogger_WarnLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(worldcities.LogConfig{Level: "warning"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
