// Package config loads the generator configuration from defaults, an
// optional config file, WORLDCITIES_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andreiashu/worldcities"
)

// EnvPrefix prefixes every environment variable, e.g. WORLDCITIES_MINPOPULATION.
const EnvPrefix = "WORLDCITIES"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"strict":  "validation.strict",
	"deploy":  "output.deploy",
	"offline": "sources.offline",
	"output":  "paths.output",
	"cache":   "paths.cache",
}

// Load reads the configuration. configFile may be empty, in which case
// worldcities.{yaml,json,toml} is looked up in . and ./config and a missing
// file is not an error. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (worldcities.Config, error) {
	v := viper.New()
	setDefaults(v, worldcities.DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("worldcities")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return worldcities.Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// defaults are enough unless a file was asked for explicitly
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return worldcities.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg worldcities.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return worldcities.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return worldcities.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d worldcities.Config) {
	v.SetDefault("minPopulation", d.MinPopulation)
	v.SetDefault("maxCitiesPerCountry", d.MaxCitiesPerCountry)

	v.SetDefault("slugOptions.lower", d.SlugOptions.Lower)
	v.SetDefault("slugOptions.strict", d.SlugOptions.Strict)
	v.SetDefault("slugOptions.remove", d.SlugOptions.Remove)

	v.SetDefault("normalization.duplicatePolicy", d.Normalization.DuplicatePolicy)
	v.SetDefault("normalization.countryNameFuzzyDistance", d.Normalization.CountryNameFuzzyDistance)

	v.SetDefault("enrichment.addFlags", d.Enrichment.AddFlags)
	v.SetDefault("enrichment.addTimezones", d.Enrichment.AddTimezones)
	v.SetDefault("enrichment.addTypes", d.Enrichment.AddTypes)
	v.SetDefault("enrichment.geoTimezones", d.Enrichment.GeoTimezones)

	v.SetDefault("validation.requiredFields", d.Validation.RequiredFields)
	v.SetDefault("validation.proximityKm", d.Validation.ProximityKm)
	v.SetDefault("validation.strict", d.Validation.Strict)

	v.SetDefault("paths.output", d.Paths.Output)
	v.SetDefault("paths.cache", d.Paths.Cache)
	v.SetDefault("paths.finalDestination", d.Paths.FinalDestination)

	v.SetDefault("sources.timeout", d.Sources.Timeout)
	v.SetDefault("sources.offline", d.Sources.Offline)
	v.SetDefault("sources.parallelism", d.Sources.Parallelism)

	v.SetDefault("output.indent", d.Output.Indent)
	v.SetDefault("output.includePopulation", d.Output.IncludePopulation)
	v.SetDefault("output.file", d.Output.File)
	v.SetDefault("output.statsFile", d.Output.StatsFile)
	v.SetDefault("output.metricsFile", d.Output.MetricsFile)
	v.SetDefault("output.deploy", d.Output.Deploy)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NewLogger creates a slog.Logger writing to w based on the configuration.
func NewLogger(c worldcities.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(c.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default: // "text" or anything else
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
