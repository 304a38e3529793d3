package worldcities

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Duplicate-slug policies applied during normalization.
const (
	// DuplicateFirst keeps the first record observed for a slug, in provider order.
	DuplicateFirst = "first"
	// DuplicatePopulation keeps the most populous record; ties keep the earlier one.
	DuplicatePopulation = "population"
)

// Config is the single configuration surface of the generator.
// Every field has a default in DefaultConfig so a run needs no config file.
type Config struct {
	MinPopulation       int           `mapstructure:"minPopulation"`
	MaxCitiesPerCountry int           `mapstructure:"maxCitiesPerCountry"`
	SlugOptions         SlugOptions   `mapstructure:"slugOptions"`
	Normalization       Normalization `mapstructure:"normalization"`
	Enrichment          Enrichment    `mapstructure:"enrichment"`
	Validation          Validation    `mapstructure:"validation"`
	Paths               Paths         `mapstructure:"paths"`
	Sources             Sources       `mapstructure:"sources"`
	Output              Output        `mapstructure:"output"`
	Log                 LogConfig     `mapstructure:"log"`

	logger     *slog.Logger
	httpClient *http.Client
	zones      ZoneLocator
	dev, force bool
}

// SlugOptions controls slugify.
type SlugOptions struct {
	Lower  bool   `mapstructure:"lower"`
	Strict bool   `mapstructure:"strict"` // keep ASCII letters and digits only
	Remove string `mapstructure:"remove"` // characters deleted before hyphenation
}

// Normalization holds the deduplication and country-matching knobs.
type Normalization struct {
	DuplicatePolicy          string `mapstructure:"duplicatePolicy"`
	CountryNameFuzzyDistance int    `mapstructure:"countryNameFuzzyDistance"`
}

// Enrichment toggles the derived fields.
type Enrichment struct {
	AddFlags          bool              `mapstructure:"addFlags"`
	AddTimezones      bool              `mapstructure:"addTimezones"`
	AddTypes          bool              `mapstructure:"addTypes"`
	GeoTimezones      bool              `mapstructure:"geoTimezones"`
	TimezoneOverrides map[string]string `mapstructure:"timezoneOverrides"`
}

// Validation configures the advisory report.
type Validation struct {
	RequiredFields []string `mapstructure:"requiredFields"`
	ProximityKm    float64  `mapstructure:"proximityKm"`
	// Strict makes Run return ErrValidationFailed (after writing the artifact)
	// when the report has errors, and suppresses deploy.
	Strict bool `mapstructure:"strict"`
}

// Paths locates cache, output and deploy files.
type Paths struct {
	Output           string `mapstructure:"output"`
	Cache            string `mapstructure:"cache"`
	FinalDestination string `mapstructure:"finalDestination"`
}

// Sources configures acquisition.
type Sources struct {
	Timeout     time.Duration             `mapstructure:"timeout"`
	Offline     bool                      `mapstructure:"offline"`
	Parallelism int                       `mapstructure:"parallelism"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig overrides a built-in provider.
type ProviderConfig struct {
	URL      string `mapstructure:"url"`
	Disabled bool   `mapstructure:"disabled"`
}

// Output configures the written artifacts.
type Output struct {
	Indent            int    `mapstructure:"indent"`
	IncludePopulation bool   `mapstructure:"includePopulation"`
	File              string `mapstructure:"file"`
	StatsFile         string `mapstructure:"statsFile"`
	MetricsFile       string `mapstructure:"metricsFile"`
	Deploy            bool   `mapstructure:"deploy"`
}

// LogConfig selects the slog handler built by the command.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// DefaultRequiredFields are the eight fields every Region must carry.
var DefaultRequiredFields = []string{"slug", "label", "country", "flag", "lat", "lng", "timezone", "type"}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MinPopulation:       5000,
		MaxCitiesPerCountry: 10,
		SlugOptions: SlugOptions{
			Lower:  true,
			Strict: true,
			Remove: `*+~.()'"!:@`,
		},
		Normalization: Normalization{
			DuplicatePolicy: DuplicateFirst,
		},
		Enrichment: Enrichment{
			AddFlags:     true,
			AddTimezones: true,
			AddTypes:     true,
		},
		Validation: Validation{
			RequiredFields: append([]string(nil), DefaultRequiredFields...),
		},
		Paths: Paths{
			Output:           "./output",
			Cache:            "./worldcities-data",
			FinalDestination: "./frontend/src/data/world-cities.json",
		},
		Sources: Sources{
			Timeout:     30 * time.Second,
			Parallelism: 1,
		},
		Output: Output{
			Indent:      2,
			File:        "world-cities.json",
			StatsFile:   "generation-stats.json",
			MetricsFile: "generation.prom",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects settings no stage can work with.
func (c Config) Validate() error {
	var errs []error
	if c.MinPopulation < 0 {
		errs = append(errs, fmt.Errorf("minPopulation must be >= 0, got %d", c.MinPopulation))
	}
	if c.MaxCitiesPerCountry < 0 {
		errs = append(errs, fmt.Errorf("maxCitiesPerCountry must be >= 0, got %d", c.MaxCitiesPerCountry))
	}
	switch c.Normalization.DuplicatePolicy {
	case "", DuplicateFirst, DuplicatePopulation:
	default:
		errs = append(errs, fmt.Errorf("normalization.duplicatePolicy must be %q or %q, got %q",
			DuplicateFirst, DuplicatePopulation, c.Normalization.DuplicatePolicy))
	}
	if c.Normalization.CountryNameFuzzyDistance < 0 {
		errs = append(errs, fmt.Errorf("normalization.countryNameFuzzyDistance must be >= 0, got %d",
			c.Normalization.CountryNameFuzzyDistance))
	}
	if c.Validation.ProximityKm < 0 {
		errs = append(errs, fmt.Errorf("validation.proximityKm must be >= 0, got %v", c.Validation.ProximityKm))
	}
	if c.Sources.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("sources.parallelism must be >= 0, got %d", c.Sources.Parallelism))
	}
	if c.Output.Indent < 0 {
		errs = append(errs, fmt.Errorf("output.indent must be >= 0, got %d", c.Output.Indent))
	}
	if strings.TrimSpace(c.Output.File) == "" {
		errs = append(errs, errors.New("output.file must not be empty"))
	}
	if c.Output.Deploy && strings.TrimSpace(c.Paths.FinalDestination) == "" {
		errs = append(errs, errors.New("paths.finalDestination is required when deploying"))
	}
	return errors.Join(errs...)
}

// Option is a functional option applied on top of a Config.
type Option func(*Config)

// WithLogger sets the logger used by every stage.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.logger = l
	}
}

// WithHTTPClient replaces the acquisition HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.httpClient = hc
	}
}

// WithZoneLocator sets the coordinate timezone locator used when
// Enrichment.GeoTimezones is on.
func WithZoneLocator(z ZoneLocator) Option {
	return func(c *Config) {
		c.zones = z
	}
}

// WithCacheDir sets the directory for downloaded provider files.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.Paths.Cache = dir
	}
}

// WithOutputDir sets the directory for generated artifacts.
func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.Paths.Output = dir
	}
}

// WithOffline skips network retrieval entirely.
func WithOffline(offline bool) Option {
	return func(c *Config) {
		c.Sources.Offline = offline
	}
}

// WithProviderURL overrides the download URL of a built-in provider.
func WithProviderURL(id DataSourceID, url string) Option {
	return func(c *Config) {
		if c.Sources.Providers == nil {
			c.Sources.Providers = make(map[string]ProviderConfig)
		}
		pc := c.Sources.Providers[string(id)]
		pc.URL = url
		c.Sources.Providers[string(id)] = pc
	}
}

// WithHints records the --dev and --force command-line hints. They only
// affect logging and the stats file.
func WithHints(dev, force bool) Option {
	return func(c *Config) {
		c.dev = dev
		c.force = force
	}
}

func (c *Config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		timeout := c.Sources.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if len(c.Validation.RequiredFields) == 0 {
		c.Validation.RequiredFields = append([]string(nil), DefaultRequiredFields...)
	}
	if c.Normalization.DuplicatePolicy == "" {
		c.Normalization.DuplicatePolicy = DuplicateFirst
	}
}
