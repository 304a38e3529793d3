package worldcities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var (
	// ErrValidationFailed is returned by Run in strict mode when the report
	// has errors. The artifact has been written; deploy was skipped.
	ErrValidationFailed = errors.New("validation failed")
	// ErrOutputDir is returned when the output directory cannot be created.
	ErrOutputDir = errors.New("cannot create output directory")
)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseNotStarted  Phase = "not-started"
	PhaseAcquiring   Phase = "acquiring"
	PhaseParsing     Phase = "parsing"
	PhaseNormalizing Phase = "normalizing"
	PhaseEnriching   Phase = "enriching"
	PhaseFiltering   Phase = "filtering"
	PhaseProjecting  Phase = "projecting"
	PhaseValidating  Phase = "validating"
	PhaseWriting     Phase = "writing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Stages are the pluggable steps of a run. A nil stage is replaced by a
// pass-through implementation and reported as skipped.
type Stages struct {
	Acquirer   Acquirer
	Parser     Parser
	Resolver   CountryResolver
	Normalizer Normalizer
	Enricher   Enricher
	Filter     Filter
	Projector  Projector
	Validator  Validator
}

// DefaultStages builds every stage from cfg.
func DefaultStages(cfg Config, opts ...Option) Stages {
	cfg.apply(opts)
	return Stages{
		Acquirer:   NewAcquirer(cfg),
		Parser:     NewParser(cfg),
		Resolver:   NewCountryResolver(cfg),
		Normalizer: NewNormalizer(cfg),
		Enricher:   NewEnricher(cfg),
		Filter:     NewFilter(cfg),
		Projector:  NewProjector(cfg),
		Validator:  NewValidator(cfg),
	}
}

// StageStats describes one stage of a run.
type StageStats struct {
	Name       string `json:"name"`
	Skipped    bool   `json:"skipped"`
	In         int    `json:"in"`
	Out        int    `json:"out"`
	DurationMS int64  `json:"durationMs"`
}

// SourceStats describes one acquired payload.
type SourceStats struct {
	ID     DataSourceID `json:"id"`
	Origin Origin       `json:"origin"`
	Bytes  int          `json:"bytes"`
	Err    string       `json:"error,omitempty"`
}

// RunFlags echoes the command-line switches of a run.
type RunFlags struct {
	Dev    bool `json:"dev"`
	Force  bool `json:"force"`
	Deploy bool `json:"deploy"`
	Strict bool `json:"strict"`
}

// GenerationStats is written next to the artifact.
type GenerationStats struct {
	RunID         string           `json:"runId"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
	Duration      string           `json:"duration"`
	DurationMS    int64            `json:"durationMs"`
	Phase         Phase            `json:"phase"`
	Stages        []StageStats     `json:"stages"`
	Sources       []SourceStats    `json:"sources"`
	Processed     int              `json:"processed"`
	Generated     int              `json:"generated"`
	Countries     int              `json:"countries"`
	Capitals      int              `json:"capitals"`
	CountryCounts map[string]int   `json:"countryCounts"`
	Validation    ValidationReport `json:"validation"`
	Flags         RunFlags         `json:"flags"`
}

// TopCountries returns up to n country codes ordered by region count
// (descending), then code.
func (s GenerationStats) TopCountries(n int) []string {
	codes := make([]string, 0, len(s.CountryCounts))
	for c := range s.CountryCounts {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		ci, cj := s.CountryCounts[codes[i]], s.CountryCounts[codes[j]]
		if ci != cj {
			return ci > cj
		}
		return codes[i] < codes[j]
	})
	if n >= 0 && len(codes) > n {
		codes = codes[:n]
	}
	return codes
}

// Result is the outcome of a run.
type Result struct {
	Regions      []Region
	Report       ValidationReport
	Stats        GenerationStats
	ArtifactPath string
	StatsPath    string
	MetricsPath  string
	DeployedTo   string // empty when not deployed
}

// Pipeline runs the stages in order and writes the artifacts.
type Pipeline struct {
	cfg     Config
	stages  Stages
	skipped map[string]bool
	logger  *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// NewPipeline creates a pipeline with the default stages.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	cfg.apply(opts)
	return NewPipelineWithStages(cfg, DefaultStages(cfg))
}

// NewPipelineWithStages creates a pipeline with caller-provided stages.
// Missing stages are logged and replaced by pass-through implementations;
// a missing Resolver falls back to the built-in common countries.
func NewPipelineWithStages(cfg Config, stages Stages, opts ...Option) *Pipeline {
	cfg.apply(opts)
	p := &Pipeline{
		cfg:     cfg,
		skipped: make(map[string]bool),
		logger:  cfg.logger,
		phase:   PhaseNotStarted,
	}
	skip := func(name string) {
		p.skipped[name] = true
		p.logger.Warn("stage not configured, passing input through", "stage", name)
	}
	if stages.Acquirer == nil {
		skip("acquire")
		stages.Acquirer = builtinAcquirer{}
	}
	if stages.Parser == nil {
		skip("parse")
		stages.Parser = emptyParser{}
	}
	if stages.Resolver == nil {
		skip("resolve")
		stages.Resolver = commonResolver{}
	}
	if stages.Normalizer == nil {
		skip("normalize")
		stages.Normalizer = identityNormalizer{slug: cfg.SlugOptions}
	}
	if stages.Enricher == nil {
		skip("enrich")
		stages.Enricher = identityEnricher{}
	}
	if stages.Filter == nil {
		skip("filter")
		stages.Filter = identityFilter{}
	}
	if stages.Projector == nil {
		skip("project")
		stages.Projector = identityProjector{includePopulation: cfg.Output.IncludePopulation}
	}
	if stages.Validator == nil {
		skip("validate")
		stages.Validator = identityValidator{}
	}
	p.stages = stages
	return p
}

// Phase returns the current phase. Safe to call while Run is in progress.
func (p *Pipeline) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Pipeline) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// Run executes one generation. Record-level problems never fail a run; only
// output I/O does. In strict mode a report with errors yields a non-nil Result
// and an error wrapping ErrValidationFailed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	log := p.logger.With("run", runID)
	st := GenerationStats{
		RunID:     runID,
		StartedAt: started.UTC(),
		Flags: RunFlags{
			Dev:    p.cfg.dev,
			Force:  p.cfg.force,
			Deploy: p.cfg.Output.Deploy,
			Strict: p.cfg.Validation.Strict,
		},
	}
	if p.cfg.dev {
		log.Info("development mode enabled")
	}
	if p.cfg.force {
		log.Info("force mode enabled")
	}
	log.Info("generation started", "minPopulation", p.cfg.MinPopulation,
		"maxCitiesPerCountry", p.cfg.MaxCitiesPerCountry)

	timed := func(name string, in int, fn func() int) {
		t := time.Now()
		out := fn()
		st.Stages = append(st.Stages, StageStats{
			Name:       name,
			Skipped:    p.skipped[name],
			In:         in,
			Out:        out,
			DurationMS: time.Since(t).Milliseconds(),
		})
	}

	p.setPhase(PhaseAcquiring)
	var payloads []Payload
	timed("acquire", 0, func() int {
		payloads = p.stages.Acquirer.Acquire(ctx)
		return len(payloads)
	})
	for _, pl := range payloads {
		s := SourceStats{ID: pl.Source.ID, Origin: pl.Origin, Bytes: len(pl.Data)}
		if pl.Err != nil {
			s.Err = pl.Err.Error()
		}
		st.Sources = append(st.Sources, s)
	}

	p.setPhase(PhaseParsing)
	var parsed []ParsedRecord
	timed("parse", len(payloads), func() int {
		parsed = p.stages.Parser.Parse(payloads)
		return len(parsed)
	})
	st.Processed = len(parsed)

	p.setPhase(PhaseNormalizing)
	var countries Countries
	timed("resolve", len(payloads), func() int {
		countries = p.stages.Resolver.Resolve(payloads)
		return countries.Len()
	})
	var normalized []NormalizedRecord
	timed("normalize", len(parsed), func() int {
		normalized = p.stages.Normalizer.Normalize(parsed, countries)
		return len(normalized)
	})

	p.setPhase(PhaseEnriching)
	var enriched []EnrichedRecord
	timed("enrich", len(normalized), func() int {
		enriched = p.stages.Enricher.Enrich(normalized, countries)
		return len(enriched)
	})

	p.setPhase(PhaseFiltering)
	var filtered []EnrichedRecord
	timed("filter", len(enriched), func() int {
		filtered = p.stages.Filter.Filter(enriched)
		return len(filtered)
	})

	p.setPhase(PhaseProjecting)
	var regions []Region
	timed("project", len(filtered), func() int {
		regions = p.stages.Projector.Project(filtered)
		return len(regions)
	})

	p.setPhase(PhaseValidating)
	var report ValidationReport
	timed("validate", len(regions), func() int {
		report = p.stages.Validator.Validate(regions)
		return report.Total
	})
	for _, is := range report.Issues {
		log.Debug("validation issue", "index", is.Index, "slug", is.Slug,
			"check", is.Check, "severity", is.Severity, "message", is.Message)
	}

	st.Generated = len(regions)
	st.Validation = report
	st.CountryCounts = make(map[string]int)
	for _, r := range regions {
		st.CountryCounts[r.Country]++
		if r.Type == TypeCapital {
			st.Capitals++
		}
	}
	st.Countries = len(st.CountryCounts)

	p.setPhase(PhaseWriting)
	res := &Result{Regions: regions, Report: report}
	strictFailure := p.cfg.Validation.Strict && !report.Valid()
	if err := p.write(res, &st, started, strictFailure); err != nil {
		p.setPhase(PhaseFailed)
		log.Error("generation failed", "phase", PhaseWriting, "error", err)
		return nil, eris.Wrap(err, "writing artifacts")
	}
	res.Stats = st
	p.setPhase(PhaseDone)

	log.Info("generation finished",
		"processed", st.Processed, "generated", st.Generated,
		"errors", report.Errors, "warnings", report.Warnings,
		"duration", st.Duration)

	if strictFailure {
		return res, fmt.Errorf("%w: %d errors, %d warnings", ErrValidationFailed, report.Errors, report.Warnings)
	}
	return res, nil
}

func (p *Pipeline) write(res *Result, st *GenerationStats, started time.Time, strictFailure bool) error {
	dir := p.cfg.Paths.Output
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w %s: %w", ErrOutputDir, dir, err)
	}

	body, err := EncodeRegions(res.Regions, p.cfg.Output.Indent)
	if err != nil {
		return err
	}
	res.ArtifactPath = filepath.Join(dir, p.cfg.Output.File)
	if err := writeFileAtomic(res.ArtifactPath, body, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	p.logger.Info("artifact written", "path", res.ArtifactPath, "regions", len(res.Regions))

	if p.cfg.Output.Deploy {
		if strictFailure {
			p.logger.Warn("deploy skipped: validation failed in strict mode",
				"destination", p.cfg.Paths.FinalDestination)
		} else {
			if err := deployArtifact(res.ArtifactPath, p.cfg.Paths.FinalDestination); err != nil {
				return err
			}
			res.DeployedTo = p.cfg.Paths.FinalDestination
			p.logger.Info("artifact deployed", "destination", res.DeployedTo)
		}
	}

	finished := time.Now()
	st.FinishedAt = finished.UTC()
	st.DurationMS = finished.Sub(started).Milliseconds()
	st.Duration = finished.Sub(started).Round(time.Millisecond).String()
	st.Phase = PhaseDone

	if p.cfg.Output.StatsFile != "" {
		data, err := marshalJSON(st, 2)
		if err != nil {
			return fmt.Errorf("encoding stats: %w", err)
		}
		res.StatsPath = filepath.Join(dir, p.cfg.Output.StatsFile)
		if err := writeFileAtomic(res.StatsPath, data, 0o644); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
	}
	if p.cfg.Output.MetricsFile != "" {
		res.MetricsPath = filepath.Join(dir, p.cfg.Output.MetricsFile)
		if err := writeMetrics(res.MetricsPath, *st); err != nil {
			return err
		}
	}
	return nil
}

// Pass-through stages used for unconfigured slots.

// builtinAcquirer serves only the embedded default datasets.
type builtinAcquirer struct{}

func (builtinAcquirer) Acquire(context.Context) []Payload {
	var out []Payload
	for _, src := range dataSetFiles {
		if src.DefaultFile == "" {
			continue
		}
		data, err := builtinDataset(src.DefaultFile)
		if err != nil {
			continue
		}
		out = append(out, Payload{Source: src, Format: src.DefaultFormat, Origin: OriginBuiltin, Data: data})
	}
	return out
}

type emptyParser struct{}

func (emptyParser) Parse([]Payload) []ParsedRecord { return nil }

type commonResolver struct{}

func (commonResolver) Resolve([]Payload) Countries { return CommonCountries() }
