package worldcities

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// runMetrics holds the gauges exported for one run in the node-exporter
// textfile format.
type runMetrics struct {
	registry    *prometheus.Registry
	stageIn     *prometheus.GaugeVec
	stageOut    *prometheus.GaugeVec
	stageTime   *prometheus.GaugeVec
	sourceBytes *prometheus.GaugeVec
	issues      *prometheus.GaugeVec
	regions     prometheus.Gauge
	countries   prometheus.Gauge
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &runMetrics{
		registry: reg,
		stageIn: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldcities_stage_input_records",
			Help: "Records received by each pipeline stage",
		}, []string{"stage"}),
		stageOut: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldcities_stage_output_records",
			Help: "Records emitted by each pipeline stage",
		}, []string{"stage"}),
		stageTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldcities_stage_duration_seconds",
			Help: "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
		sourceBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldcities_source_bytes",
			Help: "Payload size per provider and origin",
		}, []string{"source", "origin"}),
		issues: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worldcities_validation_issues",
			Help: "Validation findings by severity",
		}, []string{"severity"}),
		regions: f.NewGauge(prometheus.GaugeOpts{
			Name: "worldcities_generated_regions",
			Help: "Regions written to the artifact",
		}),
		countries: f.NewGauge(prometheus.GaugeOpts{
			Name: "worldcities_generated_countries",
			Help: "Distinct countries in the artifact",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "worldcities_run_duration_seconds",
			Help: "Duration of the last generation run",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "worldcities_last_run_timestamp_seconds",
			Help: "Unix time the last generation run finished",
		}),
	}
}

func (m *runMetrics) observe(st GenerationStats) {
	for _, s := range st.Stages {
		m.stageIn.WithLabelValues(s.Name).Set(float64(s.In))
		m.stageOut.WithLabelValues(s.Name).Set(float64(s.Out))
		m.stageTime.WithLabelValues(s.Name).Set(float64(s.DurationMS) / 1000)
	}
	for _, s := range st.Sources {
		m.sourceBytes.WithLabelValues(string(s.ID), string(s.Origin)).Set(float64(s.Bytes))
	}
	m.issues.WithLabelValues(string(SeverityError)).Set(float64(st.Validation.Errors))
	m.issues.WithLabelValues(string(SeverityWarning)).Set(float64(st.Validation.Warnings))
	m.regions.Set(float64(st.Generated))
	m.countries.Set(float64(st.Countries))
	m.duration.Set(float64(st.DurationMS) / 1000)
	m.lastRun.Set(float64(st.FinishedAt.Unix()))
}

// writeMetrics exports st to path. WriteToTextfile renames a temp file into
// place, so a collector never reads a partial file.
func writeMetrics(path string, st GenerationStats) error {
	m := newRunMetrics()
	m.observe(st)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
