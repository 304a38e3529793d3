package worldcities

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/golang/geo/s2"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Names of the validation checks.
const (
	CheckSchema      = "schema"
	CheckCoordinates = "coordinates"
	CheckDuplicate   = "duplicate"
	CheckProximity   = "proximity"
)

// Issue is a single validation finding.
type Issue struct {
	Index    int      `json:"index"`
	Slug     string   `json:"slug"`
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationReport accumulates the findings of all checks. It is advisory:
// producing one never blocks writing the artifact.
type ValidationReport struct {
	Total    int     `json:"total"`
	Errors   int     `json:"errors"`
	Warnings int     `json:"warnings"`
	Issues   []Issue `json:"issues"`
}

// Valid reports whether the report has no errors. Warnings are allowed.
func (r ValidationReport) Valid() bool { return r.Errors == 0 }

func (r *ValidationReport) add(i Issue) {
	switch i.Severity {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	}
	r.Issues = append(r.Issues, i)
}

// Validator checks the final regions.
type Validator interface {
	Validate(regions []Region) ValidationReport
}

// RegionValidator runs the schema, coordinate and duplicate-slug checks and,
// when proximityKm > 0, flags same-country regions closer than proximityKm.
type RegionValidator struct {
	required    []string
	proximityKm float64
	logger      *slog.Logger
}

// NewValidator creates a validator from cfg. Unknown required field names are
// ignored with a warning.
func NewValidator(cfg Config, opts ...Option) *RegionValidator {
	cfg.apply(opts)
	v := &RegionValidator{proximityKm: cfg.Validation.ProximityKm, logger: cfg.logger}
	for _, f := range cfg.Validation.RequiredFields {
		f = strings.TrimSpace(f)
		if _, known := fieldPresent(Region{}, f); !known {
			cfg.logger.Warn("ignoring unknown required field", "field", f)
			continue
		}
		v.required = append(v.required, f)
	}
	return v
}

// Validate implements Validator.
func (v *RegionValidator) Validate(regions []Region) ValidationReport {
	report := ValidationReport{Total: len(regions), Issues: []Issue{}}
	v.checkSchema(regions, &report)
	checkCoordinates(regions, &report)
	checkDuplicates(regions, &report)
	if v.proximityKm > 0 {
		checkProximity(regions, v.proximityKm, &report)
	}
	v.logger.Info("validation finished", "total", report.Total,
		"errors", report.Errors, "warnings", report.Warnings)
	return report
}

func (v *RegionValidator) checkSchema(regions []Region, report *ValidationReport) {
	for i, r := range regions {
		for _, f := range v.required {
			if ok, _ := fieldPresent(r, f); !ok {
				report.add(Issue{
					Index: i, Slug: r.Slug, Check: CheckSchema, Severity: SeverityError,
					Message: fmt.Sprintf("missing required field %q", f),
				})
			}
		}
	}
}

// fieldPresent reports whether a named field is set on r, and whether the
// name is known at all. Numeric fields count as present unless NaN: 0 is a
// valid coordinate.
func fieldPresent(r Region, field string) (present, known bool) {
	switch field {
	case "slug":
		return strings.TrimSpace(r.Slug) != "", true
	case "label":
		return strings.TrimSpace(r.Label) != "", true
	case "country":
		return strings.TrimSpace(r.Country) != "", true
	case "flag":
		return strings.TrimSpace(r.Flag) != "", true
	case "timezone":
		return strings.TrimSpace(r.Timezone) != "", true
	case "type":
		return strings.TrimSpace(r.Type) != "", true
	case "lat":
		return !math.IsNaN(r.Lat), true
	case "lng":
		return !math.IsNaN(r.Lng), true
	case "population":
		return r.Population > 0, true
	}
	return false, false
}

func checkCoordinates(regions []Region, report *ValidationReport) {
	for i, r := range regions {
		if !validCoordinate(r.Lat, r.Lng) {
			report.add(Issue{
				Index: i, Slug: r.Slug, Check: CheckCoordinates, Severity: SeverityError,
				Message: fmt.Sprintf("coordinates out of range: lat=%v lng=%v", r.Lat, r.Lng),
			})
		}
	}
}

func checkDuplicates(regions []Region, report *ValidationReport) {
	first := make(map[string]int, len(regions))
	for i, r := range regions {
		if j, dup := first[r.Slug]; dup {
			report.add(Issue{
				Index: i, Slug: r.Slug, Check: CheckDuplicate, Severity: SeverityWarning,
				Message: fmt.Sprintf("duplicate slug, first seen at index %d", j),
			})
			continue
		}
		first[r.Slug] = i
	}
}

// earthRadiusKm is the mean Earth radius.
const earthRadiusKm = 6371.0088

// distanceKm is the great-circle distance between two points.
func distanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusKm
}

// proximityPrecision picks a geohash precision whose cells are at least
// thresholdKm tall, which keeps the probe grid in checkProximity small.
func proximityPrecision(thresholdKm float64) int {
	switch {
	case thresholdKm <= 19:
		return 4
	case thresholdKm <= 150:
		return 3
	case thresholdKm <= 600:
		return 2
	default:
		return 1
	}
}

// geohashCell returns the height and width in degrees of a geohash cell.
// Longitude takes the odd bit when 5*precision is odd.
func geohashCell(precision int) (latDeg, lngDeg float64) {
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Ldexp(1, latBits), 360 / math.Ldexp(1, lngBits)
}

// probeOffsets spreads points over [-span, span], both ends included, no
// more than step apart. Every cell of width step that overlaps the interval
// holds at least one of them.
func probeOffsets(span, step float64) []float64 {
	n := int(math.Ceil(2 * span / step))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n+1)
	for i := range out {
		out[i] = -span + 2*span*float64(i)/float64(n)
	}
	return out
}

// checkProximity warns about regions of the same country that are closer than
// thresholdKm to an earlier region: usually the same place under two names.
//
// Each region probes every geohash cell overlapping the lat/lng box of radius
// thresholdKm around it. The box is widened to the cosine of its poleward
// edge, so cells stay reachable at high latitudes where they narrow.
func checkProximity(regions []Region, thresholdKm float64, report *ValidationReport) {
	precision := proximityPrecision(thresholdKm)
	cellLat, cellLng := geohashCell(precision)
	dLat := thresholdKm / (earthRadiusKm * math.Pi / 180)

	buckets := make(map[string][]int)
	for i, r := range regions {
		if !validCoordinate(r.Lat, r.Lng) {
			continue
		}
		dLng := 180.0
		edge := math.Min(90, math.Abs(r.Lat)+dLat)
		if c := math.Cos(edge * math.Pi / 180); c > 1e-9 {
			dLng = math.Min(dLat/c, 180)
		}

		probed := make(map[string]bool)
		for _, oy := range probeOffsets(dLat, cellLat) {
			for _, ox := range probeOffsets(dLng, cellLng) {
				lat := math.Max(-90, math.Min(90, r.Lat+oy))
				lng := wrapLng(r.Lng + ox)
				key := r.Country + "/" + geohash.EncodeWithPrecision(lat, lng, precision)
				if probed[key] {
					continue
				}
				probed[key] = true
				for _, j := range buckets[key] {
					o := regions[j]
					if o.Slug == r.Slug {
						continue // reported by the duplicate check
					}
					if d := distanceKm(r.Lat, r.Lng, o.Lat, o.Lng); d < thresholdKm {
						report.add(Issue{
							Index: i, Slug: r.Slug, Check: CheckProximity, Severity: SeverityWarning,
							Message: fmt.Sprintf("possible duplicate of %s (%.1f km)", o.Slug, d),
						})
					}
				}
			}
		}

		own := r.Country + "/" + geohash.EncodeWithPrecision(r.Lat, r.Lng, precision)
		buckets[own] = append(buckets[own], i)
	}
}

func wrapLng(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}

type identityValidator struct{}

func (identityValidator) Validate(regions []Region) ValidationReport {
	return ValidationReport{Total: len(regions), Issues: []Issue{}}
}
