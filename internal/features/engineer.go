// Package features derives the engineered feature vector the classifiers were
// trained on.
package features

import (
	"math"
	"time"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

const (
	kmPerDegree = 111.32
	maxDepthKm  = 700.0

	DefaultShortWindow = 7 * 24 * time.Hour
	DefaultLongWindow  = 30 * 24 * time.Hour
)

var names = []string{
	"magnitude",
	"magnitude_squared",
	"magnitude_log",
	"depth",
	"depth_normalized",
	"abs_latitude",
	"abs_longitude",
	"distance_from_equator",
	"distance_from_prime_meridian",
	"sig",
	"sig_log",
	"alert_level",
	"tsunami",
	"nst",
	"gap",
	"dmin",
	"year",
	"month_sin",
	"month_cos",
	"hour_sin",
	"hour_cos",
	"recent_activity_7d",
	"recent_activity_30d",
	"magnitude_trend_7d",
}

var known = func() map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}()

// Names returns every feature the Engineer produces, in vector order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Known reports whether name is a feature the Engineer produces.
func Known(name string) bool {
	_, ok := known[name]
	return ok
}

// Vector is an ordered name to value mapping.
type Vector struct {
	names  []string
	values []float64
	index  map[string]int
}

// NewVector pairs names with values. Both slices must have equal length.
func NewVector(names []string, values []float64) Vector {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return Vector{names: names, values: values, index: idx}
}

// Get returns the value of a named feature.
func (v Vector) Get(name string) (float64, bool) {
	i, ok := v.index[name]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

func (v Vector) Names() []string   { return v.names }
func (v Vector) Values() []float64 { return v.values }
func (v Vector) Len() int          { return len(v.names) }

// HistoryReader is the view of the rolling history the Engineer needs.
type HistoryReader interface {
	CountWithin(asOf time.Time, window time.Duration) int
	Trend(asOf time.Time, window time.Duration) float64
}

// Engineer computes feature vectors. It holds no mutable state.
type Engineer struct {
	shortWindow time.Duration
	longWindow  time.Duration
}

// NewEngineer returns an Engineer using the given trailing windows for the
// 7d and 30d history features. Non-positive values select the defaults.
func NewEngineer(shortWindow, longWindow time.Duration) *Engineer {
	if shortWindow <= 0 {
		shortWindow = DefaultShortWindow
	}
	if longWindow <= 0 {
		longWindow = DefaultLongWindow
	}
	return &Engineer{shortWindow: shortWindow, longWindow: longWindow}
}

// LongestWindow is the widest trailing window any feature reads.
func (e *Engineer) LongestWindow() time.Duration {
	return max(e.shortWindow, e.longWindow)
}

// Compute derives the full vector for ev. History features are read at ev's
// own timestamp over half-open windows, so ev never counts itself.
func (e *Engineer) Compute(ev domain.CanonicalEvent, h HistoryReader) Vector {
	t := ev.Time.UTC()
	mag := ev.Magnitude
	lat, lon := ev.Latitude, ev.Longitude
	monthAngle := 2 * math.Pi * float64(int(t.Month())-1) / 12
	hourAngle := 2 * math.Pi * float64(t.Hour()) / 24

	values := []float64{
		mag,
		mag * mag,
		math.Log(math.Max(mag, 0.1)),
		ev.Depth,
		ev.Depth / maxDepthKm,
		math.Abs(lat),
		math.Abs(lon),
		math.Abs(lat) * kmPerDegree,
		math.Abs(lon) * kmPerDegree * math.Cos(lat*math.Pi/180),
		ev.Significance,
		math.Log1p(math.Max(ev.Significance, 0)),
		float64(ev.Alert),
		boolFloat(ev.Tsunami),
		ev.StationCount,
		ev.Gap,
		ev.DMin,
		float64(t.Year()),
		math.Sin(monthAngle),
		math.Cos(monthAngle),
		math.Sin(hourAngle),
		math.Cos(hourAngle),
		float64(h.CountWithin(t, e.shortWindow)),
		float64(h.CountWithin(t, e.longWindow)),
		h.Trend(t, e.shortWindow),
	}
	return Vector{names: names, values: values, index: known}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
