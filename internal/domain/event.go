package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Feed formats understood by ParseRawRecord.
const (
	FormatUSGSGeoJSON = "usgs_geojson"
	FormatEMSCJSON    = "emsc_json"
	FormatCatalogRow  = "catalog_row"
)

// RawRecord is one unprocessed record as retrieved from a provider feed.
// Payload holds a single feature/row encoded as JSON.
type RawRecord struct {
	Provider   string
	Format     string
	Payload    []byte
	ReceivedAt time.Time
}

// AlertLevel is the PAGER-style alert colour attached to an event by the provider.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertGreen
	AlertYellow
	AlertOrange
	AlertRed
)

var alertLevelNames = [...]string{"none", "green", "yellow", "orange", "red"}

func (a AlertLevel) String() string {
	if a < AlertNone || a > AlertRed {
		return "none"
	}
	return alertLevelNames[a]
}

// ParseAlertLevel maps a provider alert string to an AlertLevel. Empty and
// unknown values map to AlertNone.
func ParseAlertLevel(s string) AlertLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return AlertGreen
	case "yellow":
		return AlertYellow
	case "orange":
		return AlertOrange
	case "red":
		return AlertRed
	default:
		return AlertNone
	}
}

// CanonicalEvent is the provider-independent representation of one earthquake.
// Time, Latitude, Longitude and Magnitude are always set; every other field
// falls back to its zero value when the provider omits it.
type CanonicalEvent struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Title        string     `json:"title,omitempty"`
	Time         time.Time  `json:"time"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	Depth        float64    `json:"depth"`
	Magnitude    float64    `json:"magnitude"`
	Significance float64    `json:"sig"`
	Alert        AlertLevel `json:"alert"`
	Tsunami      bool       `json:"tsunami"`
	StationCount float64    `json:"nst"`
	Gap          float64    `json:"gap"`
	DMin         float64    `json:"dmin"`
}

// CompositeKey identifies an event by its rounded origin time, location and
// magnitude. Used when a provider does not assign an id, and to catch the same
// quake reported under different ids by different catalogs.
func (e CanonicalEvent) CompositeKey() string {
	return fmt.Sprintf("%s|%.1f|%.1f|%.1f",
		e.Time.UTC().Truncate(time.Minute).Format("2006-01-02T15:04"),
		roundTo(e.Latitude, 1), roundTo(e.Longitude, 1), roundTo(e.Magnitude, 1))
}

// Key returns the external id when present, otherwise the composite key.
func (e CanonicalEvent) Key() string {
	if e.ID != "" {
		return "id:" + e.ID
	}
	return "c:" + e.CompositeKey()
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // normalise -0
	}
	return r
}
