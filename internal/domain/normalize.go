package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errMissing    = errors.New("missing")
	errOutOfRange = errors.New("out of range")
)

// catalogTimeLayouts are tried in order when parsing catalog date_time values.
// The first is the layout of the historical Kaggle-style catalog export.
var catalogTimeLayouts = []string{
	"02-01-2006 15:04",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseRawRecord converts one provider record into a CanonicalEvent.
// It is pure: no history, clock or model state is consulted.
func ParseRawRecord(raw RawRecord) (CanonicalEvent, error) {
	var (
		ev  CanonicalEvent
		err error
	)
	switch raw.Format {
	case FormatUSGSGeoJSON:
		ev, err = parseUSGS(raw)
	case FormatEMSCJSON:
		ev, err = parseEMSC(raw)
	case FormatCatalogRow:
		ev, err = parseCatalogRow(raw)
	default:
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "format", Err: fmt.Errorf("unsupported format %q", raw.Format)}
	}
	if err != nil {
		return CanonicalEvent{}, err
	}
	ev.Provider = raw.Provider
	if err := validateMandatory(raw.Provider, ev); err != nil {
		return CanonicalEvent{}, err
	}
	return ev, nil
}

func validateMandatory(provider string, ev CanonicalEvent) error {
	switch {
	case ev.Time.IsZero():
		return &ParseError{Provider: provider, Field: "time", Err: errMissing}
	case math.IsNaN(ev.Latitude) || ev.Latitude < -90 || ev.Latitude > 90:
		return &ParseError{Provider: provider, Field: "latitude", Err: errOutOfRange}
	case math.IsNaN(ev.Longitude) || ev.Longitude < -180 || ev.Longitude > 180:
		return &ParseError{Provider: provider, Field: "longitude", Err: errOutOfRange}
	case math.IsNaN(ev.Magnitude):
		return &ParseError{Provider: provider, Field: "magnitude", Err: errOutOfRange}
	}
	return nil
}

// USGS GeoJSON summary feed feature. Optional numeric properties are
// pointers because the feed emits explicit nulls.
type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag     *float64 `json:"mag"`
		Time    *float64 `json:"time"` // epoch milliseconds
		Title   string   `json:"title"`
		Alert   *string  `json:"alert"`
		Tsunami *float64 `json:"tsunami"`
		Sig     *float64 `json:"sig"`
		Nst     *float64 `json:"nst"`
		Gap     *float64 `json:"gap"`
		Dmin    *float64 `json:"dmin"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
	} `json:"geometry"`
}

func parseUSGS(raw RawRecord) (CanonicalEvent, error) {
	var f usgsFeature
	if err := json.Unmarshal(raw.Payload, &f); err != nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "payload", Err: err}
	}
	p := f.Properties
	if p.Time == nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "time", Err: errMissing}
	}
	if p.Mag == nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "magnitude", Err: errMissing}
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 2 {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "geometry.coordinates", Err: errMissing}
	}
	coords := f.Geometry.Coordinates

	ev := CanonicalEvent{
		ID:           f.ID,
		Title:        p.Title,
		Time:         time.UnixMilli(int64(*p.Time)).UTC(),
		Longitude:    coords[0],
		Latitude:     coords[1],
		Magnitude:    *p.Mag,
		Significance: deref(p.Sig),
		Tsunami:      deref(p.Tsunami) != 0,
		StationCount: deref(p.Nst),
		Gap:          deref(p.Gap),
		DMin:         deref(p.Dmin),
	}
	if len(coords) > 2 {
		ev.Depth = coords[2]
	}
	if p.Alert != nil {
		ev.Alert = ParseAlertLevel(*p.Alert)
	}
	return ev, nil
}

// EMSC seismicportal FDSN JSON feature. Depth is reported in positive km.
type emscFeature struct {
	ID         string `json:"id"`
	Properties struct {
		UnID    string   `json:"unid"`
		Time    string   `json:"time"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
		Depth   *float64 `json:"depth"`
		Mag     *float64 `json:"mag"`
		MagType string   `json:"magtype"`
		Region  string   `json:"flynn_region"`
	} `json:"properties"`
}

func parseEMSC(raw RawRecord) (CanonicalEvent, error) {
	var f emscFeature
	if err := json.Unmarshal(raw.Payload, &f); err != nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "payload", Err: err}
	}
	p := f.Properties
	if strings.TrimSpace(p.Time) == "" {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "time", Err: errMissing}
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.Time))
	if err != nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "time", Err: err}
	}
	switch {
	case p.Lat == nil:
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "latitude", Err: errMissing}
	case p.Lon == nil:
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "longitude", Err: errMissing}
	case p.Mag == nil:
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "magnitude", Err: errMissing}
	}

	id := p.UnID
	if id == "" {
		id = f.ID
	}
	title := ""
	if p.Region != "" {
		title = fmt.Sprintf("M %.1f - %s", *p.Mag, p.Region)
	}
	return CanonicalEvent{
		ID:        id,
		Title:     title,
		Time:      t.UTC(),
		Latitude:  *p.Lat,
		Longitude: *p.Lon,
		Depth:     math.Abs(deref(p.Depth)),
		Magnitude: *p.Mag,
	}, nil
}

// parseCatalogRow reads a flat string map produced from a catalog CSV row.
func parseCatalogRow(raw RawRecord) (CanonicalEvent, error) {
	var row map[string]string
	if err := json.Unmarshal(raw.Payload, &row); err != nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "payload", Err: err}
	}

	ts := firstNonEmpty(row["date_time"], row["time"])
	if ts == "" {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "date_time", Err: errMissing}
	}
	t, err := parseCatalogTime(ts)
	if err != nil {
		return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: "date_time", Err: err}
	}

	mandatory := map[string]float64{}
	for _, field := range []string{"magnitude", "latitude", "longitude"} {
		v, err := parseRequiredFloat(row[field])
		if err != nil {
			return CanonicalEvent{}, &ParseError{Provider: raw.Provider, Field: field, Err: err}
		}
		mandatory[field] = v
	}

	return CanonicalEvent{
		ID:           firstNonEmpty(row["id"], row["event_id"]),
		Title:        row["title"],
		Time:         t,
		Latitude:     mandatory["latitude"],
		Longitude:    mandatory["longitude"],
		Magnitude:    mandatory["magnitude"],
		Depth:        parseFloatOrZero(row["depth"]),
		Significance: parseFloatOrZero(row["sig"]),
		Alert:        ParseAlertLevel(row["alert"]),
		Tsunami:      parseFloatOrZero(row["tsunami"]) != 0,
		StationCount: parseFloatOrZero(row["nst"]),
		Gap:          parseFloatOrZero(row["gap"]),
		DMin:         parseFloatOrZero(row["dmin"]),
	}, nil
}

func parseCatalogTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range catalogTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func parseRequiredFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissing
	}
	return strconv.ParseFloat(s, 64)
}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
