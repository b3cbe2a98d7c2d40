package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUSGSFeature = `{"type":"Feature","id":"us7000abcd","properties":{"mag":7.2,"place":"120 km SSE of Kokopo, Papua New Guinea","time":1700000000000,"alert":"orange","tsunami":1,"sig":800,"nst":null,"gap":17,"dmin":2.9,"title":"M 7.2 - 120 km SSE of Kokopo, Papua New Guinea"},"geometry":{"type":"Point","coordinates":[152.7,-5.3,35.0]}}`
	testEMSCFeature = `{"type":"Feature","id":"20240101_0000123","geometry":{"type":"Point","coordinates":[21.3,38.1,-10]},"properties":{"unid":"20240101_0000999","time":"2024-01-01T12:00:00.5Z","lat":38.1,"lon":21.3,"depth":10,"mag":4.6,"magtype":"mb","flynn_region":"GREECE"}}`
)

func TestParseRawRecord(t *testing.T) {
	t.Run("usgs geojson feature", func(t *testing.T) {
		ev, err := ParseRawRecord(RawRecord{Provider: "usgs", Format: FormatUSGSGeoJSON, Payload: []byte(testUSGSFeature)})
		require.NoError(t, err)

		assert.Equal(t, "us7000abcd", ev.ID)
		assert.Equal(t, "usgs", ev.Provider)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.Time)
		assert.Equal(t, -5.3, ev.Latitude)
		assert.Equal(t, 152.7, ev.Longitude)
		assert.Equal(t, 35.0, ev.Depth)
		assert.Equal(t, 7.2, ev.Magnitude)
		assert.Equal(t, 800.0, ev.Significance)
		assert.Equal(t, AlertOrange, ev.Alert)
		assert.True(t, ev.Tsunami)
		assert.Zero(t, ev.StationCount, "null nst defaults to zero")
		assert.Equal(t, 17.0, ev.Gap)
		assert.Equal(t, 2.9, ev.DMin)
	})

	t.Run("emsc json feature", func(t *testing.T) {
		ev, err := ParseRawRecord(RawRecord{Provider: "emsc", Format: FormatEMSCJSON, Payload: []byte(testEMSCFeature)})
		require.NoError(t, err)

		assert.Equal(t, "20240101_0000999", ev.ID, "unid preferred over feature id")
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 500_000_000, time.UTC), ev.Time)
		assert.Equal(t, 10.0, ev.Depth)
		assert.Equal(t, "M 4.6 - GREECE", ev.Title)
		assert.Equal(t, AlertNone, ev.Alert)
		assert.False(t, ev.Tsunami)
	})

	t.Run("catalog row with legacy date format", func(t *testing.T) {
		payload := `{"title":"M 6.5 - 42 km W of Sola, Vanuatu","magnitude":"6.5","date_time":"16-08-2023 12:47","latitude":"-13.8814","longitude":"167.158","depth":"48.752","sig":"657","alert":"green","tsunami":"0","nst":"","gap":"23","dmin":"7.177"}`
		ev, err := ParseRawRecord(RawRecord{Provider: "catalog", Format: FormatCatalogRow, Payload: []byte(payload)})
		require.NoError(t, err)

		assert.Empty(t, ev.ID)
		assert.Equal(t, time.Date(2023, 8, 16, 12, 47, 0, 0, time.UTC), ev.Time)
		assert.Equal(t, 6.5, ev.Magnitude)
		assert.Equal(t, AlertGreen, ev.Alert)
		assert.Equal(t, 657.0, ev.Significance)
		assert.Zero(t, ev.StationCount)
	})

	t.Run("catalog row with iso date and id", func(t *testing.T) {
		payload := `{"id":"ev-9","magnitude":"7.0","time":"2020-01-02T03:04:05Z","latitude":"1","longitude":"2"}`
		ev, err := ParseRawRecord(RawRecord{Provider: "catalog", Format: FormatCatalogRow, Payload: []byte(payload)})
		require.NoError(t, err)
		assert.Equal(t, "ev-9", ev.ID)
		assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), ev.Time)
		assert.Zero(t, ev.Depth)
	})
}

func TestParseRawRecord_Errors(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		payload string
		field   string
	}{
		{"invalid json", FormatUSGSGeoJSON, `not json`, "payload"},
		{"usgs missing time", FormatUSGSGeoJSON, `{"id":"x","properties":{"mag":5},"geometry":{"coordinates":[1,2,3]}}`, "time"},
		{"usgs null magnitude", FormatUSGSGeoJSON, `{"id":"x","properties":{"mag":null,"time":1},"geometry":{"coordinates":[1,2,3]}}`, "magnitude"},
		{"usgs missing geometry", FormatUSGSGeoJSON, `{"id":"x","properties":{"mag":5,"time":1}}`, "geometry.coordinates"},
		{"usgs latitude out of range", FormatUSGSGeoJSON, `{"id":"x","properties":{"mag":5,"time":1},"geometry":{"coordinates":[1,95,3]}}`, "latitude"},
		{"emsc bad time", FormatEMSCJSON, `{"properties":{"time":"yesterday","lat":1,"lon":2,"mag":3}}`, "time"},
		{"emsc missing lon", FormatEMSCJSON, `{"properties":{"time":"2024-01-01T00:00:00Z","lat":1,"mag":3}}`, "longitude"},
		{"catalog missing magnitude", FormatCatalogRow, `{"date_time":"16-08-2023 12:47","latitude":"1","longitude":"2"}`, "magnitude"},
		{"catalog bad latitude", FormatCatalogRow, `{"date_time":"16-08-2023 12:47","magnitude":"5","latitude":"north","longitude":"2"}`, "latitude"},
		{"catalog missing time", FormatCatalogRow, `{"magnitude":"5","latitude":"1","longitude":"2"}`, "date_time"},
		{"unknown format", "rss", `{}`, "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRawRecord(RawRecord{Provider: "p", Format: tt.format, Payload: []byte(tt.payload)})
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.field, perr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseAlertLevel(t *testing.T) {
	tests := []struct {
		in   string
		want AlertLevel
	}{
		{"", AlertNone},
		{"green", AlertGreen},
		{"Yellow", AlertYellow},
		{" orange ", AlertOrange},
		{"red", AlertRed},
		{"purple", AlertNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAlertLevel(tt.in), tt.in)
	}
	assert.Equal(t, "red", AlertRed.String())
}

func TestCanonicalEvent_Keys(t *testing.T) {
	base := CanonicalEvent{
		Time:      time.Date(2024, 1, 1, 12, 0, 31, 0, time.UTC),
		Latitude:  38.123,
		Longitude: 21.349,
		Magnitude: 4.62,
	}

	t.Run("external id wins", func(t *testing.T) {
		ev := base
		ev.ID = "us123"
		assert.Equal(t, "id:us123", ev.Key())
	})

	t.Run("composite key without id", func(t *testing.T) {
		assert.Equal(t, "c:2024-01-01T12:00|38.1|21.3|4.6", base.Key())
	})

	t.Run("composite key tolerates small provider differences", func(t *testing.T) {
		other := base
		other.Time = other.Time.Add(20 * time.Second)
		other.Latitude = 38.14
		assert.Equal(t, base.CompositeKey(), other.CompositeKey())
	})

	t.Run("event ref", func(t *testing.T) {
		assert.Equal(t, base.Key(), EventRef(base))
		withID := base
		withID.ID = "abc"
		assert.Equal(t, "abc", EventRef(withID))
	})
}

func TestTask_RoundTrip(t *testing.T) {
	for _, task := range AllTasks {
		parsed, err := ParseTask(task.String())
		require.NoError(t, err)
		assert.Equal(t, task, parsed)
	}
	_, err := ParseTask("volcano")
	assert.Error(t, err)
	assert.Equal(t, "tsunami_generating", TsunamiRisk.String())
}

func TestAlertKey(t *testing.T) {
	ev := CanonicalEvent{ID: "us7000abcd"}
	assert.Equal(t, "id:us7000abcd|tsunami_generating", AlertKey(ev.Key(), TsunamiRisk))
	assert.NotEqual(t, AlertKey(ev.Key(), TsunamiRisk), AlertKey(ev.Key(), MajorEarthquake))
}
