// Package domain models earthquake events as reported by public seismic feeds,
// and the classification results and alerts derived from them.
//
// # Data Sources
//
// Live events come from periodically polled provider feeds. Each provider is
// configured with a feed format; the raw payload is split into one RawRecord
// per event before it reaches [ParseRawRecord].
//
// USGS GeoJSON summary feeds (https://earthquake.usgs.gov/earthquakes/feed/):
//
//	properties.time      epoch milliseconds, UTC
//	properties.mag       magnitude (any magType)
//	properties.sig       significance 0–1000+
//	properties.alert     PAGER colour: null, "green", "yellow", "orange", "red"
//	properties.tsunami   1 when a tsunami bulletin exists, else 0
//	properties.nst       number of stations used, may be null
//	properties.gap       largest azimuthal gap in degrees, may be null
//	properties.dmin      distance to nearest station in degrees, may be null
//	geometry.coordinates [longitude, latitude, depth_km]
//
// EMSC seismicportal FDSN JSON (https://www.seismicportal.eu/fdsnws/event/1/):
//
//	properties.time    ISO-8601 string, e.g. "2024-01-01T12:00:00.5Z"
//	properties.lat/lon decimal degrees
//	properties.depth   km, positive down
//	properties.unid    EMSC unique id, preferred over the feature id
//
// EMSC carries no significance, PAGER alert, tsunami or station fields; those
// take their defaults.
//
// Historical catalog rows (batch input) are flat string maps built from CSV
// headers. The historical export writes date_time as "DD-MM-YYYY HH:MM"; ISO
// layouts are also accepted.
//
// # Defaults
//
// Time, latitude, longitude and magnitude are mandatory; a record without them
// fails with [ParseError]. Every other field defaults to zero (alert level
// "none", tsunami false) when absent, null, or unparseable.
//
// # Identity
//
// [CanonicalEvent.Key] is the external id when present. [CanonicalEvent.CompositeKey]
// rounds origin time to the minute and coordinates and magnitude to one
// decimal, so the same quake relayed by two catalogs under different ids
// still collapses to one key.
package domain
