// Package history keeps a time-ordered index of recently seen events so that
// trailing-window features can be computed at any event's timestamp.
package history

import (
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
)

// Entry is the part of an event the store retains.
type Entry struct {
	Key       string
	Time      time.Time
	Magnitude float64
}

// Store is a sorted, key-unique set of entries. It is not safe for concurrent
// use; each processing loop owns its own Store.
type Store struct {
	entries []Entry // ascending by Time, insertion order among equal times
	keys    map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]struct{})}
}

// Record adds ev to the store. It returns false, leaving the store unchanged,
// when an entry with the same key is already present. Late arrivals are
// inserted at their timestamp position.
func (s *Store) Record(ev domain.CanonicalEvent) bool {
	key := ev.Key()
	if _, ok := s.keys[key]; ok {
		return false
	}
	t := ev.Time.UTC()
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Time.After(t) })
	s.entries = slices.Insert(s.entries, i, Entry{Key: key, Time: t, Magnitude: ev.Magnitude})
	s.keys[key] = struct{}{}
	return true
}

// Window returns the entries with timestamps in [asOf-window, asOf).
// The returned slice aliases the store and must not be modified.
func (s *Store) Window(asOf time.Time, window time.Duration) []Entry {
	lo, hi := s.bounds(asOf, window)
	return s.entries[lo:hi]
}

// CountWithin returns the number of entries in [asOf-window, asOf).
func (s *Store) CountWithin(asOf time.Time, window time.Duration) int {
	lo, hi := s.bounds(asOf, window)
	return hi - lo
}

// Trend returns the least-squares slope of magnitude against time, in
// magnitude units per day, over [asOf-window, asOf). It is 0 when the window
// holds fewer than two entries or all entries share one timestamp.
func (s *Store) Trend(asOf time.Time, window time.Duration) float64 {
	in := s.Window(asOf, window)
	if len(in) < 2 {
		return 0
	}
	origin := asOf.Add(-window)
	n := float64(len(in))

	var sumX, sumY float64
	for _, e := range in {
		sumX += e.Time.Sub(origin).Hours() / 24
		sumY += e.Magnitude
	}
	meanX, meanY := sumX/n, sumY/n

	var sxy, sxx float64
	for _, e := range in {
		dx := e.Time.Sub(origin).Hours()/24 - meanX
		sxy += dx * (e.Magnitude - meanY)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0
	}
	return sxy / sxx
}

// EvictOlderThan drops every entry strictly older than cutoff and returns the
// number removed.
func (s *Store) EvictOlderThan(cutoff time.Time) int {
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Time.Before(cutoff) })
	if i == 0 {
		return 0
	}
	for _, e := range s.entries[:i] {
		delete(s.keys, e.Key)
	}
	s.entries = slices.Delete(s.entries, 0, i)
	return i
}

// Len returns the number of retained entries.
func (s *Store) Len() int { return len(s.entries) }

func (s *Store) bounds(asOf time.Time, window time.Duration) (int, int) {
	from := asOf.Add(-window)
	lo := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Time.Before(from) })
	hi := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Time.Before(asOf) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
