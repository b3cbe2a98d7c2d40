package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boltadapter "github.com/couchcryptid/quake-monitor-service/internal/adapter/bolt"
	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

var detectedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type memSink struct {
	records  []any
	failures int
}

func (s *memSink) Append(v any) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	s.records = append(s.records, v)
	return nil
}

type memPublisher struct {
	published []domain.AlertRecord
	err       error
}

func (p *memPublisher) Publish(_ context.Context, a domain.AlertRecord) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, a)
	return nil
}

type fixture struct {
	results *memSink
	alerts  *memSink
	metrics *observability.Metrics
	opts    Options
}

func newFixture() *fixture {
	f := &fixture{results: &memSink{}, alerts: &memSink{}, metrics: observability.NewMetricsForTesting()}
	f.opts = Options{
		Results: f.results,
		Alerts:  f.alerts,
		Bars:    map[domain.Task]float64{domain.MajorEarthquake: 0.8, domain.SignificantEvent: 0.8, domain.TsunamiRisk: 0.8},
		Clock:   clockwork.NewFakeClockAt(detectedAt),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: f.metrics,
	}
	return f
}

func (f *fixture) emitter() *Emitter {
	e := NewEmitter(f.opts)
	n := 0
	e.newID = func() string {
		n++
		return "alert-" + string(rune('0'+n))
	}
	return e
}

func testEvent() domain.CanonicalEvent {
	return domain.CanonicalEvent{
		ID: "us7000abcd", Provider: "usgs", Title: "M 7.2 - Papua New Guinea",
		Time: detectedAt.Add(-3 * time.Minute), Latitude: -5.3, Longitude: 152.7, Depth: 35, Magnitude: 7.2,
	}
}

func result(task domain.Task, p, threshold float64) domain.ClassificationResult {
	return domain.ClassificationResult{Task: task, Probability: p, Label: p >= threshold, BundleVersion: "v1", Threshold: threshold}
}

func TestEmit_BelowBar(t *testing.T) {
	f := newFixture()
	alerts, err := f.emitter().Emit(context.Background(), testEvent(), []domain.ClassificationResult{result(domain.MajorEarthquake, 0.79, 0.5)})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, f.alerts.records)

	require.Len(t, f.results.records, 1)
	rec := f.results.records[0].(domain.ResultRecord)
	assert.Equal(t, "us7000abcd", rec.EventID)
	assert.False(t, rec.AlertFired)
	assert.Len(t, rec.Results, 1)
}

func TestEmit_Alert(t *testing.T) {
	f := newFixture()
	results := []domain.ClassificationResult{
		result(domain.MajorEarthquake, 0.5, 0.5),
		result(domain.TsunamiRisk, 0.93, 0.5),
	}
	alerts, err := f.emitter().Emit(context.Background(), testEvent(), results)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "alert-1", a.AlertID)
	assert.Equal(t, domain.TsunamiRisk, a.Task)
	assert.Equal(t, 0.93, a.Probability)
	assert.Equal(t, 0.8, a.Threshold)
	assert.Equal(t, detectedAt, a.DetectedAt)
	assert.Equal(t, "M 7.2 - Papua New Guinea", a.Title)
	assert.Equal(t, []any{a}, f.alerts.records)

	rec := f.results.records[0].(domain.ResultRecord)
	assert.True(t, rec.AlertFired)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsTotal.WithLabelValues("tsunami_generating")))
}

func TestEmit_BundleThresholdRaisesBar(t *testing.T) {
	f := newFixture()
	alerts, err := f.emitter().Emit(context.Background(), testEvent(), []domain.ClassificationResult{result(domain.SignificantEvent, 0.85, 0.9)})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	assert.Equal(t, 0.9, Bar(f.opts.Bars, result(domain.SignificantEvent, 0, 0.9)))
	assert.True(t, Crosses(f.opts.Bars, result(domain.SignificantEvent, 0.8, 0.3)), "p equal to bar alerts")
}

func TestEmit_LedgerSuppressesRepeat(t *testing.T) {
	ledger, err := boltadapter.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	f := newFixture()
	f.opts.Ledger = ledger
	e := f.emitter()
	results := []domain.ClassificationResult{result(domain.TsunamiRisk, 0.95, 0.5)}

	first, err := e.Emit(context.Background(), testEvent(), results)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := e.Emit(context.Background(), testEvent(), results)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, f.alerts.records, 1)
	assert.Len(t, f.results.records, 2, "results are always written")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertsSuppressed.WithLabelValues("tsunami_generating")))

	stored, found, err := ledger.Get([]byte(domain.AlertKey(testEvent().Key(), domain.TsunamiRisk)))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first[0].AlertID, stored.AlertID)
}

func TestEmit_RetriesOnce(t *testing.T) {
	f := newFixture()
	f.alerts.failures = 1
	alerts, err := f.emitter().Emit(context.Background(), testEvent(), []domain.ClassificationResult{result(domain.TsunamiRisk, 0.95, 0.5)})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, f.alerts.records, 1)
}

func TestEmit_PersistenceErrorAfterRetry(t *testing.T) {
	ledger, err := boltadapter.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	f := newFixture()
	f.opts.Ledger = ledger
	f.alerts.failures = 2
	f.results.failures = 2
	e := f.emitter()
	results := []domain.ClassificationResult{result(domain.TsunamiRisk, 0.95, 0.5)}

	alerts, err := e.Emit(context.Background(), testEvent(), results)
	require.Error(t, err)
	assert.Empty(t, alerts)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "persist results")
	assert.Contains(t, err.Error(), "persist alerts")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistenceErrors.WithLabelValues(TargetAlerts)))

	// The ledger claim was released, so the next attempt alerts.
	again, err := e.Emit(context.Background(), testEvent(), results)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestEmit_Publisher(t *testing.T) {
	f := newFixture()
	pub := &memPublisher{}
	f.opts.Publisher = pub

	alerts, err := f.emitter().Emit(context.Background(), testEvent(), []domain.ClassificationResult{result(domain.MajorEarthquake, 0.9, 0.5)})
	require.NoError(t, err)
	assert.Equal(t, alerts, pub.published)

	f2 := newFixture()
	f2.opts.Publisher = &memPublisher{err: errors.New("broker down")}
	alerts, err = f2.emitter().Emit(context.Background(), testEvent(), []domain.ClassificationResult{result(domain.MajorEarthquake, 0.9, 0.5)})
	require.Error(t, err)
	assert.Len(t, alerts, 1, "the alert log still holds the alert")
	assert.Contains(t, err.Error(), "persist kafka")
}
