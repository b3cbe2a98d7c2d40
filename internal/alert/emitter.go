// Package alert persists classification results and turns high-confidence
// results into alerts.
package alert

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

// Persistence targets reported in PersistenceError and metrics.
const (
	TargetResults = "results"
	TargetAlerts  = "alerts"
	TargetLedger  = "ledger"
	TargetKafka   = "kafka"
)

// Sink appends one record to an output log.
type Sink interface {
	Append(v any) error
}

// Ledger remembers which alerts were already emitted.
type Ledger interface {
	Claim(key []byte, rec domain.AlertRecord) (bool, error)
	Release(key []byte) error
}

// Publisher fans alerts out to an external system.
type Publisher interface {
	Publish(ctx context.Context, alert domain.AlertRecord) error
}

// Options configures an Emitter. Ledger and Publisher are optional.
type Options struct {
	Results   Sink
	Alerts    Sink
	Ledger    Ledger
	Publisher Publisher
	Bars      map[domain.Task]float64
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Emitter writes result records and alert records.
type Emitter struct {
	opts  Options
	newID func() string
}

// NewEmitter creates an Emitter. A nil Clock selects the real clock.
func NewEmitter(opts Options) *Emitter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Emitter{opts: opts, newID: uuid.NewString}
}

// Bar returns the probability a result must reach to alert: the larger of
// the configured bar for its task and the bundle's decision threshold.
func Bar(bars map[domain.Task]float64, res domain.ClassificationResult) float64 {
	return max(bars[res.Task], res.Threshold)
}

// Crosses reports whether res reaches its alert bar.
func Crosses(bars map[domain.Task]float64, res domain.ClassificationResult) bool {
	return res.Probability >= Bar(bars, res)
}

// Emit writes the result record for ev and one alert per result that crosses
// its bar. Write failures are retried once; what still fails is returned as
// joined PersistenceErrors after every other write has been attempted.
func (e *Emitter) Emit(ctx context.Context, ev domain.CanonicalEvent, results []domain.ClassificationResult) ([]domain.AlertRecord, error) {
	var (
		errs    []error
		crossed []domain.ClassificationResult
	)
	for _, res := range results {
		if Crosses(e.opts.Bars, res) {
			crossed = append(crossed, res)
		}
	}

	rec := domain.ResultRecord{
		EventID:    domain.EventRef(ev),
		Provider:   ev.Provider,
		EventTime:  ev.Time,
		Results:    results,
		AlertFired: len(crossed) > 0,
	}
	if err := e.persist(TargetResults, func() error { return e.opts.Results.Append(rec) }); err != nil {
		errs = append(errs, err)
	}

	var emitted []domain.AlertRecord
	for _, res := range crossed {
		alert, ok, err := e.emitAlert(ctx, ev, res)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			emitted = append(emitted, alert)
		}
	}
	return emitted, errors.Join(errs...)
}

func (e *Emitter) emitAlert(ctx context.Context, ev domain.CanonicalEvent, res domain.ClassificationResult) (domain.AlertRecord, bool, error) {
	alert := domain.AlertRecord{
		AlertID:       e.newID(),
		EventID:       domain.EventRef(ev),
		Title:         ev.Title,
		EventTime:     ev.Time,
		Latitude:      ev.Latitude,
		Longitude:     ev.Longitude,
		Depth:         ev.Depth,
		Magnitude:     ev.Magnitude,
		Task:          res.Task,
		Probability:   res.Probability,
		Threshold:     Bar(e.opts.Bars, res),
		BundleVersion: res.BundleVersion,
		DetectedAt:    e.opts.Clock.Now().UTC(),
	}
	task := res.Task.String()

	var errs []error
	var key []byte
	if e.opts.Ledger != nil {
		key = []byte(domain.AlertKey(ev.Key(), res.Task))
		claimed, err := e.opts.Ledger.Claim(key, alert)
		switch {
		case err != nil:
			// Ledger unavailable: emit anyway.
			errs = append(errs, e.fail(TargetLedger, err))
			key = nil
		case !claimed:
			e.opts.Logger.Debug("alert already in ledger", "event_id", alert.EventID, "task", task)
			e.opts.Metrics.AlertsSuppressed.WithLabelValues(task).Inc()
			return domain.AlertRecord{}, false, nil
		}
	}

	if err := e.persist(TargetAlerts, func() error { return e.opts.Alerts.Append(alert) }); err != nil {
		if key != nil {
			if rerr := e.opts.Ledger.Release(key); rerr != nil {
				e.opts.Logger.Error("release ledger entry failed", "error", rerr, "event_id", alert.EventID, "task", task)
			}
		}
		return domain.AlertRecord{}, false, errors.Join(append(errs, err)...)
	}

	e.opts.Metrics.AlertsTotal.WithLabelValues(task).Inc()
	e.opts.Logger.Warn("earthquake alert",
		"alert_id", alert.AlertID,
		"event_id", alert.EventID,
		"task", task,
		"probability", alert.Probability,
		"magnitude", alert.Magnitude,
		"title", alert.Title,
	)

	if e.opts.Publisher != nil {
		if err := e.persist(TargetKafka, func() error { return e.opts.Publisher.Publish(ctx, alert) }); err != nil {
			errs = append(errs, err)
		}
	}
	return alert, true, errors.Join(errs...)
}

// persist runs write, retrying once.
func (e *Emitter) persist(target string, write func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	e.opts.Logger.Warn("write failed, retrying", "target", target, "error", err)
	if err = write(); err == nil {
		return nil
	}
	return e.fail(target, err)
}

func (e *Emitter) fail(target string, err error) error {
	e.opts.Metrics.PersistenceErrors.WithLabelValues(target).Inc()
	e.opts.Logger.Error("persistence failed", "target", target, "error", err)
	return &domain.PersistenceError{Target: target, Err: err}
}
