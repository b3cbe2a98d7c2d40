package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/couchcryptid/quake-monitor-service/internal/alert"
	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/features"
	"github.com/couchcryptid/quake-monitor-service/internal/model"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

// BatchSummary reports the outcome of a batch run.
type BatchSummary struct {
	Rows        int `json:"rows"`
	ParseErrors int `json:"parse_errors"`
	Scored      int `json:"scored"`
	AlertsFired int `json:"alerts_fired"`
	WriteErrors int `json:"write_errors"`
}

// BatchOptions configures RunBatch.
type BatchOptions struct {
	Engineer *features.Engineer
	Bars     map[domain.Task]float64
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// RunBatch scores a historical dataset in time order with its own history.
// No dedup or eviction is applied. Every parsed record produces exactly one
// result record on out; unparseable records are skipped with a warning. A
// result that cannot be written after one retry is logged, counted in
// WriteErrors, and the run continues.
func RunBatch(records []domain.RawRecord, set *model.Set, out alert.Sink, opts BatchOptions) BatchSummary {
	summary := BatchSummary{Rows: len(records)}

	events := make([]domain.CanonicalEvent, 0, len(records))
	for i, raw := range records {
		ev, err := domain.ParseRawRecord(raw)
		if err != nil {
			opts.Logger.Warn("row skipped", "row", i+1, "error", err)
			opts.Metrics.ParseErrors.WithLabelValues(raw.Provider).Inc()
			summary.ParseErrors++
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })

	proc := NewProcessor(opts.Engineer, opts.Logger, opts.Metrics)
	for _, ev := range events {
		results := proc.Process(ev, set)
		rec := domain.ResultRecord{
			EventID:   domain.EventRef(ev),
			Provider:  ev.Provider,
			EventTime: ev.Time,
			Results:   results,
		}
		for _, res := range results {
			if alert.Crosses(opts.Bars, res) {
				rec.AlertFired = true
				break
			}
		}
		summary.Scored++
		if err := appendWithRetry(out, rec); err != nil {
			perr := &domain.PersistenceError{Target: alert.TargetResults, Err: err}
			opts.Metrics.PersistenceErrors.WithLabelValues(alert.TargetResults).Inc()
			opts.Logger.Error("result not written", "event_id", rec.EventID, "error", perr)
			summary.WriteErrors++
			continue
		}
		if rec.AlertFired {
			summary.AlertsFired++
		}
	}

	opts.Logger.Info("batch complete",
		"rows", summary.Rows,
		"scored", summary.Scored,
		"parse_errors", summary.ParseErrors,
		"alerts_fired", summary.AlertsFired,
		"write_errors", summary.WriteErrors,
	)
	return summary
}

func appendWithRetry(out alert.Sink, v any) error {
	err := out.Append(v)
	if err == nil {
		return nil
	}
	if retryErr := out.Append(v); retryErr != nil {
		return fmt.Errorf("after retry: %w", errors.Join(err, retryErr))
	}
	return nil
}
