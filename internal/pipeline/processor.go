package pipeline

import (
	"errors"
	"log/slog"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/features"
	"github.com/couchcryptid/quake-monitor-service/internal/history"
	"github.com/couchcryptid/quake-monitor-service/internal/model"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

// Processor runs the per-event path shared by stream and batch mode: record
// into history, derive features, classify. It owns its history store.
type Processor struct {
	engineer *features.Engineer
	history  *history.Store
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewProcessor creates a Processor with an empty history.
func NewProcessor(engineer *features.Engineer, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		engineer: engineer,
		history:  history.New(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Process classifies ev against every bundle in set. Tasks that fail with a
// schema mismatch are logged and left out of the results.
func (p *Processor) Process(ev domain.CanonicalEvent, set *model.Set) []domain.ClassificationResult {
	p.history.Record(ev)
	vec := p.engineer.Compute(ev, p.history)

	results, errs := model.ClassifyAll(set, vec)
	for _, err := range errs {
		var mismatch *domain.SchemaMismatch
		if errors.As(err, &mismatch) {
			p.metrics.SchemaMismatches.WithLabelValues(mismatch.Task.String()).Inc()
		}
		p.logger.Error("classification skipped", "event_id", domain.EventRef(ev), "error", err)
	}
	for _, res := range results {
		label := "negative"
		if res.Label {
			label = "positive"
		}
		p.metrics.Classifications.WithLabelValues(res.Task.String(), label).Inc()
	}
	p.metrics.EventsProcessed.Inc()
	return results
}

// Evict drops history older than the widest feature window before from.
func (p *Processor) Evict(from domain.CanonicalEvent) int {
	n := p.history.EvictOlderThan(from.Time.Add(-p.engineer.LongestWindow()))
	if n > 0 {
		p.metrics.HistoryEvictions.Add(float64(n))
	}
	p.metrics.HistorySize.Set(float64(p.history.Len()))
	return n
}

// HistoryLen returns the number of events in the processor's history.
func (p *Processor) HistoryLen() int { return p.history.Len() }
