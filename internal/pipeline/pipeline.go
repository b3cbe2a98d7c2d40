package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/quake-monitor-service/internal/config"
	"github.com/couchcryptid/quake-monitor-service/internal/dedup"
	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/model"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

// Fetcher retrieves one provider's current feed.
type Fetcher interface {
	Fetch(ctx context.Context, p config.Provider) ([]domain.RawRecord, error)
}

// Throttle is implemented by fetchers that rate limit polls per provider.
// The scheduler takes one token per provider per cycle, before any retries.
type Throttle interface {
	Wait(ctx context.Context, p config.Provider) error
}

// Emitter persists the results of one event and raises its alerts.
type Emitter interface {
	Emit(ctx context.Context, ev domain.CanonicalEvent, results []domain.ClassificationResult) ([]domain.AlertRecord, error)
}

// BundleSource hands out the current model bundles.
type BundleSource interface {
	Current() *model.Set
}

// State is the scheduler's position within a poll cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StateClassifying
	StateEmitting
)

var stateNames = [...]string{"idle", "fetching", "normalizing", "classifying", "emitting"}

func (s State) String() string {
	if s < StateIdle || s > StateEmitting {
		return "unknown"
	}
	return stateNames[s]
}

// Options tunes the poll loop.
type Options struct {
	Providers     []config.Provider
	Interval      time.Duration
	FetchTimeout  time.Duration
	FetchRetries  int
	FetchBackoff  time.Duration
	DedupCapacity int
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	Started         time.Time     `json:"started"`
	Duration        time.Duration `json:"duration_ns"`
	Fetched         int           `json:"fetched"`
	ParseErrors     int           `json:"parse_errors"`
	Duplicates      int           `json:"duplicates"`
	Processed       int           `json:"processed"`
	Alerts          int           `json:"alerts"`
	Evicted         int           `json:"evicted"`
	FailedProviders []string      `json:"failed_providers,omitempty"`
	HistorySize     int           `json:"history_size"`
	DedupSize       int           `json:"dedup_size"`
}

// Scheduler runs periodic fetch, normalize, dedup, classify, emit cycles.
// History and dedup state are touched only by the goroutine running cycles.
type Scheduler struct {
	fetcher   Fetcher
	bundles   BundleSource
	emitter   Emitter
	processor *Processor
	seen      *dedup.Cache
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	state  atomic.Int32
	ready  atomic.Bool
	cycles atomic.Int64
	last   atomic.Pointer[CycleReport]
}

// NewScheduler creates a Scheduler. The processor must not be shared with
// another Scheduler or a batch run.
func NewScheduler(f Fetcher, bundles BundleSource, proc *Processor, em Emitter, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		fetcher:   f,
		bundles:   bundles,
		emitter:   em,
		processor: proc,
		seen:      dedup.New(opts.DedupCapacity),
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a poll cycle has completed, or an error
// describing why the service is not yet ready.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no poll cycle has completed yet")
	}
	return nil
}

// State returns the current cycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Status is the snapshot served on /status.
func (s *Scheduler) Status() any {
	bundles := map[string]string{}
	set := s.bundles.Current()
	for _, task := range set.Tasks() {
		b, _ := set.Get(task)
		bundles[task.String()] = b.Version()
	}
	return struct {
		State     string            `json:"state"`
		Cycles    int64             `json:"cycles"`
		LastCycle *CycleReport      `json:"last_cycle,omitempty"`
		Bundles   map[string]string `json:"bundles"`
	}{
		State:     s.State().String(),
		Cycles:    s.cycles.Load(),
		LastCycle: s.last.Load(),
		Bundles:   bundles,
	}
}

// Run executes a cycle immediately and then one per interval until the
// context is cancelled. Cancellation is observed between cycles only.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.opts.Interval, "providers", len(s.opts.Providers))
	s.metrics.SchedulerUp.Set(1)
	defer s.metrics.SchedulerUp.Set(0)

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunCycle performs one full poll cycle and returns its report.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	start := s.clock.Now()
	report := CycleReport{Started: start.UTC()}
	// In-flight work finishes even if ctx is cancelled; each fetch is still
	// bounded by the fetch timeout.
	work := context.WithoutCancel(ctx)

	s.setState(StateFetching)
	batches, failed := s.fetchAll(work)
	report.FailedProviders = failed

	s.setState(StateNormalizing)
	events := s.normalize(batches, &report)

	s.setState(StateClassifying)
	set := s.bundles.Current()
	if len(events) > 0 {
		report.Evicted = s.processor.Evict(events[0])
	}
	type classified struct {
		ev      domain.CanonicalEvent
		results []domain.ClassificationResult
	}
	out := make([]classified, 0, len(events))
	for _, ev := range events {
		out = append(out, classified{ev: ev, results: s.processor.Process(ev, set)})
	}
	report.Processed = len(out)

	s.setState(StateEmitting)
	for _, c := range out {
		alerts, err := s.emitter.Emit(work, c.ev, c.results)
		if err != nil {
			s.logger.Error("emit failed", "event_id", domain.EventRef(c.ev), "error", err)
		}
		report.Alerts += len(alerts)
	}

	s.setState(StateIdle)
	report.Duration = s.clock.Since(start)
	report.HistorySize = s.processor.HistoryLen()
	report.DedupSize = s.seen.Len()
	s.metrics.HistorySize.Set(float64(report.HistorySize))
	s.last.Store(&report)
	s.cycles.Add(1)
	s.ready.Store(true)

	outcome := "ok"
	if len(failed) > 0 {
		outcome = "partial"
	}
	s.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	s.metrics.CycleDuration.Observe(report.Duration.Seconds())
	s.logger.Info("poll cycle complete",
		"fetched", report.Fetched,
		"processed", report.Processed,
		"duplicates", report.Duplicates,
		"parse_errors", report.ParseErrors,
		"alerts", report.Alerts,
		"failed_providers", failed,
		"duration", report.Duration,
	)
	return report
}

// fetchAll fetches every enabled provider concurrently. Results are returned
// in provider order.
func (s *Scheduler) fetchAll(ctx context.Context) ([][]domain.RawRecord, []string) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		failed  []string
		batches = make([][]domain.RawRecord, len(s.opts.Providers))
	)
	for i, p := range s.opts.Providers {
		if !p.IsEnabled() {
			continue
		}
		g.Go(func() error {
			records, err := s.fetchProvider(ctx, p)
			if err != nil {
				s.logger.Error("provider skipped for this cycle", "provider", p.Name, "error", err)
				s.metrics.FetchFailures.WithLabelValues(p.Name).Inc()
				mu.Lock()
				failed = append(failed, p.Name)
				mu.Unlock()
				return nil
			}
			s.metrics.EventsFetched.WithLabelValues(p.Name).Add(float64(len(records)))
			batches[i] = records
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(failed)
	return batches, failed
}

// fetchProvider fetches one provider, retrying with exponential backoff.
func (s *Scheduler) fetchProvider(ctx context.Context, p config.Provider) ([]domain.RawRecord, error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.FetchDuration.WithLabelValues(p.Name).Observe(s.clock.Since(start).Seconds())
	}()

	if t, ok := s.fetcher.(Throttle); ok {
		if err := t.Wait(ctx, p); err != nil {
			return nil, &domain.FetchError{Provider: p.Name, Err: err}
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.FetchBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.opts.FetchRetries, 0))), ctx)

	var (
		records  []domain.RawRecord
		attempts int
	)
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
		var err error
		records, err = s.fetcher.Fetch(attemptCtx, p)
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("fetch failed, retrying", "provider", p.Name, "attempt", attempts, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, &domain.FetchError{Provider: p.Name, Attempts: attempts, Err: err}
	}
	return records, nil
}

// normalize parses, dedups and orders the fetched records.
func (s *Scheduler) normalize(batches [][]domain.RawRecord, report *CycleReport) []domain.CanonicalEvent {
	var events []domain.CanonicalEvent
	for _, batch := range batches {
		report.Fetched += len(batch)
		for _, raw := range batch {
			ev, err := domain.ParseRawRecord(raw)
			if err != nil {
				s.logger.Warn("record skipped", "provider", raw.Provider, "error", err)
				s.metrics.ParseErrors.WithLabelValues(raw.Provider).Inc()
				report.ParseErrors++
				continue
			}
			if !s.seen.ShouldProcessEvent(ev) {
				s.metrics.DuplicatesTotal.Inc()
				report.Duplicates++
				continue
			}
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events
}

func (s *Scheduler) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.metrics.SchedulerStep.WithLabelValues(prev.String()).Set(0)
	s.metrics.SchedulerStep.WithLabelValues(st.String()).Set(1)
}
