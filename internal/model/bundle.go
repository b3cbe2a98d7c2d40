package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/features"
)

const (
	metadataFile = "metadata.json"
	scalerFile   = "scaler.json"
	modelFile    = "model.json"

	kindLogistic     = "logistic"
	kindRandomForest = "random_forest"
)

// Metadata describes how and when a bundle was trained.
type Metadata struct {
	Version          string             `json:"version"`
	TrainingDate     time.Time          `json:"training_date"`
	FeatureCount     int                `json:"feature_count"`
	RecordCount      int                `json:"record_count"`
	Threshold        float64            `json:"threshold"`
	SelectedFeatures []string           `json:"selected_features"`
	Performance      map[string]float64 `json:"performance,omitempty"`
}

// Scaler standardises each selected feature as (x - center) / scale.
type Scaler struct {
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

// Transform returns the scaled copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Center[i]) / scale
	}
	return out
}

// Bundle is the immutable set of artifacts for one task.
type Bundle struct {
	Task     domain.Task
	Metadata Metadata
	Scaler   Scaler
	Scorer   Scorer
}

// Version identifies the bundle in results and alerts.
func (b *Bundle) Version() string {
	if b.Metadata.Version != "" {
		return b.Metadata.Version
	}
	if !b.Metadata.TrainingDate.IsZero() {
		return b.Metadata.TrainingDate.UTC().Format(time.RFC3339)
	}
	return "unversioned"
}

// Threshold is the decision threshold a probability must reach for a positive label.
func (b *Bundle) Threshold() float64 { return b.Metadata.Threshold }

// Set holds at most one bundle per task. A Set is never modified after it
// is built; reloads produce a new Set.
type Set struct {
	bundles map[domain.Task]*Bundle
}

// NewSet builds a Set from bundles. Later bundles for the same task win.
func NewSet(bundles ...*Bundle) *Set {
	m := make(map[domain.Task]*Bundle, len(bundles))
	for _, b := range bundles {
		m[b.Task] = b
	}
	return &Set{bundles: m}
}

// Get returns the bundle for task, if enabled.
func (s *Set) Get(task domain.Task) (*Bundle, bool) {
	if s == nil {
		return nil, false
	}
	b, ok := s.bundles[task]
	return b, ok
}

// Tasks returns the enabled tasks in canonical order.
func (s *Set) Tasks() []domain.Task {
	var out []domain.Task
	for _, t := range domain.AllTasks {
		if _, ok := s.Get(t); ok {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of enabled tasks.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bundles)
}

// LoadAll loads the bundle of every task under root. Tasks whose bundle is
// missing or invalid are logged and skipped. It returns [domain.ErrNoBundles]
// when no task could be loaded.
func LoadAll(root string, logger *slog.Logger) (*Set, []error, error) {
	var (
		bundles []*Bundle
		errs    []error
	)
	for _, task := range domain.AllTasks {
		b, err := LoadBundle(filepath.Join(root, task.String()), task)
		if err != nil {
			logger.Warn("model bundle disabled", "task", task.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("model bundle loaded",
			"task", task.String(),
			"version", b.Version(),
			"features", len(b.Metadata.SelectedFeatures),
			"threshold", b.Threshold(),
		)
		bundles = append(bundles, b)
	}
	if len(bundles) == 0 {
		return nil, errs, fmt.Errorf("%w in %s", domain.ErrNoBundles, root)
	}
	return NewSet(bundles...), errs, nil
}

// LoadBundle reads and validates the bundle in dir.
func LoadBundle(dir string, task domain.Task) (*Bundle, error) {
	b, err := loadBundle(dir, task)
	if err != nil {
		return nil, &domain.BundleError{Task: task, Err: err}
	}
	return b, nil
}

func loadBundle(dir string, task domain.Task) (*Bundle, error) {
	var meta Metadata
	if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return nil, err
	}
	var scaler Scaler
	if err := readJSON(filepath.Join(dir, scalerFile), &scaler); err != nil {
		return nil, err
	}
	var spec modelSpec
	if err := readJSON(filepath.Join(dir, modelFile), &spec); err != nil {
		return nil, err
	}

	if err := validateMetadata(meta); err != nil {
		return nil, err
	}
	n := len(meta.SelectedFeatures)
	if len(scaler.Center) != n || len(scaler.Scale) != n {
		return nil, fmt.Errorf("scaler has %d centers and %d scales for %d features", len(scaler.Center), len(scaler.Scale), n)
	}
	scorer, err := spec.build(n)
	if err != nil {
		return nil, err
	}
	return &Bundle{Task: task, Metadata: meta, Scaler: scaler, Scorer: scorer}, nil
}

func validateMetadata(meta Metadata) error {
	if len(meta.SelectedFeatures) == 0 {
		return errors.New("selected_features is empty")
	}
	if meta.Threshold < 0 || meta.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [0,1]", meta.Threshold)
	}
	seen := make(map[string]bool, len(meta.SelectedFeatures))
	var unknown []string
	for _, name := range meta.SelectedFeatures {
		if !features.Known(name) {
			unknown = append(unknown, name)
		}
		if seen[name] {
			return fmt.Errorf("selected feature %q listed twice", name)
		}
		seen[name] = true
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown selected features %v", unknown)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
