package model

import (
	"math"

	"github.com/couchcryptid/quake-monitor-service/internal/domain"
	"github.com/couchcryptid/quake-monitor-service/internal/features"
)

// Classify scores v against b. The bundle's selected features are taken from
// v in bundle order; if any is absent the result is a [domain.SchemaMismatch].
func Classify(b *Bundle, v features.Vector) (domain.ClassificationResult, error) {
	selected := b.Metadata.SelectedFeatures
	row := make([]float64, len(selected))
	var missing []string
	for i, name := range selected {
		x, ok := v.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		row[i] = x
	}
	if len(missing) > 0 {
		return domain.ClassificationResult{}, &domain.SchemaMismatch{Task: b.Task, Missing: missing}
	}

	p := clamp01(b.Scorer.Score(b.Scaler.Transform(row)))
	return domain.ClassificationResult{
		Task:          b.Task,
		Probability:   p,
		Label:         p >= b.Threshold(),
		BundleVersion: b.Version(),
		Threshold:     b.Threshold(),
	}, nil
}

// ClassifyAll runs every task in s. A failing task is reported in errs and
// does not stop the others.
func ClassifyAll(s *Set, v features.Vector) (results []domain.ClassificationResult, errs []error) {
	for _, task := range s.Tasks() {
		b, _ := s.Get(task)
		res, err := Classify(b, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func clamp01(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
