package model

import (
	"errors"
	"fmt"
	"math"
)

// Scorer maps a scaled feature row to a positive-class probability.
type Scorer interface {
	Score(x []float64) float64
}

// modelSpec is the decoded form of model.json.
type modelSpec struct {
	Kind      string    `json:"kind"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Trees     []Tree    `json:"trees"`
}

func (s modelSpec) build(nFeatures int) (Scorer, error) {
	switch s.Kind {
	case kindLogistic:
		if len(s.Weights) != nFeatures {
			return nil, fmt.Errorf("logistic model has %d weights for %d features", len(s.Weights), nFeatures)
		}
		return &Logistic{Weights: s.Weights, Intercept: s.Intercept}, nil
	case kindRandomForest:
		if len(s.Trees) == 0 {
			return nil, errors.New("random forest has no trees")
		}
		for i, tree := range s.Trees {
			if err := tree.validate(nFeatures); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &Forest{Trees: s.Trees}, nil
	default:
		return nil, fmt.Errorf("unsupported model kind %q", s.Kind)
	}
}

// Logistic is a binary logistic regression.
type Logistic struct {
	Weights   []float64
	Intercept float64
}

func (l *Logistic) Score(x []float64) float64 {
	z := l.Intercept
	for i, w := range l.Weights {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z))
}

// Node is one split or leaf of a decision tree.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a decision tree stored as a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("no nodes")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			if n.Value < 0 || n.Value > 1 {
				return fmt.Errorf("node %d: leaf value %v outside [0,1]", i, n.Value)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		// Children always follow their parent, which rules out cycles.
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	return nil
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest averages the leaf probabilities of its trees.
type Forest struct {
	Trees []Tree
}

func (f *Forest) Score(x []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.Trees))
}
