package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"safelink/pkg/config"
)

var ErrInvalidArtifact = errors.New("invalid model artifact")

// Node is one split or leaf of a regression tree. Leaves have Feature -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// GradientBoosted is a binary gradient-boosted tree ensemble exported from
// training. The raw score is the log-odds of the legitimate class.
type GradientBoosted struct {
	Init         float64  `json:"init"`
	LearningRate float64  `json:"learning_rate"`
	NFeatures    int      `json:"n_features"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Trees        []Tree   `json:"trees"`
}

// LoadGradientBoosted reads and validates a JSON artifact.
func LoadGradientBoosted(path string) (*GradientBoosted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m GradientBoosted
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every tree is walkable for an n-feature vector.
func (m *GradientBoosted) Validate() error {
	if m.NFeatures <= 0 {
		return fmt.Errorf("%w: n_features must be positive", ErrInvalidArtifact)
	}
	if len(m.FeatureNames) != 0 && len(m.FeatureNames) != m.NFeatures {
		return fmt.Errorf("%w: %d feature names for %d features", ErrInvalidArtifact, len(m.FeatureNames), m.NFeatures)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= m.NFeatures {
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrInvalidArtifact, ti, ni, n.Feature)
			}
			// Children must come after their parent so walks terminate.
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: tree %d node %d has invalid children", ErrInvalidArtifact, ti, ni)
			}
		}
	}
	return nil
}

func (t *Tree) leaf(v config.Vector) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if v[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Score returns the raw log-odds for v.
func (m *GradientBoosted) Score(v config.Vector) (float64, error) {
	if err := checkLen(v, m.NFeatures); err != nil {
		return 0, err
	}
	score := m.Init
	for i := range m.Trees {
		score += m.LearningRate * m.Trees[i].leaf(v)
	}
	return score, nil
}

func (m *GradientBoosted) PredictProba(v config.Vector) ([2]float64, error) {
	score, err := m.Score(v)
	if err != nil {
		return [2]float64{}, err
	}
	legit := 1 / (1 + math.Exp(-score))
	return [2]float64{1 - legit, legit}, nil
}

func (m *GradientBoosted) Predict(v config.Vector) (Label, error) {
	p, err := m.PredictProba(v)
	if err != nil {
		return Phishing, err
	}
	return labelFor(p), nil
}
