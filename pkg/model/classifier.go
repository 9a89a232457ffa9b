package model

import (
	"errors"
	"fmt"

	"safelink/pkg/config"
)

// Label is the classifier verdict.
type Label int

const (
	Phishing   Label = 0
	Legitimate Label = 1
)

func (l Label) String() string {
	if l == Legitimate {
		return "Legitimate"
	}
	return "Potential Phishing"
}

var ErrFeatureCount = errors.New("feature vector length does not match model")

// Classifier scores a feature vector. PredictProba returns
// [p_phishing, p_legitimate].
type Classifier interface {
	Predict(v config.Vector) (Label, error)
	PredictProba(v config.Vector) ([2]float64, error)
}

// Load returns the classifier stored at path, or a Vote classifier when path
// is empty. n is the vector length the extractor produces.
func Load(path string, n int) (Classifier, error) {
	if path == "" {
		return NewVote(n), nil
	}
	m, err := LoadGradientBoosted(path)
	if err != nil {
		return nil, err
	}
	if m.NFeatures != n {
		return nil, fmt.Errorf("%w: model expects %d, extractor produces %d", ErrFeatureCount, m.NFeatures, n)
	}
	return m, nil
}

func checkLen(v config.Vector, n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(v), n)
	}
	return nil
}

func labelFor(proba [2]float64) Label {
	if proba[1] > proba[0] {
		return Legitimate
	}
	return Phishing
}
