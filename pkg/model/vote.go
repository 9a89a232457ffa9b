package model

import "safelink/pkg/config"

// Vote labels a vector by counting legitimate against phishing signals.
// Ties go to phishing; neutral values are ignored.
type Vote struct {
	n int
}

func NewVote(n int) *Vote {
	return &Vote{n: n}
}

func (c *Vote) counts(v config.Vector) (legit, phish int) {
	for _, f := range v {
		switch f {
		case config.Legitimate:
			legit++
		case config.Phishing:
			phish++
		}
	}
	return legit, phish
}

func (c *Vote) PredictProba(v config.Vector) ([2]float64, error) {
	if err := checkLen(v, c.n); err != nil {
		return [2]float64{}, err
	}
	legit, phish := c.counts(v)
	if legit+phish == 0 {
		return [2]float64{0.5, 0.5}, nil
	}
	pl := float64(legit) / float64(legit+phish)
	return [2]float64{1 - pl, pl}, nil
}

func (c *Vote) Predict(v config.Vector) (Label, error) {
	if err := checkLen(v, c.n); err != nil {
		return Phishing, err
	}
	legit, phish := c.counts(v)
	if phish >= legit {
		return Phishing, nil
	}
	return Legitimate, nil
}
