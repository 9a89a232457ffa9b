package config

import (
	"strconv"
	"time"
)

// Feature values in the trained schema.
const (
	Legitimate = 1.0
	Suspicious = 0.0
	Phishing   = -1.0
)

// Vector is the fixed-order feature encoding consumed by the classifier.
type Vector []float64

// Slot records how one vector position was filled.
type Slot struct {
	Index        int     `json:"index"`
	Value        float64 `json:"value"`
	FallbackUsed bool    `json:"fallback_used"`
	Error        string  `json:"error,omitempty"`
}

// Report is the result of one extraction call.
type Report struct {
	ID       string          `json:"id"`
	URL      string          `json:"url"`
	Vector   Vector          `json:"vector"`
	Names    []string        `json:"names"`
	Slots    map[string]Slot `json:"slots"`
	Invalid  bool            `json:"invalid,omitempty"`
	Duration time.Duration   `json:"duration_ns"`

	// ExtractionErrors collects resource and probe failures for diagnostics.
	ExtractionErrors []string `json:"extraction_errors,omitempty"`
}

// Features maps probe IDs to their vector values.
func (r *Report) Features() map[string]float64 {
	out := make(map[string]float64, len(r.Names))
	for i, name := range r.Names {
		if i < len(r.Vector) {
			out[name] = r.Vector[i]
		}
	}
	return out
}

// FallbackCount returns how many slots were filled with a fallback value.
func (r *Report) FallbackCount() int {
	n := 0
	for _, s := range r.Slots {
		if s.FallbackUsed {
			n++
		}
	}
	return n
}

// Class labels of the training CSV.
const (
	ClassPhishing   = -1
	ClassLegitimate = 1
)

// DatasetHeader returns the training CSV header: Index, feature names, class.
func DatasetHeader(names []string) []string {
	header := make([]string, 0, len(names)+2)
	header = append(header, "Index")
	header = append(header, names...)
	return append(header, "class")
}

// ToCSVRow converts the vector into a training CSV row.
func (v Vector) ToCSVRow(index, class int) []string {
	row := make([]string, 0, len(v)+2)
	row = append(row, strconv.Itoa(index))
	for _, f := range v {
		row = append(row, strconv.FormatFloat(f, 'f', -1, 64))
	}
	return append(row, strconv.Itoa(class))
}

// Clone returns a copy that does not share the backing array.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
