package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"safelink/pkg/common"
	"safelink/pkg/config"
	"safelink/pkg/fetch"
	"safelink/pkg/rank"
)

// Kind groups probes by the cost of their inputs.
type Kind int

const (
	Lexical Kind = iota
	Domain
	Page
	External
)

func (k Kind) String() string {
	switch k {
	case Lexical:
		return "lexical"
	case Domain:
		return "domain"
	case Page:
		return "page"
	case External:
		return "external"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Resource is a bit set of shared inputs a probe reads.
type Resource uint8

const (
	NeedsDomain Resource = 1 << iota
	NeedsPage
	NeedsRank
	NeedsIndex

	NeedsNothing Resource = 0
)

func (r Resource) Has(o Resource) bool { return r&o == o && o != 0 }

// Keys returns the fetch cache keys for the resources in r.
func (r Resource) Keys() []string {
	var keys []string
	if r.Has(NeedsDomain) {
		keys = append(keys, fetch.KeyDomain)
	}
	if r.Has(NeedsPage) {
		keys = append(keys, fetch.KeyPage)
	}
	if r.Has(NeedsRank) {
		keys = append(keys, fetch.KeyRank)
	}
	if r.Has(NeedsIndex) {
		keys = append(keys, fetch.KeyIndex)
	}
	return keys
}

// Input is everything a probe may read. Fields for resources the probe did
// not declare are nil.
type Input struct {
	Target *common.Target
	Domain *fetch.DomainRecord
	Page   *fetch.PageSnapshot
	Rank   *rank.Result
	Index  *fetch.IndexRecord
	Now    time.Time
}

// EvalFunc maps an Input to a feature value.
type EvalFunc func(in *Input) (float64, error)

// Definition binds a probe to its fixed vector position.
type Definition struct {
	ID       string
	Index    int
	Kind     Kind
	Needs    Resource
	Fallback float64
	// Values is the value domain; results outside it are treated as faults.
	Values []float64
	Eval   EvalFunc
}

// Allows reports whether v lies in the probe's value domain.
func (d *Definition) Allows(v float64) bool {
	if len(d.Values) == 0 {
		return true
	}
	for _, a := range d.Values {
		if a == v {
			return true
		}
	}
	return false
}

var (
	ErrMissingInput = errors.New("required input unavailable")
	ErrOutOfDomain  = errors.New("value outside declared domain")
)

// FaultError is a probe failure converted from a panic or bad value.
type FaultError struct {
	Probe string
	Cause any
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("probe %s fault: %v", e.Probe, e.Cause)
}

// Run evaluates d against in. Panics are recovered into a *FaultError and
// the evaluation is abandoned once ctx is done.
func (d *Definition) Run(ctx context.Context, in *Input) (float64, error) {
	type outcome struct {
		v   float64
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &FaultError{Probe: d.ID, Cause: r}}
			}
		}()
		v, err := d.Eval(in)
		done <- outcome{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return d.Fallback, fmt.Errorf("probe %s: %w", d.ID, ctx.Err())
	case o := <-done:
		if o.err != nil {
			return d.Fallback, o.err
		}
		if !d.Allows(o.v) {
			return d.Fallback, &FaultError{Probe: d.ID, Cause: fmt.Errorf("%w: %v", ErrOutOfDomain, o.v)}
		}
		return o.v, nil
	}
}

// Ternary is the {-1, 0, 1} value domain used by the trained schema.
var Ternary = []float64{config.Phishing, config.Suspicious, config.Legitimate}

// Binary is the {-1, 1} value domain.
var Binary = []float64{config.Phishing, config.Legitimate}

func signal(phishing bool) float64 {
	if phishing {
		return config.Phishing
	}
	return config.Legitimate
}
