package probe

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDuplicateIndex = errors.New("duplicate probe index")
	ErrDuplicateID    = errors.New("duplicate probe id")
	ErrIndexGap       = errors.New("probe indices are not contiguous")
	ErrSealed         = errors.New("registry is sealed")
	ErrInvalidProbe   = errors.New("invalid probe definition")
)

// Registry is the ordered probe catalog. Register during startup, then Seal;
// a sealed registry is read concurrently without locking.
type Registry struct {
	mu      sync.Mutex
	sealed  bool
	byIndex map[int]*Definition
	byID    map[string]*Definition
	ordered []*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[int]*Definition),
		byID:    make(map[string]*Definition),
	}
}

// Register adds a definition. It fails on a duplicate index or ID.
func (r *Registry) Register(d Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: empty id at index %d", ErrInvalidProbe, d.Index)
	case d.Index < 0:
		return fmt.Errorf("%w: %s has negative index %d", ErrInvalidProbe, d.ID, d.Index)
	case d.Eval == nil:
		return fmt.Errorf("%w: %s has no evaluator", ErrInvalidProbe, d.ID)
	case !d.Allows(d.Fallback):
		return fmt.Errorf("%w: %s fallback %v outside its value domain", ErrInvalidProbe, d.ID, d.Fallback)
	}
	if prev, ok := r.byIndex[d.Index]; ok {
		return fmt.Errorf("%w: %d claimed by %s and %s", ErrDuplicateIndex, d.Index, prev.ID, d.ID)
	}
	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}

	def := d
	r.byIndex[d.Index] = &def
	r.byID[d.ID] = &def
	return nil
}

// Seal checks that indices form 0..N-1 and freezes the registry.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	n := len(r.byIndex)
	if n == 0 {
		return fmt.Errorf("%w: no probes registered", ErrIndexGap)
	}
	ordered := make([]*Definition, 0, n)
	for _, d := range r.byIndex {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	for i, d := range ordered {
		if d.Index != i {
			return fmt.Errorf("%w: missing index %d (next is %s at %d)", ErrIndexGap, i, d.ID, d.Index)
		}
	}
	r.ordered = ordered
	r.sealed = true
	return nil
}

// Ordered returns the definitions in vector order. It is nil until sealed.
func (r *Registry) Ordered() []*Definition {
	return r.ordered
}

// Len returns N, the vector length.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Names returns the probe IDs in vector order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, d := range r.ordered {
		names[i] = d.ID
	}
	return names
}

// Lookup returns the definition with the given ID.
func (r *Registry) Lookup(id string) (*Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sealed {
		return nil, false
	}
	d, ok := r.byID[id]
	return d, ok
}

// Needs is the union of resources required by all registered probes.
func (r *Registry) Needs() Resource {
	var need Resource
	for _, d := range r.ordered {
		need |= d.Needs
	}
	return need
}
