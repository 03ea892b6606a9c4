package hindsight

// MergePolicy collapses the errata directed at a single variable before they
// are delivered to that variable's producing frame. The engine fixes target
// ordering but not payload-merge semantics: the default policy keeps every
// erratum in arrival order, and callers with structured payloads can install
// a policy that folds them (see Graph.SetMergePolicy).
type MergePolicy func(errata []Erratum) []Erratum

// defaultMerge keeps arrival order untouched.
func defaultMerge(errata []Erratum) []Erratum {
	return errata
}

// Correction is a composable bundle of errata targeted at one or more
// variables. Corrections combine by target-set union: errata for disjoint
// targets do not interact, errata for the same target concatenate in
// combination order.
type Correction struct {
	order  []*Variable
	errata map[*Variable][]Erratum
}

// NewCorrection creates a Correction carrying the given feedback payloads for
// a single target variable.
func NewCorrection(target *Variable, payloads ...any) *Correction {
	c := &Correction{
		errata: make(map[*Variable][]Erratum),
	}
	for _, p := range payloads {
		c.add(target, Erratum{Payload: p})
	}
	return c
}

// Critique builds a Correction from free-text feedback on a variable. It is
// the usual entry point for caller feedback: critique the output, combine
// critiques, propagate.
func Critique(target *Variable, feedback string) *Correction {
	return NewCorrection(target, feedback)
}

func (c *Correction) add(target *Variable, e Erratum) {
	if _, seen := c.errata[target]; !seen {
		c.order = append(c.order, target)
	}
	c.errata[target] = append(c.errata[target], e)
}

// Combine merges two Corrections into a new multi-target Correction.
// Combination is associative and commutative with respect to the target set.
// Per-target payload order follows combination order (a's errata before b's),
// which keeps merge results deterministic for a fixed combination order.
func Combine(a, b *Correction) *Correction {
	out := &Correction{
		errata: make(map[*Variable][]Erratum),
	}
	for _, src := range []*Correction{a, b} {
		if src == nil {
			continue
		}
		for _, target := range src.order {
			for _, e := range src.errata[target] {
				out.add(target, e)
			}
		}
	}
	return out
}

// Combine merges another Correction into this one, returning the combined
// result as a new Correction. Neither receiver nor argument is modified.
func (c *Correction) Combine(other *Correction) *Correction {
	return Combine(c, other)
}

// Targets returns the corrected variables in first-seen order.
func (c *Correction) Targets() []*Variable {
	out := make([]*Variable, len(c.order))
	copy(out, c.order)
	return out
}

// ForVariable returns the errata directed at one variable, or false if the
// correction does not target it.
func (c *Correction) ForVariable(v *Variable) ([]Erratum, bool) {
	errata, ok := c.errata[v]
	if !ok {
		return nil, false
	}
	out := make([]Erratum, len(errata))
	copy(out, errata)
	return out, true
}

// Len returns the number of targeted variables.
func (c *Correction) Len() int {
	return len(c.order)
}
