package hindsight

// Revision is the handle a backward phase uses to revise its frame's inputs.
// It buffers every mutation and recorded erratum: nothing is applied until
// the backward phase returns successfully, so a failing phase leaves the
// graph untouched. Errata drained through Claim are restored on failure for
// the same reason.
type Revision struct {
	frame  *Frame
	errata []Erratum

	claims    []claim
	mutations []mutation
	records   []record
}

type claim struct {
	target *Variable
	errata []Erratum
}

type mutation struct {
	target *Variable
	value  any
}

type record struct {
	target  *Variable
	erratum Erratum
}

// Errata returns the merged correction delivered to the frame's output, in
// arrival order.
func (r *Revision) Errata() []Erratum {
	out := make([]Erratum, len(r.errata))
	copy(out, r.errata)
	return out
}

// Inputs returns the frame's ordered input variables.
func (r *Revision) Inputs() []*Variable {
	return r.frame.Inputs()
}

// Output returns the frame's output variable.
func (r *Revision) Output() *Variable {
	return r.frame.output
}

// Claim drains and returns the errata pending on an input variable. A
// backward phase claims a leaf input's feedback when it intends to resolve
// that feedback itself via Mutate; leaves are never resumed by the driver, so
// unclaimed errata stay pending for a future pass. If the phase fails, every
// claim is restored to its variable.
func (r *Revision) Claim(v *Variable) []Erratum {
	drained := v.takePending()
	if len(drained) > 0 {
		r.claims = append(r.claims, claim{target: v, errata: drained})
	}
	return drained
}

// Mutate schedules an in-place payload replacement for an input the backward
// phase can fix deterministically. Applied only if the phase succeeds.
func (r *Revision) Mutate(v *Variable, value any) {
	r.mutations = append(r.mutations, mutation{target: v, value: value})
}

// Record schedules an erratum toward an input, deferring the fix to whichever
// frame produced that input. The erratum's provenance is this frame. Applied
// (and the target enqueued for this pass) only if the phase succeeds.
func (r *Revision) Record(v *Variable, payload any) {
	r.records = append(r.records, record{
		target:  v,
		erratum: Erratum{Payload: payload, Source: r.frame.module},
	})
}

// restore puts claimed errata back on their variables after a failed phase,
// preserving them for a future pass or a caller-driven resolve.
func (r *Revision) restore() {
	for _, c := range r.claims {
		for _, e := range c.errata {
			c.target.Record(e)
		}
	}
	r.claims = nil
}

// commit applies the buffered revision: mutations first, then recorded
// errata, enqueueing each newly corrected variable in the running pass.
func (r *Revision) commit(p *pass) {
	for _, m := range r.mutations {
		m.target.SetValue(m.value)
		p.mutated++
	}
	for _, rec := range r.records {
		rec.target.Record(rec.erratum)
		p.enqueue(rec.target)
	}
}
