package hindsight

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Erratum is one unit of correction feedback directed at a Variable.
// Payload is opaque to the engine; reasoning modules interpret it.
// Source names the frame that produced the erratum, or is empty for
// caller-supplied feedback.
type Erratum struct {
	Payload any
	Source  string
}

// Variable is an identity-bearing container for a piece of data flowing
// through the reasoning graph. A Variable is either a leaf (created by the
// caller) or derived (created when a module suspends after producing output).
//
// # Ownership
//
// Variables have shared ownership: the caller and every downstream frame that
// consumed one as input hold the same instance. Mutation via SetValue is
// globally visible to all holders, which is why backward passes over a graph
// are serialized (see Graph.Propagate).
//
// The producer reference is fixed at creation and never changes. Only the
// value and the pending errata set mutate.
type Variable struct {
	id       string
	name     string
	producer *Frame

	mu      sync.Mutex
	value   any
	pending []Erratum
}

// NewVariable creates a leaf Variable holding the given value.
// The name labels the variable's role when modules render it into prompts
// (e.g. "character info", "scene context").
func NewVariable(name string, value any) *Variable {
	return &Variable{
		id:    uuid.New().String(),
		name:  name,
		value: value,
	}
}

// newDerived creates a Variable produced by a frame. Internal: callers get
// derived variables from Graph.Suspend.
func newDerived(name string, value any, producer *Frame) *Variable {
	return &Variable{
		id:       uuid.New().String(),
		name:     name,
		producer: producer,
		value:    value,
	}
}

// ID returns the variable's unique identity.
func (v *Variable) ID() string {
	return v.id
}

// Name returns the variable's role label.
func (v *Variable) Name() string {
	return v.name
}

// Producer returns the frame that produced this variable, or nil for leaves.
func (v *Variable) Producer() *Frame {
	return v.producer
}

// IsLeaf reports whether the variable was supplied by a caller rather than
// produced by a frame. Leaves are the sinks of backward propagation: they are
// never resumed, only mutated by a consumer's backward phase.
func (v *Variable) IsLeaf() bool {
	return v.producer == nil
}

// Value returns the current payload.
func (v *Variable) Value() any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Text returns the payload as a string. Returns false if the payload is not
// string-typed.
func (v *Variable) Text() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.value.(string)
	return s, ok
}

// JSON returns the payload marshaled as JSON. Used when rendering structured
// payloads into prompts and when persisting leaf state.
func (v *Variable) JSON() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return json.Marshal(v.value)
}

// SetValue replaces the payload in place. The mutation is visible to every
// holder of the variable.
//
// SetValue belongs to backward revision: forward code must not call it after
// the variable has been returned to a caller, so that downstream consumers'
// view of "what they saw during forward" stays coherent until a pass revises
// it deliberately.
func (v *Variable) SetValue(value any) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()

	capitan.Emit(context.Background(), VariableMutated,
		FieldVariableID.Field(v.id),
		FieldVariableName.Field(v.name),
	)
}

// Record appends an erratum to the variable's pending set. Pending errata
// accumulate from arbitrarily many downstream consumers until a propagation
// pass drains them; there is no fan-in bound.
func (v *Variable) Record(e Erratum) {
	v.mu.Lock()
	v.pending = append(v.pending, e)
	count := len(v.pending)
	v.mu.Unlock()

	capitan.Emit(context.Background(), CorrectionRecorded,
		FieldVariableID.Field(v.id),
		FieldVariableName.Field(v.name),
		FieldErrataCount.Field(count),
		FieldModule.Field(e.Source),
	)
}

// Pending returns a copy of the errata recorded on the variable that no pass
// has drained yet.
func (v *Variable) Pending() []Erratum {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Erratum, len(v.pending))
	copy(out, v.pending)
	return out
}

// takePending drains and returns the pending errata in arrival order.
// Called by the propagation driver when the variable is delivered, and by
// consumers claiming a leaf input's feedback.
func (v *Variable) takePending() []Erratum {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.pending
	v.pending = nil
	return out
}

// String renders the variable for diagnostics.
func (v *Variable) String() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fmt.Sprintf("%s(%v)", v.name, v.value)
}
