package hindsight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// FrameState tracks a frame's position in its lifecycle.
type FrameState int32

const (
	// FrameSuspended means the frame produced its output and is awaiting a
	// possible correction.
	FrameSuspended FrameState = iota

	// FrameForwardOnly marks single-shot frames with no backward phase.
	// Their input set is fixed at creation and never revised.
	FrameForwardOnly

	// FrameExhausted means the frame completed one backward revision (or was
	// released without one) and cannot be resumed again.
	FrameExhausted
)

func (s FrameState) String() string {
	switch s {
	case FrameSuspended:
		return "suspended"
	case FrameForwardOnly:
		return "forward-only"
	case FrameExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// BackwardFunc is a frame's backward phase. It receives the merged errata for
// the frame's output through the Revision handle and revises the frame's
// inputs by calling Revision.Mutate or Revision.Record. Returning an error
// discards the revision and surfaces a BackwardError in the pass result.
type BackwardFunc func(ctx context.Context, rev *Revision) error

// Frame is the suspended execution state of one module call: the inputs it
// consumed, the output it produced, and the backward phase that revises the
// inputs if a correction reaches the output. Frames are the unit the
// propagation driver resumes.
//
// A frame resumes at most once. Corrections reaching its output variable are
// merged before delivery, and after the backward phase runs (or the frame is
// released) the frame is exhausted for good.
type Frame struct {
	id       string
	module   string
	inputs   []*Variable
	output   *Variable
	backward BackwardFunc

	// mu is the revision guard: held for the duration of the backward phase
	// so that a frame is mid-resumption under at most one pass at a time.
	// A second pass touching the same frame blocks here rather than skipping.
	mu       sync.Mutex
	state    FrameState
	lastPass uint64
}

// ID returns the frame's unique identity.
func (f *Frame) ID() string {
	return f.id
}

// Module returns the name of the module that created the frame.
func (f *Frame) Module() string {
	return f.module
}

// Inputs returns the ordered input variables the frame consumed.
func (f *Frame) Inputs() []*Variable {
	out := make([]*Variable, len(f.inputs))
	copy(out, f.inputs)
	return out
}

// Output returns the variable the frame produced.
func (f *Frame) Output() *Variable {
	return f.output
}

// State returns the frame's current lifecycle state.
func (f *Frame) State() FrameState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Exhausted reports whether the frame can no longer be resumed.
func (f *Frame) Exhausted() bool {
	return f.State() == FrameExhausted
}

// Release exhausts a suspended frame without running its backward phase.
// Callers that accept a frame's output as-is can release it to declare no
// correction will follow. Releasing a forward-only or already-exhausted
// frame is a no-op.
func (f *Frame) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FrameSuspended {
		f.state = FrameExhausted
	}
}

// resume runs the frame's backward phase with the merged errata for its
// output. Exactly-once semantics: the first resumption exhausts the frame,
// regardless of outcome. A failed backward phase discards its buffered
// revision, restores any claimed errata, and reports a BackwardError; the
// frame still ends exhausted so sibling branches of the pass proceed
// unaffected.
func (f *Frame) resume(ctx context.Context, pass *pass, errata []Erratum) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FrameSuspended {
		return ErrExhausted
	}
	if f.lastPass == pass.seq {
		return ErrExhausted
	}
	f.lastPass = pass.seq

	// Resumption with no errata exhausts the frame without a revision.
	if len(errata) == 0 {
		f.state = FrameExhausted
		return nil
	}

	start := time.Now()
	capitan.Emit(ctx, FrameResumed,
		FieldFrameID.Field(f.id),
		FieldModule.Field(f.module),
		FieldPass.Field(int(pass.seq)),
		FieldErrataCount.Field(len(errata)),
	)

	rev := &Revision{frame: f, errata: errata}
	if err := f.backward(ctx, rev); err != nil {
		rev.restore()
		f.state = FrameExhausted
		capitan.Error(ctx, FrameFailed,
			FieldFrameID.Field(f.id),
			FieldModule.Field(f.module),
			FieldPass.Field(int(pass.seq)),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return &BackwardError{Module: f.module, FrameID: f.id, Err: err}
	}

	rev.commit(pass)
	f.state = FrameExhausted

	capitan.Emit(ctx, FrameRevised,
		FieldFrameID.Field(f.id),
		FieldModule.Field(f.module),
		FieldPass.Field(int(pass.seq)),
		FieldDuration.Field(time.Since(start)),
	)
	return nil
}

// newFrame wires a frame without registering it; Graph.Suspend and Graph.Bind
// are the public entry points.
func newFrame(module string, backward BackwardFunc, inputs []*Variable) *Frame {
	f := &Frame{
		id:       uuid.New().String(),
		module:   module,
		inputs:   inputs,
		backward: backward,
	}
	if backward == nil {
		f.state = FrameForwardOnly
	}
	return f
}
