package hindsight

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned when a frame that already completed its one
// backward revision (or was released) is resumed again.
var ErrExhausted = errors.New("frame exhausted: no further resumption permitted")

// ForwardError reports a failure during a module's forward phase. No output
// variable is created and the graph is left untouched; the caller sees the
// failure directly.
type ForwardError struct {
	Module string
	Err    error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: forward phase failed: %v", e.Module, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// BackwardError reports a failure during a frame's backward phase. The
// frame's buffered revision is discarded and the frame ends exhausted without
// effect; sibling frames in the same pass still complete. Backward errors
// surface in the pass's aggregate PassResult rather than aborting it.
type BackwardError struct {
	Module  string
	FrameID string
	Err     error
}

func (e *BackwardError) Error() string {
	return fmt.Sprintf("%s: backward phase failed (frame %s): %v", e.Module, e.FrameID, e.Err)
}

func (e *BackwardError) Unwrap() error {
	return e.Err
}

// ReconstructionError reports serialized fields missing or mismatched against
// a module kind's declared configuration. Fatal to that reconstruction call
// only.
type ReconstructionError struct {
	Kind  string
	Field string
	Err   error
}

func (e *ReconstructionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("cannot reconstruct %q: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("cannot reconstruct %q: %v", e.Kind, e.Err)
}

func (e *ReconstructionError) Unwrap() error {
	return e.Err
}

// CycleError reports a producing-frame relation that would close a cycle.
// The graph is required to be acyclic by construction; this is the defensive
// check for callers binding an existing variable as a frame output.
type CycleError struct {
	Module     string
	VariableID string
	reason     string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: cycle detected binding variable %s: %s", e.Module, e.VariableID, e.reason)
}
