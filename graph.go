package hindsight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
)

// Graph is the registry and backward-pass scheduler for a reasoning graph.
// Module calls suspend into frames through Suspend or Bind; caller feedback
// flows back through Propagate.
//
// Forward calls on independent inputs may run concurrently: each produces a
// fresh variable and frame. Backward passes are serialized: Propagate holds
// the graph's pass guard for the whole pass, so a second pass over shared
// nodes blocks until the first completes.
type Graph struct {
	mu     sync.Mutex
	frames map[string]*Frame
	merge  MergePolicy

	passMu  sync.Mutex
	passSeq atomic.Uint64
}

// NewGraph creates an empty reasoning graph with the default merge policy
// (arrival-order concatenation).
func NewGraph() *Graph {
	return &Graph{
		frames: make(map[string]*Frame),
		merge:  defaultMerge,
	}
}

// SetMergePolicy installs the policy used to collapse a variable's errata
// before delivery to its producing frame. Payload-merge semantics are
// deliberately pluggable; the engine only fixes ordering.
func (g *Graph) SetMergePolicy(p MergePolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p == nil {
		p = defaultMerge
	}
	g.merge = p
}

// Suspend records the suspension point of a module call: it creates the
// output variable for the computed value, wires a frame holding the inputs
// and the backward phase, and returns the output. The module's forward phase
// ends here; the frame awaits a possible correction.
//
// A nil backward marks the frame forward-only: its inputs are fixed at
// creation and the frame is never resumed.
func (g *Graph) Suspend(module, name string, value any, backward BackwardFunc, inputs ...*Variable) *Variable {
	ins := make([]*Variable, len(inputs))
	copy(ins, inputs)

	f := newFrame(module, backward, ins)
	out := newDerived(name, value, f)
	f.output = out

	g.mu.Lock()
	g.frames[f.id] = f
	g.mu.Unlock()

	capitan.Emit(context.Background(), FrameCreated,
		FieldFrameID.Field(f.id),
		FieldModule.Field(module),
		FieldVariableID.Field(out.id),
		FieldVariableName.Field(name),
		FieldInputCount.Field(len(ins)),
	)
	return out
}

// Bind attaches an existing caller-created variable as the output of a new
// frame. Unlike Suspend, which always yields a fresh node, Bind can close a
// cycle if the bound output already sits in the ancestry of an input, so it
// runs the defensive acyclicity check and fails with a CycleError instead of
// corrupting the graph.
//
// The variable must not already have a producer; a variable's producing-frame
// reference is immutable once set.
func (g *Graph) Bind(module string, output *Variable, backward BackwardFunc, inputs ...*Variable) (*Frame, error) {
	if output.producer != nil {
		return nil, &CycleError{Module: module, VariableID: output.id, reason: "variable already has a producer"}
	}

	ancestry := make(map[*Variable]bool)
	for _, in := range inputs {
		if reaches(in, output, ancestry) {
			return nil, &CycleError{Module: module, VariableID: output.id, reason: "output is an ancestor of its own inputs"}
		}
	}

	ins := make([]*Variable, len(inputs))
	copy(ins, inputs)

	f := newFrame(module, backward, ins)
	f.output = output
	output.producer = f

	g.mu.Lock()
	g.frames[f.id] = f
	g.mu.Unlock()

	capitan.Emit(context.Background(), FrameCreated,
		FieldFrameID.Field(f.id),
		FieldModule.Field(module),
		FieldVariableID.Field(output.id),
		FieldVariableName.Field(output.name),
		FieldInputCount.Field(len(ins)),
	)
	return f, nil
}

// reaches reports whether target appears in v's ancestry (v included),
// walking producer edges.
func reaches(v, target *Variable, visited map[*Variable]bool) bool {
	if v == target {
		return true
	}
	if visited[v] {
		return false
	}
	visited[v] = true
	if v.producer == nil {
		return false
	}
	for _, in := range v.producer.inputs {
		if reaches(in, target, visited) {
			return true
		}
	}
	return false
}

// Frames returns the registered frames in no particular order.
func (g *Graph) Frames() []*Frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Frame, 0, len(g.frames))
	for _, f := range g.frames {
		out = append(out, f)
	}
	return out
}

// PassResult is the composite outcome of one propagation pass. A backward
// failure in one branch does not abort siblings; every failed frame is listed
// here instead.
type PassResult struct {
	Pass     uint64
	Resumed  int
	Mutated  int
	Failures []*BackwardError
	Canceled bool
}

// Failed reports whether any frame's backward phase failed during the pass.
func (r *PassResult) Failed() bool {
	return len(r.Failures) > 0
}

// Per-pass node states.
type nodeState int

const (
	nodeUntouched nodeState = iota
	nodeQueued
	nodeDelivered
	nodeResumed
	nodeDone
)

// pass carries the bookkeeping for one propagation pass.
type pass struct {
	seq     uint64
	merge   MergePolicy
	state   map[*Variable]nodeState
	wave    []*Variable
	mutated int
}

// enqueue admits a variable to the pass. Variables already done keep their
// newly recorded errata pending for a future pass instead of being resumed
// twice.
func (p *pass) enqueue(v *Variable) {
	switch p.state[v] {
	case nodeUntouched:
		p.state[v] = nodeQueued
		p.wave = append(p.wave, v)
	case nodeQueued, nodeDelivered, nodeResumed:
		// Already scheduled this pass; pending errata flush with its dequeue.
	case nodeDone:
		// Too late for this pass; errata stay pending.
	}
}

// Propagate runs one backward pass for a composed correction.
//
// The pass seeds every corrected variable, then walks the affected subgraph
// in reverse topological order: each variable's pending errata are merged and
// delivered to its producing frame exactly once, leaves are sinks (mutated by
// their consumers, never resumed), and frames whose backward phases fail are
// recorded in the result while disjoint branches continue.
//
// Cancellation via ctx stops the walk between frames: completed revisions
// keep their mutations, unvisited variables keep their pending errata for a
// future pass.
func (g *Graph) Propagate(ctx context.Context, c *Correction) (*PassResult, error) {
	if c == nil || c.Len() == 0 {
		return &PassResult{}, nil
	}

	g.passMu.Lock()
	defer g.passMu.Unlock()

	seq := g.passSeq.Add(1)
	start := time.Now()

	g.mu.Lock()
	merge := g.merge
	g.mu.Unlock()

	p := &pass{
		seq:   seq,
		merge: merge,
		state: make(map[*Variable]nodeState),
	}

	capitan.Emit(ctx, PassStarted,
		FieldPass.Field(int(seq)),
		FieldTargetCount.Field(c.Len()),
	)

	// Seed: record the caller's errata and queue the targets.
	for _, target := range c.Targets() {
		errata, _ := c.ForVariable(target)
		for _, e := range errata {
			target.Record(e)
		}
		p.enqueue(target)
	}

	result := &PassResult{Pass: seq}

	// Waves: the seed wave first; later waves only appear if a backward phase
	// records errata outside the subgraph already walked.
	for len(p.wave) > 0 {
		wave := p.wave
		p.wave = nil

		for _, v := range topoOrder(wave, p.state) {
			if err := ctx.Err(); err != nil {
				result.Mutated = p.mutated
				result.Canceled = true
				capitan.Error(ctx, PassCompleted,
					FieldPass.Field(int(seq)),
					FieldResumedCount.Field(result.Resumed),
					FieldFailureCount.Field(len(result.Failures)),
					FieldDuration.Field(time.Since(start)),
					FieldError.Field(err),
				)
				return result, err
			}
			g.visit(ctx, p, v, result)
		}
	}

	result.Mutated = p.mutated

	capitan.Emit(ctx, PassCompleted,
		FieldPass.Field(int(seq)),
		FieldResumedCount.Field(result.Resumed),
		FieldFailureCount.Field(len(result.Failures)),
		FieldDuration.Field(time.Since(start)),
	)
	return result, nil
}

// visit delivers one variable's merged errata to its producing frame.
func (g *Graph) visit(ctx context.Context, p *pass, v *Variable, result *PassResult) {
	if p.state[v] == nodeDone {
		return
	}

	f := v.producer
	if f == nil {
		// Leaf: sink of propagation. Its consumers mutate it; anything left
		// pending waits for a consumer in a future pass.
		p.state[v] = nodeDone
		return
	}

	switch f.State() {
	case FrameForwardOnly, FrameExhausted:
		p.state[v] = nodeDone
		return
	}

	errata := v.takePending()
	if len(errata) == 0 {
		p.state[v] = nodeDone
		return
	}
	p.state[v] = nodeDelivered

	merged := p.merge(errata)
	p.state[v] = nodeResumed

	err := f.resume(ctx, p, merged)
	switch {
	case err == nil:
		result.Resumed++
	case errors.Is(err, ErrExhausted):
		// Frame exhausted between the state check and resumption; no-op.
	default:
		var berr *BackwardError
		if errors.As(err, &berr) {
			result.Failures = append(result.Failures, berr)
		} else {
			result.Failures = append(result.Failures, &BackwardError{Module: f.module, FrameID: f.id, Err: err})
		}
	}
	p.state[v] = nodeDone
}

// topoOrder returns the variables reachable from the roots through producer
// edges, in reverse topological order (consumers before the inputs they
// depend on). Variables already done are skipped. Depth is bounded by the
// longest dependency chain; the producing-frame relation is acyclic by
// construction.
func topoOrder(roots []*Variable, state map[*Variable]nodeState) []*Variable {
	var order []*Variable
	visited := make(map[*Variable]bool)

	var walk func(v *Variable)
	walk = func(v *Variable) {
		if visited[v] || state[v] == nodeDone {
			return
		}
		visited[v] = true
		if v.producer != nil {
			for _, in := range v.producer.inputs {
				walk(in)
			}
		}
		order = append(order, v)
	}
	for _, root := range roots {
		walk(root)
	}

	// Post-order puts inputs first; reverse so consumers resume before the
	// variables they may record corrections onto.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
