package hindsight

import "github.com/zoobzio/capitan"

// Signal definitions for reasoning-graph events.
// Signals follow the pattern: hindsight.<entity>.<event>.
var (
	// Frame lifecycle signals.
	FrameCreated = capitan.NewSignal(
		"hindsight.frame.created",
		"Module call suspended into a frame after producing output",
	)
	FrameResumed = capitan.NewSignal(
		"hindsight.frame.resumed",
		"Frame backward phase began with merged errata",
	)
	FrameRevised = capitan.NewSignal(
		"hindsight.frame.revised",
		"Frame backward phase committed its revision",
	)
	FrameFailed = capitan.NewSignal(
		"hindsight.frame.failed",
		"Frame backward phase failed; revision discarded",
	)

	// Variable signals.
	VariableMutated = capitan.NewSignal(
		"hindsight.variable.mutated",
		"Variable payload replaced in place during revision",
	)
	CorrectionRecorded = capitan.NewSignal(
		"hindsight.variable.corrected",
		"Erratum appended to a variable's pending set",
	)

	// Propagation pass signals.
	PassStarted = capitan.NewSignal(
		"hindsight.pass.started",
		"Backward pass seeded with a composed correction",
	)
	PassCompleted = capitan.NewSignal(
		"hindsight.pass.completed",
		"Backward pass drained its queue",
	)

	// Provider dispatch signals.
	DispatchCalled = capitan.NewSignal(
		"hindsight.dispatch.called",
		"Dispatcher routed an LLM call to a backend",
	)
	DispatchFailed = capitan.NewSignal(
		"hindsight.dispatch.failed",
		"Backend call failed; dispatcher will retry or give up",
	)

	// Memory signals.
	ArchiveIndexed = capitan.NewSignal(
		"hindsight.archive.indexed",
		"Text indexed into long-term memory",
	)
	ArchiveRecalled = capitan.NewSignal(
		"hindsight.archive.recalled",
		"Long-term memory queried for relevant entries",
	)

	// Persistence signals.
	ModuleSaved = capitan.NewSignal(
		"hindsight.module.saved",
		"Serialized module written to the graph store",
	)
	ModuleRestored = capitan.NewSignal(
		"hindsight.module.restored",
		"Module reconstructed from the graph store",
	)
)

// Field keys for hindsight event data.
var (
	// Graph metadata.
	FieldFrameID      = capitan.NewStringKey("frame_id")
	FieldModule       = capitan.NewStringKey("module")
	FieldVariableID   = capitan.NewStringKey("variable_id")
	FieldVariableName = capitan.NewStringKey("variable_name")
	FieldInputCount   = capitan.NewIntKey("input_count")

	// Pass metrics.
	FieldPass         = capitan.NewIntKey("pass")
	FieldTargetCount  = capitan.NewIntKey("target_count")
	FieldErrataCount  = capitan.NewIntKey("errata_count")
	FieldResumedCount = capitan.NewIntKey("resumed_count")
	FieldFailureCount = capitan.NewIntKey("failure_count")

	// Dispatch metadata.
	FieldProvider = capitan.NewStringKey("provider")
	FieldAttempt  = capitan.NewIntKey("attempt")
	FieldTokens   = capitan.NewIntKey("tokens")

	// Memory metadata.
	FieldMatchCount = capitan.NewIntKey("match_count")

	// Persistence metadata.
	FieldSession = capitan.NewStringKey("session")
	FieldKind    = capitan.NewStringKey("kind")

	// Timing.
	FieldDuration = capitan.NewDurationKey("duration")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
