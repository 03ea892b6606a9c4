// Package hindsight provides text-native backward propagation over LLM
// reasoning graphs for Go.
//
// hindsight implements a Variable-Frame-Correction architecture: module calls
// produce variables and suspend into frames, caller feedback composes into
// corrections, and a propagation driver walks the graph backward delivering
// merged feedback to each frame exactly once per pass.
//
// # Core Types
//
// The package is built around four core concepts:
//
//   - [Variable] - An identity-bearing value node in the reasoning graph
//   - [Frame] - A suspended module call awaiting a possible correction
//   - [Correction] - Composed feedback addressed to one or more variables
//   - [Graph] - The frame registry and backward-pass scheduler
//
// # Forward Phase
//
// Modules compute an output, then suspend via [Graph.Suspend] (fresh output)
// or [Graph.Bind] (caller-created output):
//
//	out := graph.Suspend("describe", "description", text, backward, pose, subject)
//
// # Backward Phase
//
// Callers compose feedback with [Critique] or [NewCorrection], then run a
// pass:
//
//	result, err := graph.Propagate(ctx, hindsight.Critique(out, "the subject has wings"))
//
// Each resumed frame receives a [Revision]: it may Mutate leaf inputs it can
// fix itself, or Record errata toward inputs produced by upstream frames.
//
// # Reasoning Modules
//
// hindsight ships LLM-backed modules in the suspend/resume shape:
//
//   - [Infer] - Free-form text derivation with feedback apportionment
//   - [Extract] - Schema-directed extraction into typed results
//   - [Reviser] - Rewrites text variables against their pending errata
//   - [RecentMemory] - Sliding window of recent exchanges (forward-only)
//   - [ArchiveMemory] - Long-term semantic recall over an index
//   - [Persona] - Stable voice and perspective applied to derivations
//
// # Pipeline Helpers
//
// hindsight wraps pipz connectors for Variable processing:
//
//   - [Sequence] - Sequential execution
//   - [Fallback] - Try alternatives on failure
//   - [Retry] - Retry on failure
//   - [Backoff] - Retry with exponential backoff
//   - [Timeout] - Enforce time limits
//   - [Handle] - Observe failures without altering them
//
// # Provider & Embedder
//
// LLM and embedding access uses a resolution hierarchy:
//
//  1. Explicit parameter (.WithProvider(p))
//  2. Context value (hindsight.WithProvider(ctx, p))
//  3. Global default (hindsight.SetProvider(p))
//
// Use [SetProvider] and [SetEmbedder] to configure global defaults:
//
//	hindsight.SetProvider(myProvider)
//	hindsight.SetEmbedder(hindsight.NewOpenAIEmbedder(apiKey))
//
// [Dispatcher] implements Provider over a pool of rate-limited backends and
// can stand anywhere a single provider is expected.
//
// # Persistence
//
// The [GraphStore] implementation uses soy for PostgreSQL persistence, with
// pgvector for archive search:
//
//	store, err := hindsight.NewGraphStore(db)
//
// Modules persist through the [Module] contract: Serialize declares their
// configuration fields, [Reconstruct] rebuilds a behaviorally interchangeable
// instance from them.
//
// # Observability
//
// hindsight emits capitan signals throughout execution. See signals.go for
// the complete list of events including FrameCreated, FrameResumed,
// FrameRevised, PassStarted, and PassCompleted.
package hindsight
