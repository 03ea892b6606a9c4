package hindsight

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// -----------------------------------------------------------------------------
// Adapter Functions - wrap functions to create Variable processors
// -----------------------------------------------------------------------------

// Do creates a processor from a custom function that can fail.
// This is the easiest way to put custom logic into a derivation chain.
//
// Example:
//
//	derive := hindsight.Do("describe", func(ctx context.Context, v *hindsight.Variable) (*hindsight.Variable, error) {
//	    return describer.Derive(ctx, graph, "description", v)
//	})
func Do(name string, fn func(context.Context, *Variable) (*Variable, error)) pipz.Processor[*Variable] {
	return pipz.Apply(pipz.NewIdentity(name, ""), fn)
}

// Effect creates a processor that performs a side effect without replacing
// the variable. Use this for logging, metrics, or observation.
func Effect(name string, fn func(context.Context, *Variable) error) pipz.Processor[*Variable] {
	return pipz.Effect(pipz.NewIdentity(name, ""), fn)
}

// -----------------------------------------------------------------------------
// Sequential Connectors
// -----------------------------------------------------------------------------

// Sequence creates a sequential pipeline of variable processors.
// Each processor receives the output of the previous one, so a chain of
// derivations threads the graph forward step by step.
//
// Example:
//
//	chain := hindsight.Sequence("story-chain",
//	    hindsight.Do("recall", recallStep),
//	    hindsight.Do("describe", describeStep),
//	)
func Sequence(name string, processors ...pipz.Chainable[*Variable]) *pipz.Sequence[*Variable] {
	return pipz.NewSequence(pipz.NewIdentity(name, ""), processors...)
}

// -----------------------------------------------------------------------------
// Error Handling Connectors
// -----------------------------------------------------------------------------

// Fallback creates a processor that tries alternatives on failure.
// Each processor is tried in order until one succeeds.
func Fallback(name string, processors ...pipz.Chainable[*Variable]) *pipz.Fallback[*Variable] {
	return pipz.NewFallback(pipz.NewIdentity(name, ""), processors...)
}

// Retry creates a processor that retries on failure up to maxAttempts times.
// Immediate retry without delay; for backoff, use Backoff instead.
func Retry(name string, processor pipz.Chainable[*Variable], maxAttempts int) *pipz.Retry[*Variable] {
	return pipz.NewRetry(pipz.NewIdentity(name, ""), processor, maxAttempts)
}

// Backoff creates a processor that retries with exponential backoff.
// Useful for provider calls that need time to recover between attempts.
func Backoff(name string, processor pipz.Chainable[*Variable], maxAttempts int, baseDelay time.Duration) *pipz.Backoff[*Variable] {
	return pipz.NewBackoff(pipz.NewIdentity(name, ""), processor, maxAttempts, baseDelay)
}

// Timeout creates a processor that enforces a time limit on execution.
// If the timeout expires, the operation is canceled and an error is returned.
func Timeout(name string, processor pipz.Chainable[*Variable], duration time.Duration) *pipz.Timeout[*Variable] {
	return pipz.NewTimeout(pipz.NewIdentity(name, ""), processor, duration)
}

// Handle creates a processor that observes errors without stopping the chain.
// When the primary processor fails, the error handler is invoked with a
// pipz.Error[*Variable] carrying full context.
func Handle(name string, processor pipz.Chainable[*Variable], errorHandler pipz.Chainable[*pipz.Error[*Variable]]) *pipz.Handle[*Variable] {
	return pipz.NewHandle(pipz.NewIdentity(name, ""), processor, errorHandler)
}

// Variables carry graph identity, so the cloning connectors (Concurrent,
// Race) are deliberately not wrapped: a copied variable would detach from
// its producing frame.
