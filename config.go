package hindsight

import (
	"time"

	"github.com/zoobzio/zyn"
)

// Default configuration for hindsight modules.
// These can be overridden per-module using builder methods.
var (
	// DefaultInferTemperature is used for forward derivations. Defaults to
	// creative for richer narrative output.
	DefaultInferTemperature = zyn.DefaultTemperatureCreative

	// DefaultReviseTemperature is used when rewriting a variable against its
	// errata. Defaults to deterministic so revisions stay minimal.
	DefaultReviseTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultExtractTemperature is used for schema-directed extraction.
	DefaultExtractTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultRecallLimit bounds how many archive entries a recall returns.
	DefaultRecallLimit = 5

	// DefaultWindowSize bounds how many exchanges RecentMemory retains.
	DefaultWindowSize = 10

	// DefaultDispatchRetries is how many backend attempts the dispatcher
	// makes before reporting failure.
	DefaultDispatchRetries = 3

	// DefaultDispatchBaseDelay seeds the dispatcher's exponential backoff
	// between failed attempts.
	DefaultDispatchBaseDelay = 500 * time.Millisecond
)
