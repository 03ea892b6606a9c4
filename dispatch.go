package hindsight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/zyn"
)

// Backend wraps a provider with per-backend rate limits and a circuit
// breaker for use inside a Dispatcher.
type Backend struct {
	provider Provider
	gate     callGate
	chain    pipz.Chainable[*dispatchExchange]
}

// dispatchExchange carries one provider call through the backend's pipeline.
type dispatchExchange struct {
	messages    []zyn.Message
	temperature float32
	response    *zyn.ProviderResponse
}

// BackendOption configures a Backend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	callsPerMinute   int
	tokensPerMinute  int
	breakerThreshold int
	breakerReset     time.Duration
}

// WithCallLimit caps how many calls per minute the backend accepts.
func WithCallLimit(perMinute int) BackendOption {
	return func(c *backendConfig) {
		c.callsPerMinute = perMinute
	}
}

// WithTokenLimit caps how many tokens per minute the backend spends. Token
// usage is booked as an estimate before the call and settled from the
// provider's reported usage after.
func WithTokenLimit(perMinute int) BackendOption {
	return func(c *backendConfig) {
		c.tokensPerMinute = perMinute
	}
}

// WithBreaker opens the backend's circuit after threshold consecutive
// failures, rejecting calls until the reset timeout elapses.
func WithBreaker(threshold int, reset time.Duration) BackendOption {
	return func(c *backendConfig) {
		c.breakerThreshold = threshold
		c.breakerReset = reset
	}
}

// NewBackend wraps a provider for dispatch. With no options the backend is
// unlimited; its circuit breaker defaults to 5 failures with a 30s reset.
func NewBackend(p Provider, opts ...BackendOption) *Backend {
	cfg := backendConfig{
		breakerThreshold: 5,
		breakerReset:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Backend{provider: p}
	if cfg.callsPerMinute > 0 {
		b.gate.calls = newCallLimiter(cfg.callsPerMinute)
	}
	if cfg.tokensPerMinute > 0 {
		b.gate.tokens = newTokenWindow(cfg.tokensPerMinute, time.Minute)
	}

	call := pipz.Apply(pipz.NewIdentity(p.Name(), ""), func(ctx context.Context, ex *dispatchExchange) (*dispatchExchange, error) {
		resp, err := p.Call(ctx, ex.messages, ex.temperature)
		if err != nil {
			return ex, err
		}
		ex.response = resp
		return ex, nil
	})
	b.chain = pipz.NewCircuitBreaker(pipz.NewIdentity(p.Name()+"-breaker", ""), call, cfg.breakerThreshold, cfg.breakerReset)
	return b
}

// Name returns the wrapped provider's name.
func (b *Backend) Name() string {
	return b.provider.Name()
}

// Dispatcher fans LLM calls out across a pool of rate-limited backends. It
// implements Provider, so it can stand anywhere a single provider is
// expected, including as the global default.
//
// Each call goes to the backend that can start soonest under its limits.
// Failed calls retry with exponential backoff, preferring a different
// backend when one is available.
type Dispatcher struct {
	name     string
	backends []*Backend

	retries   int
	baseDelay time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetries sets how many attempts the dispatcher makes per call.
func WithRetries(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.retries = n
	}
}

// WithBaseDelay seeds the exponential backoff between failed attempts.
func WithBaseDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.baseDelay = delay
	}
}

// NewDispatcher creates a dispatcher over one or more backends.
func NewDispatcher(name string, backends []*Backend, opts ...DispatcherOption) (*Dispatcher, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("dispatcher %q: no backends", name)
	}
	d := &Dispatcher{
		name:      name,
		backends:  backends,
		retries:   DefaultDispatchRetries,
		baseDelay: DefaultDispatchBaseDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name identifies the dispatcher as a provider.
func (d *Dispatcher) Name() string {
	return d.name
}

// Call routes the request to the backend that can start soonest, retrying
// across backends with exponential backoff on failure.
func (d *Dispatcher) Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error) {
	estimate := estimateTokens(messages)

	var lastErr error
	var lastBackend *Backend

	for attempt := 1; attempt <= d.retries; attempt++ {
		b := d.pick(estimate, lastBackend)

		resp, err := d.callBackend(ctx, b, messages, temperature, estimate, attempt)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		lastBackend = b

		if attempt < d.retries {
			delay := d.baseDelay << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("dispatcher %q: all %d attempts failed: %w", d.name, d.retries, lastErr)
}

// pick selects the backend with the earliest ready time, breaking ties away
// from the backend that just failed.
func (d *Dispatcher) pick(estimate int, avoid *Backend) *Backend {
	now := time.Now()
	best := d.backends[0]
	bestAt := best.gate.readyAt(now, estimate)

	for _, b := range d.backends[1:] {
		at := b.gate.readyAt(now, estimate)
		if at.Before(bestAt) || (at.Equal(bestAt) && best == avoid && b != avoid) {
			best, bestAt = b, at
		}
	}
	if best == avoid && len(d.backends) > 1 {
		for _, b := range d.backends {
			if b != avoid {
				return b
			}
		}
	}
	return best
}

func (d *Dispatcher) callBackend(ctx context.Context, b *Backend, messages []zyn.Message, temperature float32, estimate, attempt int) (*zyn.ProviderResponse, error) {
	settle, err := b.gate.admit(ctx, estimate)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ex, err := b.chain.Process(ctx, &dispatchExchange{messages: messages, temperature: temperature})
	if err != nil {
		if settle != nil {
			settle(0)
		}
		var pe *pipz.Error[*dispatchExchange]
		if errors.As(err, &pe) {
			err = pe.Err
		}
		capitan.Error(ctx, DispatchFailed,
			FieldProvider.Field(b.Name()),
			FieldAttempt.Field(attempt),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return nil, err
	}

	tokens := estimate
	if ex.response != nil && ex.response.Usage.Total > 0 {
		tokens = ex.response.Usage.Total
	}
	if settle != nil {
		settle(tokens)
	}

	capitan.Emit(ctx, DispatchCalled,
		FieldProvider.Field(b.Name()),
		FieldAttempt.Field(attempt),
		FieldTokens.Field(tokens),
		FieldDuration.Field(time.Since(start)),
	)
	return ex.response, nil
}

// estimateTokens approximates the prompt's token count from its byte length.
// Four bytes per token is the usual rough cut for English text.
func estimateTokens(messages []zyn.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	est := total / 4
	if est < 1 {
		est = 1
	}
	return est
}

var _ Provider = (*Dispatcher)(nil)
