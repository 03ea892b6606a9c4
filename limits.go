package hindsight

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tokenWindow enforces a token budget over a sliding interval. Unlike call
// rate limits, token consumption is only known after a response arrives, so
// the window books an estimate up front and settles to the actual usage on
// completion.
type tokenWindow struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration

	entries []tokenEntry
}

type tokenEntry struct {
	at time.Time
	n  int
}

func newTokenWindow(limit int, interval time.Duration) *tokenWindow {
	return &tokenWindow{limit: limit, interval: interval}
}

// expire drops entries that have aged out of the window. Callers hold mu.
func (w *tokenWindow) expire(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (w *tokenWindow) used() int {
	total := 0
	for _, e := range w.entries {
		total += e.n
	}
	return total
}

// readyAt returns the earliest instant at which n tokens fit in the window.
// Requests larger than the whole budget are admitted once the window is
// empty rather than blocked forever.
func (w *tokenWindow) readyAt(now time.Time, n int) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expire(now)

	if n > w.limit {
		n = w.limit
	}

	used := w.used()
	if used+n <= w.limit {
		return now
	}

	// Walk the oldest entries until enough budget frees up.
	need := used + n - w.limit
	for _, e := range w.entries {
		need -= e.n
		if need <= 0 {
			return e.at.Add(w.interval)
		}
	}
	return now.Add(w.interval)
}

// book records an estimated spend and returns a settle function that replaces
// the estimate with the actual token count once known.
func (w *tokenWindow) book(now time.Time, estimate int) func(actual int) {
	w.mu.Lock()
	w.entries = append(w.entries, tokenEntry{at: now, n: estimate})
	idx := len(w.entries) - 1
	booked := now
	w.mu.Unlock()

	return func(actual int) {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i := idx; i >= 0 && i < len(w.entries); i-- {
			if w.entries[i].at.Equal(booked) && w.entries[i].n == estimate {
				w.entries[i].n = actual
				return
			}
		}
		// Estimate already expired; account the actual spend fresh.
		w.entries = append(w.entries, tokenEntry{at: booked, n: actual})
	}
}

// newCallLimiter spreads a per-minute call budget evenly across the minute,
// with a burst of one minute's worth.
func newCallLimiter(perMinute int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// callGate combines a call-rate limiter with an optional token window,
// answering when a request of a given token estimate may proceed.
type callGate struct {
	calls  *rate.Limiter
	tokens *tokenWindow
}

// readyAt reports the earliest instant a call may start, without consuming
// any budget.
func (g *callGate) readyAt(now time.Time, tokenEstimate int) time.Time {
	ready := now
	if g.calls != nil {
		r := g.calls.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		r.CancelAt(now)
		if delay > 0 {
			ready = now.Add(delay)
		}
	}
	if g.tokens != nil {
		if at := g.tokens.readyAt(now, tokenEstimate); at.After(ready) {
			ready = at
		}
	}
	return ready
}

// admit consumes the call budget and books the token estimate, blocking until
// both limits allow the call or ctx is done. The returned settle function is
// nil when no token window is configured.
func (g *callGate) admit(ctx context.Context, tokenEstimate int) (func(actual int), error) {
	if g.calls != nil {
		if err := g.calls.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if g.tokens == nil {
		return nil, nil
	}
	for {
		now := time.Now()
		at := g.tokens.readyAt(now, tokenEstimate)
		if !at.After(now) {
			return g.tokens.book(now, tokenEstimate), nil
		}
		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
