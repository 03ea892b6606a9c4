package hindsight

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zoobzio/zyn"
)

// mockBackendProvider implements Provider with a controllable failure mode.
type mockBackendProvider struct {
	name      string
	callCount int
	failures  int
}

func (m *mockBackendProvider) Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error) {
	m.callCount++
	if m.callCount <= m.failures {
		return nil, fmt.Errorf("%s overloaded", m.name)
	}
	return &zyn.ProviderResponse{
		Content: "response from " + m.name,
		Usage: zyn.TokenUsage{
			Prompt:     10,
			Completion: 5,
			Total:      15,
		},
	}, nil
}

func (m *mockBackendProvider) Name() string {
	return m.name
}

func TestDispatcherRoutesCall(t *testing.T) {
	primary := &mockBackendProvider{name: "primary"}
	d, err := NewDispatcher("pool", []*Backend{NewBackend(primary)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := d.Call(context.Background(), []zyn.Message{{Role: "user", Content: "hello"}}, 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "response from primary" {
		t.Errorf("unexpected response: %q", resp.Content)
	}
	if primary.callCount != 1 {
		t.Errorf("expected 1 backend call, got %d", primary.callCount)
	}
}

func TestDispatcherFailsOver(t *testing.T) {
	flaky := &mockBackendProvider{name: "flaky", failures: 10}
	steady := &mockBackendProvider{name: "steady"}

	d, err := NewDispatcher("pool",
		[]*Backend{NewBackend(flaky), NewBackend(steady)},
		WithRetries(2),
		WithBaseDelay(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := d.Call(context.Background(), []zyn.Message{{Role: "user", Content: "hello"}}, 0.2)
	if err != nil {
		t.Fatalf("expected failover to succeed: %v", err)
	}
	if resp.Content != "response from steady" {
		t.Errorf("expected the steady backend to answer, got %q", resp.Content)
	}
	if flaky.callCount != 1 {
		t.Errorf("expected 1 failed attempt on flaky, got %d", flaky.callCount)
	}
}

func TestDispatcherAllAttemptsFail(t *testing.T) {
	broken := &mockBackendProvider{name: "broken", failures: 10}

	d, err := NewDispatcher("pool",
		[]*Backend{NewBackend(broken)},
		WithRetries(2),
		WithBaseDelay(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = d.Call(context.Background(), []zyn.Message{{Role: "user", Content: "hello"}}, 0.2)
	if err == nil {
		t.Fatal("expected error when every attempt fails")
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("error should summarize the attempts: %v", err)
	}
	if broken.callCount != 2 {
		t.Errorf("expected 2 attempts, got %d", broken.callCount)
	}
}

func TestDispatcherNoBackends(t *testing.T) {
	if _, err := NewDispatcher("pool", nil); err == nil {
		t.Fatal("expected error for empty backend pool")
	}
}

func TestDispatcherIsAProvider(t *testing.T) {
	primary := &mockBackendProvider{name: "primary"}
	d, err := NewDispatcher("pool", []*Backend{NewBackend(primary)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A dispatcher stands wherever a provider is expected.
	SetProvider(d)
	defer SetProvider(nil)

	p, err := ResolveProvider(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "pool" {
		t.Errorf("expected dispatcher as resolved provider, got %q", p.Name())
	}
}

func TestEstimateTokens(t *testing.T) {
	messages := []zyn.Message{
		{Role: "user", Content: strings.Repeat("a", 80)},
		{Role: "assistant", Content: strings.Repeat("b", 40)},
	}
	if got := estimateTokens(messages); got != 30 {
		t.Errorf("expected 30 tokens for 120 bytes, got %d", got)
	}
	if got := estimateTokens(nil); got != 1 {
		t.Errorf("empty prompts estimate at least 1 token, got %d", got)
	}
}
