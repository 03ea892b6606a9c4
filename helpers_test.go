package hindsight

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestDoProcessor(t *testing.T) {
	step := Do("rename", func(ctx context.Context, v *Variable) (*Variable, error) {
		return NewVariable("renamed", v.Value()), nil
	})

	in := NewVariable("original", "payload")
	out, err := step.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name() != "renamed" {
		t.Errorf("expected renamed variable, got %q", out.Name())
	}
}

func TestSequenceThreadsVariables(t *testing.T) {
	g := NewGraph()

	first := Do("first", func(ctx context.Context, v *Variable) (*Variable, error) {
		text, _ := v.Text()
		return g.Suspend("first", "step-one", text+" one", nil, v), nil
	})
	second := Do("second", func(ctx context.Context, v *Variable) (*Variable, error) {
		text, _ := v.Text()
		return g.Suspend("second", "step-two", text+" two", nil, v), nil
	})

	chain := Sequence("chain", first, second)
	out, err := chain.Process(context.Background(), NewVariable("seed", "zero"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, _ := out.Text()
	if text != "zero one two" {
		t.Errorf("expected threaded result, got %q", text)
	}
	if len(g.Frames()) != 2 {
		t.Errorf("expected 2 frames, got %d", len(g.Frames()))
	}
}

func TestFallbackTriesAlternatives(t *testing.T) {
	failing := Do("failing", func(ctx context.Context, v *Variable) (*Variable, error) {
		return v, fmt.Errorf("primary down")
	})
	backup := Do("backup", func(ctx context.Context, v *Variable) (*Variable, error) {
		return NewVariable("backup-result", "ok"), nil
	})

	out, err := Fallback("resilient", failing, backup).Process(context.Background(), NewVariable("in", "x"))
	if err != nil {
		t.Fatalf("fallback should succeed via backup: %v", err)
	}
	if out.Name() != "backup-result" {
		t.Errorf("expected backup result, got %q", out.Name())
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	flaky := Do("flaky", func(ctx context.Context, v *Variable) (*Variable, error) {
		attempts++
		if attempts < 3 {
			return v, fmt.Errorf("transient")
		}
		return v, nil
	})

	if _, err := Retry("persistent", flaky, 3).Process(context.Background(), NewVariable("in", "x")); err != nil {
		t.Fatalf("retry should succeed on the third attempt: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestTimeoutCancelsSlowProcessor(t *testing.T) {
	slow := Do("slow", func(ctx context.Context, v *Variable) (*Variable, error) {
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(time.Second):
			return v, nil
		}
	})

	if _, err := Timeout("bounded", slow, 10*time.Millisecond).Process(context.Background(), NewVariable("in", "x")); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestEffectObservesWithoutReplacing(t *testing.T) {
	observed := ""
	logger := Effect("log", func(ctx context.Context, v *Variable) error {
		observed = v.Name()
		return nil
	})

	in := NewVariable("watched", "x")
	out, err := logger.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Error("effect should pass the variable through")
	}
	if observed != "watched" {
		t.Errorf("effect should observe the variable, got %q", observed)
	}
}
