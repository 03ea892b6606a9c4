package hindsight

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSuspendCreatesFrame(t *testing.T) {
	g := NewGraph()
	in := NewVariable("pose", "rearing")

	out := g.Suspend("describe", "description", "a pony rearing", nil, in)

	if out.IsLeaf() {
		t.Error("suspended output must not be a leaf")
	}
	f := out.Producer()
	if f == nil {
		t.Fatal("output should reference its producing frame")
	}
	if f.Module() != "describe" {
		t.Errorf("expected module 'describe', got %q", f.Module())
	}
	if f.Output() != out {
		t.Error("frame output should be the suspended variable")
	}
	if len(f.Inputs()) != 1 || f.Inputs()[0] != in {
		t.Error("frame should hold its input variables")
	}
	if f.State() != FrameForwardOnly {
		t.Errorf("nil backward should mark the frame forward-only, got %v", f.State())
	}
	if len(g.Frames()) != 1 {
		t.Errorf("expected 1 registered frame, got %d", len(g.Frames()))
	}
}

func TestPropagateResumesFrameOnce(t *testing.T) {
	g := NewGraph()
	in := NewVariable("pose", "rearing")

	resumed := 0
	out := g.Suspend("describe", "description", "text", func(ctx context.Context, rev *Revision) error {
		resumed++
		if len(rev.Errata()) != 1 {
			t.Errorf("expected 1 erratum, got %d", len(rev.Errata()))
		}
		rev.Record(rev.Inputs()[0], "adjust the pose")
		return nil
	}, in)

	result, err := g.Propagate(context.Background(), Critique(out, "wrong pose"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 1 {
		t.Fatalf("expected 1 resumption, got %d", resumed)
	}
	if result.Resumed != 1 {
		t.Errorf("result should count 1 resumed frame, got %d", result.Resumed)
	}
	if !out.Producer().Exhausted() {
		t.Error("frame should be exhausted after its backward phase")
	}
	if len(in.Pending()) != 1 {
		t.Errorf("leaf should hold the recorded erratum, got %d", len(in.Pending()))
	}

	// A second pass cannot resume the exhausted frame; new errata stay pending.
	result, err = g.Propagate(context.Background(), Critique(out, "still wrong"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 1 {
		t.Errorf("exhausted frame must not resume again, got %d resumptions", resumed)
	}
	if result.Resumed != 0 {
		t.Errorf("expected 0 resumed, got %d", result.Resumed)
	}
	if len(out.Pending()) != 1 {
		t.Errorf("undeliverable errata should stay pending on the output, got %d", len(out.Pending()))
	}
}

func TestPropagateMergesBeforeDelivery(t *testing.T) {
	// Diamond: two consumers of one produced variable record errata toward
	// it in the same pass; its frame must see both in one resumption.
	g := NewGraph()
	leaf := NewVariable("source", "raw")

	var seen []Erratum
	mid := g.Suspend("mid", "mid-out", "m", func(ctx context.Context, rev *Revision) error {
		seen = rev.Errata()
		return nil
	}, leaf)

	forward := func(ctx context.Context, rev *Revision) error {
		for _, e := range rev.Errata() {
			rev.Record(rev.Inputs()[0], e.Payload)
		}
		return nil
	}
	left := g.Suspend("left", "left-out", "l", forward, mid)
	right := g.Suspend("right", "right-out", "r", forward, mid)

	join := g.Suspend("join", "join-out", "j", func(ctx context.Context, rev *Revision) error {
		rev.Record(rev.Inputs()[0], "via left")
		rev.Record(rev.Inputs()[1], "via right")
		return nil
	}, left, right)

	result, err := g.Propagate(context.Background(), Critique(join, "fix both"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resumed != 4 {
		t.Errorf("expected 4 resumed frames, got %d", result.Resumed)
	}
	if len(seen) != 2 {
		t.Fatalf("mid frame must receive both branches' errata merged, got %d", len(seen))
	}
	sources := map[string]bool{}
	for _, e := range seen {
		sources[e.Source] = true
	}
	if !sources["left"] || !sources["right"] {
		t.Errorf("errata should carry recording frames as sources: %v", seen)
	}
}

func TestPropagateLeafIsSink(t *testing.T) {
	g := NewGraph()
	leaf := NewVariable("pose", "rearing")

	out := g.Suspend("describe", "description", "text", func(ctx context.Context, rev *Revision) error {
		rev.Record(rev.Inputs()[0], "stand instead")
		return nil
	}, leaf)

	if _, err := g.Propagate(context.Background(), Critique(out, "wrong")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Propagation stops at the leaf; its errata wait for a consumer or a
	// caller-driven resolve.
	if got, _ := leaf.Text(); got != "rearing" {
		t.Errorf("leaf must not be mutated by the driver, got %q", got)
	}
	if len(leaf.Pending()) != 1 {
		t.Errorf("leaf should hold pending errata, got %d", len(leaf.Pending()))
	}
}

func TestPropagateMutationVisibleAfterOnePass(t *testing.T) {
	g := NewGraph()
	leaf := NewVariable("subject", "a unicorn")

	out := g.Suspend("describe", "description", "text", func(ctx context.Context, rev *Revision) error {
		in := rev.Inputs()[0]
		rev.Claim(in)
		rev.Mutate(in, "an alicorn")
		return nil
	}, leaf)

	result, err := g.Propagate(context.Background(), Critique(out, "the subject has wings"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mutated != 1 {
		t.Errorf("expected 1 mutation, got %d", result.Mutated)
	}
	if got, _ := leaf.Text(); got != "an alicorn" {
		t.Errorf("consumer mutation should be visible after one pass, got %q", got)
	}
	if len(leaf.Pending()) != 0 {
		t.Error("claimed errata must not remain pending")
	}
}

func TestPropagateFailureIsolation(t *testing.T) {
	g := NewGraph()
	a := NewVariable("a", "1")
	b := NewVariable("b", "2")

	goodResumed := false
	bad := g.Suspend("bad", "bad-out", "x", func(ctx context.Context, rev *Revision) error {
		rev.Record(rev.Inputs()[0], "discarded")
		return fmt.Errorf("model refused")
	}, a)
	good := g.Suspend("good", "good-out", "y", func(ctx context.Context, rev *Revision) error {
		goodResumed = true
		return nil
	}, b)

	c := Combine(Critique(bad, "fix"), Critique(good, "fix"))
	result, err := g.Propagate(context.Background(), c)
	if err != nil {
		t.Fatalf("backward failures must not abort the pass: %v", err)
	}

	if !goodResumed {
		t.Error("sibling frame should still resume after another branch fails")
	}
	if !result.Failed() || len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %v", result.Failures)
	}
	failure := result.Failures[0]
	if failure.Module != "bad" {
		t.Errorf("failure should name the failing module, got %q", failure.Module)
	}
	if failure.FrameID != bad.Producer().ID() {
		t.Error("failure should carry the frame ID")
	}

	// The failed frame's buffered revision is discarded.
	if len(a.Pending()) != 0 {
		t.Error("a failed backward phase must not apply its recorded errata")
	}
	if !bad.Producer().Exhausted() {
		t.Error("failed frame still ends exhausted")
	}
}

func TestPropagateFailureRestoresClaimedErrata(t *testing.T) {
	g := NewGraph()
	leaf := NewVariable("subject", "a unicorn")
	leaf.Record(Erratum{Payload: "the species is wrong", Source: "caller"})

	out := g.Suspend("describe", "description", "text", func(ctx context.Context, rev *Revision) error {
		if got := len(rev.Claim(rev.Inputs()[0])); got != 1 {
			t.Errorf("expected to claim 1 erratum, got %d", got)
		}
		return fmt.Errorf("model refused")
	}, leaf)

	result, err := g.Propagate(context.Background(), Critique(out, "fix"))
	if err != nil {
		t.Fatalf("backward failures must not abort the pass: %v", err)
	}
	if !result.Failed() {
		t.Fatal("expected the backward failure in the result")
	}

	// A failed phase leaves the graph untouched: the claimed erratum goes
	// back on the leaf for a future pass or a caller-driven resolve.
	pending := leaf.Pending()
	if len(pending) != 1 {
		t.Fatalf("claimed errata should be restored after failure, got %d", len(pending))
	}
	if pending[0].Source != "caller" {
		t.Errorf("restored erratum should keep its provenance, got %q", pending[0].Source)
	}
	if got, _ := leaf.Text(); got != "a unicorn" {
		t.Errorf("leaf must stay untouched after failure, got %q", got)
	}
}

func TestPropagateCancellation(t *testing.T) {
	g := NewGraph()
	ctx, cancel := context.WithCancel(context.Background())

	a := NewVariable("a", "1")
	b := NewVariable("b", "2")

	// The first frame resumed cancels the context; the other chain's
	// variable must keep its errata for a future pass.
	first := g.Suspend("first", "first-out", "x", func(ctx context.Context, rev *Revision) error {
		cancel()
		return nil
	}, a)
	secondResumed := false
	second := g.Suspend("second", "second-out", "y", func(ctx context.Context, rev *Revision) error {
		secondResumed = true
		return nil
	}, b)

	c := Combine(Critique(second, "fix"), Critique(first, "fix"))
	result, err := g.Propagate(ctx, c)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !result.Canceled {
		t.Error("result should report cancellation")
	}
	if secondResumed {
		t.Error("cancellation should stop the walk before the second frame")
	}
	if len(second.Pending()) != 1 {
		t.Errorf("unvisited variable should keep pending errata, got %d", len(second.Pending()))
	}
}

func TestPropagateSerializesPasses(t *testing.T) {
	g := NewGraph()

	entered := make(chan struct{})
	release := make(chan struct{})
	a := NewVariable("a", "1")
	slow := g.Suspend("slow", "slow-out", "x", func(ctx context.Context, rev *Revision) error {
		close(entered)
		<-release
		return nil
	}, a)

	b := NewVariable("b", "2")
	fast := g.Suspend("fast", "fast-out", "y", func(ctx context.Context, rev *Revision) error {
		return nil
	}, b)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if _, err := g.Propagate(context.Background(), Critique(slow, "fix")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		if _, err := g.Propagate(context.Background(), Critique(fast, "fix")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	// The second pass blocks on the pass guard; it does not skip.
	select {
	case <-secondDone:
		t.Fatal("second pass should block while the first is mid-walk")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-firstDone
	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second pass should complete once the first releases the guard")
	}
	if !fast.Producer().Exhausted() {
		t.Error("the blocked pass should still resume its frame")
	}
}

func TestPropagateEmptyCorrection(t *testing.T) {
	g := NewGraph()
	result, err := g.Propagate(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resumed != 0 || result.Failed() {
		t.Error("empty correction should be a no-op")
	}
}

func TestPropagateForwardOnlyStopsCorrections(t *testing.T) {
	g := NewGraph()
	leaf := NewVariable("history", "what happened")

	window := g.Suspend("recent-memory", "window", "snapshot", nil, leaf)
	out := g.Suspend("describe", "description", "text", func(ctx context.Context, rev *Revision) error {
		rev.Record(rev.Inputs()[0], "rewrite history")
		return nil
	}, window)

	result, err := g.Propagate(context.Background(), Critique(out, "wrong"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Resumed != 1 {
		t.Errorf("only the describing frame should resume, got %d", result.Resumed)
	}
	// The erratum lands on the forward-only output and stays there.
	if len(window.Pending()) != 1 {
		t.Errorf("forward-only outputs hold errata without resuming, got %d", len(window.Pending()))
	}
	if got, _ := leaf.Text(); got != "what happened" {
		t.Error("corrections must not cross a forward-only frame")
	}
}

func TestMergePolicyCollapsesErrata(t *testing.T) {
	g := NewGraph()
	g.SetMergePolicy(func(errata []Erratum) []Erratum {
		// Keep only the latest erratum per delivery.
		if len(errata) == 0 {
			return errata
		}
		return errata[len(errata)-1:]
	})

	in := NewVariable("in", "x")
	var seen int
	out := g.Suspend("m", "out", "y", func(ctx context.Context, rev *Revision) error {
		seen = len(rev.Errata())
		return nil
	}, in)

	if _, err := g.Propagate(context.Background(), NewCorrection(out, "first", "second", "third")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 1 {
		t.Errorf("merge policy should collapse errata before delivery, got %d", seen)
	}
}

func TestBindRejectsExistingProducer(t *testing.T) {
	g := NewGraph()
	in := NewVariable("in", "x")
	out := g.Suspend("m", "out", "y", nil, in)

	_, err := g.Bind("other", out, nil, in)
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestBindRejectsCycle(t *testing.T) {
	g := NewGraph()
	seed := NewVariable("seed", "x")
	derived := g.Suspend("m", "derived", "y", nil, seed)

	// Binding seed as the output of a frame consuming derived would close a
	// cycle: derived already descends from seed.
	fresh := NewVariable("fresh", "z")
	if _, err := g.Bind("loop", fresh, nil, derived); err != nil {
		t.Fatalf("acyclic bind should succeed: %v", err)
	}

	cyclic := NewVariable("cyclic", "w")
	cyclic2 := g.Suspend("m2", "d2", "v", nil, cyclic)
	_, err := g.Bind("loop", cyclic, nil, cyclic2)
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError for ancestry cycle, got %v", err)
	}
}

func TestFrameRelease(t *testing.T) {
	g := NewGraph()
	in := NewVariable("in", "x")

	resumed := false
	out := g.Suspend("m", "out", "y", func(ctx context.Context, rev *Revision) error {
		resumed = true
		return nil
	}, in)

	f := out.Producer()
	f.Release()
	if !f.Exhausted() {
		t.Error("released frame should be exhausted")
	}

	if _, err := g.Propagate(context.Background(), Critique(out, "fix")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed {
		t.Error("released frame must not resume")
	}
}

func TestFrameStateString(t *testing.T) {
	cases := map[FrameState]string{
		FrameSuspended:   "suspended",
		FrameForwardOnly: "forward-only",
		FrameExhausted:   "exhausted",
		FrameState(99):   "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("FrameState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
