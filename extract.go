package hindsight

import (
	"context"
	"fmt"

	"github.com/zoobzio/zyn"
)

// Extract pulls structured data of type T from input variables and suspends
// into a frame. Unlike [Infer], its backward phase never repairs inputs
// itself: every piece of output feedback is recorded toward the inputs, so
// upstream frames (or a caller-driven [Reviser.Resolve]) decide how the
// source material changes.
type Extract[T zyn.Validator] struct {
	name        string
	what        string
	kind        string
	temperature float32
	provider    Provider
	session     *zyn.Session
}

// NewExtract creates an extraction module. The what describes the structured
// data to pull, e.g. "the ruler named in the story".
func NewExtract[T zyn.Validator](name, what string) *Extract[T] {
	return &Extract[T]{
		name:        name,
		what:        what,
		kind:        "extract",
		temperature: DefaultExtractTemperature,
		session:     zyn.NewSession(),
	}
}

// WithTemperature sets the extraction temperature.
func (m *Extract[T]) WithTemperature(temp float32) *Extract[T] {
	m.temperature = temp
	return m
}

// WithProvider sets the provider for the LLM calls.
func (m *Extract[T]) WithProvider(p Provider) *Extract[T] {
	m.provider = p
	return m
}

// WithKind overrides the registry kind. Each instantiated T needs its own
// kind to be reconstructible; see [RegisterExtractKind].
func (m *Extract[T]) WithKind(kind string) *Extract[T] {
	m.kind = kind
	return m
}

// Pull runs the forward phase: it extracts a T from the rendered inputs and
// suspends into a frame on g. The returned variable's payload is the
// extracted T.
func (m *Extract[T]) Pull(ctx context.Context, g *Graph, name string, inputs ...*Variable) (*Variable, error) {
	provider, err := ResolveProvider(ctx, m.provider)
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: err}
	}

	extractSynapse, err := zyn.Extract[T](m.what, provider)
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: fmt.Errorf("failed to create extract synapse: %w", err)}
	}

	extracted, err := extractSynapse.FireWithInput(ctx, m.session, zyn.ExtractionInput{
		Text:        renderInputs(inputs),
		Temperature: m.temperature,
	})
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: fmt.Errorf("extract synapse execution failed: %w", err)}
	}

	return g.Suspend(m.name, name, extracted, m.backward, inputs...), nil
}

// Result reads the extracted T back out of a variable produced by Pull.
func (m *Extract[T]) Result(v *Variable) (T, bool) {
	t, ok := v.Value().(T)
	return t, ok
}

// backward defers every correction to the inputs the extraction read from.
// An extraction is only wrong because its source material is wrong, so the
// fix belongs upstream.
func (m *Extract[T]) backward(_ context.Context, rev *Revision) error {
	for _, in := range rev.Inputs() {
		for _, e := range rev.Errata() {
			rev.Record(in, e.Payload)
		}
	}
	return nil
}

// Kind implements Module.
func (m *Extract[T]) Kind() string {
	return m.kind
}

// Name implements Module.
func (m *Extract[T]) Name() string {
	return m.name
}

// Serialize implements Module.
func (m *Extract[T]) Serialize() map[string]any {
	return map[string]any{
		"name":        m.name,
		"what":        m.what,
		"temperature": float64(m.temperature),
	}
}

// RegisterExtractKind makes Extract[T] reconstructible under the given kind.
// Reconstruction cannot recover a type parameter from serialized fields, so
// each instantiated T registers explicitly:
//
//	hindsight.RegisterExtractKind[RulerInfo]("extract-ruler")
//	m := hindsight.NewExtract[RulerInfo]("ruler", "the ruler named in the story").WithKind("extract-ruler")
func RegisterExtractKind[T zyn.Validator](kind string) {
	RegisterKind(kind, func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		what, err := StringField(fields, "what")
		if err != nil {
			return nil, err
		}
		temp, err := FloatField(fields, "temperature")
		if err != nil {
			return nil, err
		}
		return NewExtract[T](name, what).WithKind(kind).WithTemperature(float32(temp)), nil
	})
}
