package hindsight

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/zyn"
)

// Infer derives free-form text from input variables and suspends into a
// frame. Its backward phase apportions output feedback among the inputs:
// text leaves it can repair are rewritten in place, produced inputs receive
// errata deferring the fix to their own frames.
type Infer struct {
	name        string
	task        string
	temperature float32
	provider    Provider
	session     *zyn.Session
	reviser     *Reviser
}

// feedbackAssignment routes one piece of output feedback to one input.
type feedbackAssignment struct {
	Input    string `json:"input"`
	Feedback string `json:"feedback"`
}

// feedbackAssignments is the apportionment the backward phase extracts.
type feedbackAssignments struct {
	Assignments []feedbackAssignment `json:"assignments"`
}

// Validate implements zyn.Validator.
func (f feedbackAssignments) Validate() error {
	for i, a := range f.Assignments {
		if a.Input == "" {
			return fmt.Errorf("assignment %d: empty input name", i)
		}
		if a.Feedback == "" {
			return fmt.Errorf("assignment %d: empty feedback", i)
		}
	}
	return nil
}

// NewInfer creates an inference module. The task describes what to derive
// from the inputs, e.g. "describe what the subject looks like while doing
// the action".
func NewInfer(name, task string) *Infer {
	return &Infer{
		name:        name,
		task:        task,
		temperature: DefaultInferTemperature,
		session:     zyn.NewSession(),
		reviser:     NewReviser(name + "-reviser"),
	}
}

// WithTemperature sets the derivation temperature.
func (m *Infer) WithTemperature(temp float32) *Infer {
	m.temperature = temp
	return m
}

// WithProvider sets the provider for forward and backward LLM calls.
func (m *Infer) WithProvider(p Provider) *Infer {
	m.provider = p
	m.reviser.WithProvider(p)
	return m
}

// Derive runs the forward phase: it renders the inputs, derives text via the
// task prompt, and suspends into a frame on g. The returned variable carries
// the derived text; feedback recorded against it later flows through this
// module's backward phase.
func (m *Infer) Derive(ctx context.Context, g *Graph, name string, inputs ...*Variable) (*Variable, error) {
	provider, err := ResolveProvider(ctx, m.provider)
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: err}
	}

	transformSynapse, err := zyn.Transform(m.task, provider)
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: fmt.Errorf("failed to create transform synapse: %w", err)}
	}

	derived, err := transformSynapse.FireWithInput(ctx, m.session, zyn.TransformInput{
		Text:        renderInputs(inputs),
		Style:       m.task,
		Temperature: m.temperature,
	})
	if err != nil {
		return nil, &ForwardError{Module: m.name, Err: fmt.Errorf("transform synapse execution failed: %w", err)}
	}

	return g.Suspend(m.name, name, derived, m.backward, inputs...), nil
}

// backward apportions the merged output feedback among the inputs, then
// repairs what it can: text leaves are claimed and rewritten, produced
// inputs get errata recorded toward their own frames.
func (m *Infer) backward(ctx context.Context, rev *Revision) error {
	provider, err := ResolveProvider(ctx, m.provider)
	if err != nil {
		return err
	}

	inputs := rev.Inputs()
	extractSynapse, err := zyn.Extract[feedbackAssignments](
		"which input each correction applies to, rephrased as a correction to that input",
		provider,
	)
	if err != nil {
		return fmt.Errorf("failed to create extract synapse: %w", err)
	}

	assigned, err := extractSynapse.FireWithInput(ctx, m.session, zyn.ExtractionInput{
		Text:        renderApportionment(m.task, inputs, rev.Errata()),
		Temperature: DefaultReviseTemperature,
	})
	if err != nil {
		return fmt.Errorf("extract synapse execution failed: %w", err)
	}

	byName := make(map[string]*Variable, len(inputs))
	for _, in := range inputs {
		byName[in.Name()] = in
	}

	grouped := make(map[*Variable][]Erratum)
	for _, a := range assigned.Assignments {
		in, ok := byName[a.Input]
		if !ok {
			// The model invented an input name; drop the assignment.
			continue
		}
		grouped[in] = append(grouped[in], Erratum{Payload: a.Feedback, Source: m.name})
	}

	for in, errata := range grouped {
		text, isText := in.Text()
		if in.IsLeaf() && isText {
			// Claim anything already pending on the leaf and fix it all here.
			errata = append(rev.Claim(in), errata...)
			revised, err := m.reviser.Revise(ctx, text, errata)
			if err != nil {
				return fmt.Errorf("revising input %s: %w", in.Name(), err)
			}
			rev.Mutate(in, revised)
			continue
		}
		for _, e := range errata {
			rev.Record(in, e.Payload)
		}
	}
	return nil
}

// variableText renders a variable's payload for prompting: text payloads
// verbatim, everything else as JSON.
func variableText(v *Variable) string {
	if s, ok := v.Text(); ok {
		return s
	}
	b, err := v.JSON()
	if err != nil {
		return fmt.Sprintf("%v", v.Value())
	}
	return string(b)
}

// renderInputs flattens input variables into prompt text, one block per
// input.
func renderInputs(inputs []*Variable) string {
	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "%s:\n%s\n\n", in.Name(), variableText(in))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderApportionment builds the backward extraction prompt: the original
// task, the inputs as they stand, and the corrections to route.
func renderApportionment(task string, inputs []*Variable, errata []Erratum) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nInputs:\n", task)
	for _, in := range inputs {
		fmt.Fprintf(&b, "- %s: %s\n", in.Name(), variableText(in))
	}
	b.WriteString("\n")
	b.WriteString(renderErrata(errata))
	b.WriteString("\nAssign each correction to the input whose content caused it. Use the input names exactly as given.")
	return b.String()
}

// Kind implements Module.
func (m *Infer) Kind() string {
	return "infer"
}

// Name implements Module.
func (m *Infer) Name() string {
	return m.name
}

// Serialize implements Module.
func (m *Infer) Serialize() map[string]any {
	return map[string]any{
		"name":        m.name,
		"task":        m.task,
		"temperature": float64(m.temperature),
	}
}

func init() {
	RegisterKind("infer", func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		task, err := StringField(fields, "task")
		if err != nil {
			return nil, err
		}
		temp, err := FloatField(fields, "temperature")
		if err != nil {
			return nil, err
		}
		return NewInfer(name, task).WithTemperature(float32(temp)), nil
	})
}

var _ Module = (*Infer)(nil)
