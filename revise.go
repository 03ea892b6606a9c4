package hindsight

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/zyn"
)

// Reviser rewrites text against accumulated errata. It backs the leaf-repair
// half of backward propagation: modules use it inside their backward phases
// to fix the text inputs they claim, and callers use [Reviser.Resolve] to
// settle errata that propagation parked on leaves nothing consumed.
type Reviser struct {
	name        string
	prompt      string
	temperature float32
	provider    Provider
	session     *zyn.Session
}

// NewReviser creates a reviser.
func NewReviser(name string) *Reviser {
	return &Reviser{
		name:        name,
		prompt:      "Rewrite the text so every correction is satisfied. Change only what the corrections require; keep everything else verbatim.",
		temperature: DefaultReviseTemperature,
		session:     zyn.NewSession(),
	}
}

// WithPrompt sets a custom revision instruction.
func (r *Reviser) WithPrompt(prompt string) *Reviser {
	r.prompt = prompt
	return r
}

// WithTemperature sets the revision temperature.
func (r *Reviser) WithTemperature(temp float32) *Reviser {
	r.temperature = temp
	return r
}

// WithProvider sets the provider for the LLM call.
func (r *Reviser) WithProvider(p Provider) *Reviser {
	r.provider = p
	return r
}

// Revise rewrites text to satisfy the given errata.
func (r *Reviser) Revise(ctx context.Context, text string, errata []Erratum) (string, error) {
	if len(errata) == 0 {
		return text, nil
	}

	provider, err := ResolveProvider(ctx, r.provider)
	if err != nil {
		return "", fmt.Errorf("reviser %s: %w", r.name, err)
	}

	transformSynapse, err := zyn.Transform(r.prompt, provider)
	if err != nil {
		return "", fmt.Errorf("reviser %s: failed to create transform synapse: %w", r.name, err)
	}

	revised, err := transformSynapse.FireWithInput(ctx, r.session, zyn.TransformInput{
		Text:        text,
		Context:     renderErrata(errata),
		Style:       r.prompt,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("reviser %s: transform synapse execution failed: %w", r.name, err)
	}
	return revised, nil
}

// Resolve drains the pending errata on each variable and rewrites its text
// payload to satisfy them. Variables with no pending errata or a non-text
// payload are skipped. This is the caller-driven counterpart to a backward
// phase's Claim and Mutate.
func (r *Reviser) Resolve(ctx context.Context, vars ...*Variable) error {
	for _, v := range vars {
		text, ok := v.Text()
		if !ok {
			continue
		}
		errata := v.takePending()
		if len(errata) == 0 {
			continue
		}

		revised, err := r.Revise(ctx, text, errata)
		if err != nil {
			// Put the errata back so a later resolve can retry.
			for _, e := range errata {
				v.Record(e)
			}
			return fmt.Errorf("resolve %s: %w", v.Name(), err)
		}
		v.SetValue(revised)
	}
	return nil
}

// renderErrata flattens errata into a correction list for prompt context.
func renderErrata(errata []Erratum) string {
	var b strings.Builder
	b.WriteString("Corrections:\n")
	for i, e := range errata {
		fmt.Fprintf(&b, "%d. %v", i+1, e.Payload)
		if e.Source != "" {
			fmt.Fprintf(&b, " (from %s)", e.Source)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Kind implements Module.
func (r *Reviser) Kind() string {
	return "reviser"
}

// Name implements Module.
func (r *Reviser) Name() string {
	return r.name
}

// Serialize implements Module.
func (r *Reviser) Serialize() map[string]any {
	return map[string]any{
		"name":        r.name,
		"prompt":      r.prompt,
		"temperature": float64(r.temperature),
	}
}

func init() {
	RegisterKind("reviser", func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		prompt, err := StringField(fields, "prompt")
		if err != nil {
			return nil, err
		}
		temp, err := FloatField(fields, "temperature")
		if err != nil {
			return nil, err
		}
		return NewReviser(name).WithPrompt(prompt).WithTemperature(float32(temp)), nil
	})
}

var _ Module = (*Reviser)(nil)
