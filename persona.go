package hindsight

import (
	"fmt"
	"strings"
)

// Persona is a stable voice and perspective for derivations. It enters the
// graph as a forward-only variable: feed it to [Infer.Derive] alongside the
// content inputs and the derivation picks up the persona's register, while
// corrections to the output never rewrite who is speaking.
type Persona struct {
	name   string
	voice  string
	traits []string
}

// NewPersona creates a persona. The voice describes how the persona speaks,
// e.g. "a weary night-shift archivist, dry and precise".
func NewPersona(name, voice string) *Persona {
	return &Persona{name: name, voice: voice}
}

// WithTraits adds standing characteristics the persona holds to.
func (p *Persona) WithTraits(traits ...string) *Persona {
	p.traits = append(p.traits, traits...)
	return p
}

// Render flattens the persona into prompt text.
func (p *Persona) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Speak as %s: %s.", p.name, p.voice)
	for _, t := range p.traits {
		fmt.Fprintf(&b, "\n- %s", t)
	}
	return b.String()
}

// AsVariable suspends the rendered persona into a forward-only frame on g,
// yielding a variable suitable as a derivation input.
func (p *Persona) AsVariable(g *Graph) *Variable {
	return g.Suspend(p.name, "persona", p.Render(), nil)
}

// Kind implements Module.
func (p *Persona) Kind() string {
	return "persona"
}

// Name implements Module.
func (p *Persona) Name() string {
	return p.name
}

// Serialize implements Module.
func (p *Persona) Serialize() map[string]any {
	return map[string]any{
		"name":   p.name,
		"voice":  p.voice,
		"traits": p.traits,
	}
}

func init() {
	RegisterKind("persona", func(fields map[string]any) (Module, error) {
		name, err := StringField(fields, "name")
		if err != nil {
			return nil, err
		}
		voice, err := StringField(fields, "voice")
		if err != nil {
			return nil, err
		}
		traits, err := StringsField(fields, "traits")
		if err != nil {
			return nil, err
		}
		return NewPersona(name, voice).WithTraits(traits...), nil
	})
}

var _ Module = (*Persona)(nil)
