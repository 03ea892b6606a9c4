package hindsight

import (
	"errors"
	"fmt"
	"sync"
)

// Module is the contract for reconstructible reasoning components. A module
// declares its configuration as a flat mapping from field name to a
// JSON-serializable value; reconstructing from that mapping must yield a
// behaviorally interchangeable module with no invocation history.
//
// Providers and embedders are deliberately not part of the serialized state:
// they resolve through the ambient hierarchy (explicit > context > global),
// so a reconstructed module works wherever a provider is configured.
type Module interface {
	// Kind identifies the module type in the reconstruction registry.
	Kind() string

	// Name identifies this module instance.
	Name() string

	// Serialize enumerates exactly the configuration fields the module
	// declares. Values must be JSON-serializable.
	Serialize() map[string]any
}

// ReconstructFunc rebuilds a module of one kind from its serialized fields.
type ReconstructFunc func(fields map[string]any) (Module, error)

var (
	kindsMu sync.RWMutex
	kinds   = make(map[string]ReconstructFunc)
)

// RegisterKind installs a reconstruction function for a module kind.
// Module implementations register themselves at init; registering the same
// kind twice panics, since two reconstructors for one kind means two module
// types fighting over the same serialized form.
func RegisterKind(kind string, fn ReconstructFunc) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, dup := kinds[kind]; dup {
		panic(fmt.Sprintf("hindsight: kind %q registered twice", kind))
	}
	kinds[kind] = fn
}

// Reconstruct rebuilds a module from its kind and serialized fields.
// Failures are fatal to this call only and never touch other modules.
func Reconstruct(kind string, fields map[string]any) (Module, error) {
	kindsMu.RLock()
	fn, ok := kinds[kind]
	kindsMu.RUnlock()

	if !ok {
		return nil, &ReconstructionError{Kind: kind, Err: errors.New("unknown kind")}
	}

	m, err := fn(fields)
	if err != nil {
		var rerr *ReconstructionError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, &ReconstructionError{Kind: kind, Err: err}
	}
	return m, nil
}

// Field helpers for reconstruction functions. JSON round trips turn ints into
// float64, so the numeric helpers accept both.

// StringField extracts a required string field.
func StringField(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", &ReconstructionError{Field: key, Err: errors.New("missing")}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ReconstructionError{Field: key, Err: fmt.Errorf("expected string, got %T", raw)}
	}
	return s, nil
}

// IntField extracts a required integer field.
func IntField(fields map[string]any, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, &ReconstructionError{Field: key, Err: errors.New("missing")}
	}
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, &ReconstructionError{Field: key, Err: fmt.Errorf("expected int, got %T", raw)}
	}
}

// FloatField extracts a required float field.
func FloatField(fields map[string]any, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, &ReconstructionError{Field: key, Err: errors.New("missing")}
	}
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, &ReconstructionError{Field: key, Err: fmt.Errorf("expected float, got %T", raw)}
	}
}

// StringsField extracts an optional string-slice field. Absent fields yield
// nil; JSON round trips deliver []any, so both forms are accepted.
func StringsField(fields map[string]any, key string) ([]string, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch items := raw.(type) {
	case []string:
		out := make([]string, len(items))
		copy(out, items)
		return out, nil
	case []any:
		out := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, &ReconstructionError{Field: key, Err: fmt.Errorf("element %d: expected string, got %T", i, item)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ReconstructionError{Field: key, Err: fmt.Errorf("expected string list, got %T", raw)}
	}
}
