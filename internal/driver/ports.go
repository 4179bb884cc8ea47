package driver

import (
	"fmt"
	"slices"
	"strings"
)

// invertPrefix marks a port whose value is logically inverted.
const invertPrefix = "i:"

// PortRef is one physical port referenced by a logical port specification.
type PortRef struct {
	Port   string
	Invert bool
}

// String returns the port in its specification form, e.g. "i:2".
func (p PortRef) String() string {
	if p.Invert {
		return invertPrefix + p.Port
	}
	return p.Port
}

// ParsePort parses a single port specification such as "5" or "i:2".
func ParsePort(spec string) (PortRef, error) {
	s := strings.TrimSpace(spec)
	ref := PortRef{}
	if rest, ok := strings.CutPrefix(s, invertPrefix); ok {
		ref.Invert = true
		s = strings.TrimSpace(rest)
	}
	if s == "" {
		return PortRef{}, fmt.Errorf("%w: empty port in %q", ErrInvalidConfig, spec)
	}
	ref.Port = s
	return ref, nil
}

// ParsePorts parses a list of port specifications, e.g. ["1", "i:2", "5"].
func ParsePorts(specs []string) ([]PortRef, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no ports", ErrInvalidConfig)
	}
	refs := make([]PortRef, 0, len(specs))
	for _, spec := range specs {
		ref, err := ParsePort(spec)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// PortLister is implemented by PHIs with a fixed, declared port set.
type PortLister interface {
	Ports() []string
}

// CheckPorts rejects references to ports phi does not declare. Wrapped PHIs
// (see GuardBus) are unwrapped. PHIs that declare no port set accept any
// reference.
func CheckPorts(phi PHI, refs []PortRef) error {
	for {
		if l, ok := phi.(PortLister); ok {
			declared := l.Ports()
			var unknown []string
			for _, r := range refs {
				if !slices.Contains(declared, r.Port) {
					unknown = append(unknown, r.Port)
				}
			}
			if len(unknown) > 0 {
				return fmt.Errorf("%w: phi %s has no port %s", ErrInvalidConfig, phi.ID(), strings.Join(unknown, ", "))
			}
			return nil
		}
		w, ok := phi.(interface{ Unwrap() PHI })
		if !ok {
			return nil
		}
		phi = w.Unwrap()
	}
}

// Apply applies the port's modifiers to v. Inversion is defined for
// booleans and for numeric 0/1 style values.
func (p PortRef) Apply(v any) (any, error) {
	if !p.Invert {
		return v, nil
	}
	switch x := v.(type) {
	case bool:
		return !x, nil
	case nil:
		return nil, fmt.Errorf("%w: cannot invert nil on port %s", ErrInvalidParams, p.Port)
	}
	f, ok := ToFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: cannot invert %T on port %s", ErrInvalidParams, v, p.Port)
	}
	if f == 0 {
		return 1, nil
	}
	return 0, nil
}

// ToFloat converts numeric values (and booleans) to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// Truthy reports whether v is logically "on".
func Truthy(v any) bool {
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	switch x := v.(type) {
	case string:
		switch strings.ToLower(x) {
		case "1", "on", "true", "yes":
			return true
		}
	}
	return false
}
