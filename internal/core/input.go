package core

import (
	"fmt"
	"sort"

	"checkweaver/internal/fileproxy"
)

// InputKind describes the type of a declared input.
type InputKind string

const (
	KindBool    InputKind = "bool"
	KindInt     InputKind = "int"
	KindFloat   InputKind = "float"
	KindString  InputKind = "string"
	KindStrings InputKind = "strings"
	KindBytes   InputKind = "bytes"
	KindFile    InputKind = "file"
	KindTask    InputKind = "task"
	KindAny     InputKind = "any"
)

// InputSpec is one entry of a checker's declared inputs.
type InputSpec struct {
	Name     string
	Kind     InputKind
	Optional bool
}

// Accepts reports whether v is a valid value for the kind.
func (k InputKind) Accepts(v any) bool {
	switch k {
	case KindAny:
		return true
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float32, float64:
			return true
		}
		return false
	case KindString:
		_, ok := v.(string)
		return ok
	case KindStrings:
		_, ok := v.([]string)
		return ok
	case KindBytes:
		_, ok := v.([]byte)
		return ok
	case KindFile:
		_, ok := v.(FileRef)
		return ok
	case KindTask:
		_, ok := v.(TaskRef)
		return ok
	default:
		return false
	}
}

// ValidateInputs checks a descriptor's bundle against declared inputs.
func ValidateInputs(specs []InputSpec, inputs map[string]any) error {
	declared := make(map[string]InputSpec, len(specs))
	for _, s := range specs {
		declared[s.Name] = s
	}

	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		s, ok := declared[n]
		if !ok {
			return fmt.Errorf("undeclared input %q", n)
		}
		if !s.Kind.Accepts(inputs[n]) {
			return fmt.Errorf("input %q: want %s, got %T", n, s.Kind, inputs[n])
		}
	}
	for _, s := range specs {
		if _, ok := inputs[s.Name]; !ok && !s.Optional {
			return fmt.Errorf("missing required input %q", s.Name)
		}
	}
	return nil
}

// Inputs is the resolved input bundle handed to Checker.Run. File references
// have been replaced by proxies.
type Inputs struct {
	order  []string
	values map[string]any
}

// NewInputs builds a bundle whose iteration order follows the declared specs;
// values without a spec follow in lexical order.
func NewInputs(specs []InputSpec, values map[string]any) Inputs {
	in := Inputs{values: make(map[string]any, len(values))}
	seen := make(map[string]bool, len(values))
	for _, s := range specs {
		if v, ok := values[s.Name]; ok {
			in.order = append(in.order, s.Name)
			in.values[s.Name] = v
			seen[s.Name] = true
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		in.order = append(in.order, k)
		in.values[k] = values[k]
	}
	return in
}

// Names returns input names in bundle order.
func (in Inputs) Names() []string {
	out := make([]string, len(in.order))
	copy(out, in.order)
	return out
}

// Value returns the raw value.
func (in Inputs) Value(name string) (any, bool) {
	v, ok := in.values[name]
	return v, ok
}

// File returns the proxy bound to a file input, or nil.
func (in Inputs) File(name string) *fileproxy.Proxy {
	p, _ := in.values[name].(*fileproxy.Proxy)
	return p
}

// String returns a string input or def.
func (in Inputs) String(name, def string) string {
	if s, ok := in.values[name].(string); ok {
		return s
	}
	return def
}

// Strings returns a string-list input.
func (in Inputs) Strings(name string) []string {
	s, _ := in.values[name].([]string)
	return s
}

// Bool returns a bool input or def.
func (in Inputs) Bool(name string, def bool) bool {
	if b, ok := in.values[name].(bool); ok {
		return b
	}
	return def
}

// Int returns an integer input or def.
func (in Inputs) Int(name string, def int) int {
	switch v := in.values[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint:
		return int(v)
	case uint64:
		return int(v)
	default:
		return def
	}
}
