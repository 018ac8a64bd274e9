package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownChecker = errors.New("unknown checker")

// Settings are the user-supplied options for one checker instance.
type Settings map[string]any

// Int returns an integer setting or def. YAML numbers decode as int, JSON
// numbers as float64; both are accepted.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func (s Settings) Bool(key string, def bool) bool {
	if b, ok := s[key].(bool); ok {
		return b
	}
	return def
}

func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Strings accepts a list of strings or a comma-separated string.
func (s Settings) Strings(key string) []string {
	switch v := s[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// Factory builds a checker from its settings.
type Factory func(settings Settings) (Checker, error)

// Registry maps checker identities to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory; registering an id twice is an error.
func (r *Registry) Register(id string, f Factory) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("checker id is required")
	}
	if f == nil {
		return fmt.Errorf("nil factory for %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("checker %q already registered", id)
	}
	r.factories[id] = f
	return nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// New instantiates a registered checker.
func (r *Registry) New(id string, settings Settings) (Checker, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChecker, id)
	}
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChecker, id)
	}
	c, err := f(settings)
	if err != nil {
		return nil, fmt.Errorf("checker %q: %w", id, err)
	}
	if c.ID() != id {
		return nil, fmt.Errorf("checker %q: factory returned checker with id %q", id, c.ID())
	}
	return c, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for id := range r.factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
