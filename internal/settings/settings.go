// Package settings turns the flat data-manipulatr-* attributes of an element
// into the nested configuration consumed by a single transform.
package settings

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

const (
	Prefix    = "data-manipulatr-"
	NameKey   = "name"
	FormatKey = "format"

	// NameAttribute marks an element as a transform target.
	NameAttribute = Prefix + NameKey
)

// Mode controls how nested values are stored.
type Mode int

const (
	// CoerceNested JSON-decodes nested values and keeps the raw string when
	// decoding fails.
	CoerceNested Mode = iota
	// RawNested stores nested values as the raw attribute strings.
	RawNested
)

func (m Mode) String() string {
	switch m {
	case CoerceNested:
		return "coerce_nested"
	case RawNested:
		return "raw_nested"
	default:
		return "unknown"
	}
}

type Option func(*options)

type options struct {
	mode Mode
}

func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// Settings is immutable once built. Root values are always strings; group
// values are strings or JSON scalars depending on the parse Mode.
type Settings struct {
	root   map[string]string
	groups map[string]Group
}

// Parse builds Settings from an element's attributes. Attributes without
// the prefix are ignored.
func Parse(attrs map[string]string, opts ...Option) Settings {
	o := options{mode: CoerceNested}
	for _, opt := range opts {
		opt(&o)
	}

	s := Settings{
		root:   make(map[string]string),
		groups: make(map[string]Group),
	}
	for name, raw := range attrs {
		if !strings.HasPrefix(name, Prefix) {
			continue
		}

		parts := strings.Split(strings.TrimPrefix(name, Prefix), "-")
		outer := parts[0]
		if outer == "" {
			continue
		}

		if len(parts) == 1 {
			s.root[outer] = raw
			continue
		}

		inner := parts[1]
		group, ok := s.groups[outer]
		if !ok {
			group = make(Group)
			s.groups[outer] = group
		}
		group[inner] = nestedValue(raw, o.mode)
	}

	// A root scalar shadows a namespace of the same name.
	for key := range s.root {
		delete(s.groups, key)
	}
	return s
}

// New builds Settings directly, for callers that bypass attribute parsing.
// Values of type map[string]any become groups; everything else is formatted
// as a root string.
func New(values map[string]any) Settings {
	s := Settings{
		root:   make(map[string]string),
		groups: make(map[string]Group),
	}
	for key, value := range values {
		switch v := value.(type) {
		case map[string]any:
			s.groups[key] = Group(maps.Clone(v))
		case Group:
			s.groups[key] = maps.Clone(v)
		case string:
			s.root[key] = v
		default:
			s.root[key] = fmt.Sprint(v)
		}
	}
	for key := range s.root {
		delete(s.groups, key)
	}
	return s
}

func nestedValue(raw string, mode Mode) any {
	if mode == RawNested {
		return raw
	}
	if v, ok := coerce(raw); ok {
		return v
	}
	return raw
}

// coerce reports whether raw is a JSON document and returns its value.
func coerce(raw string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Name returns the requested transform name, or "" when absent.
func (s Settings) Name() string {
	return s.root[NameKey]
}

// Format returns the explicit output format override, if any.
func (s Settings) Format() (string, bool) {
	f, ok := s.root[FormatKey]
	if !ok || f == "" {
		return "", false
	}
	return f, true
}

func (s Settings) String(key string) (string, bool) {
	v, ok := s.root[key]
	return v, ok
}

// Group returns a copy of the namespace for key. Missing namespaces yield an
// empty, non-nil group.
func (s Settings) Group(key string) Group {
	g, ok := s.groups[key]
	if !ok {
		return Group{}
	}
	return maps.Clone(g)
}

// Map returns a deep copy in the shape {key: string | map[string]any}.
func (s Settings) Map() map[string]any {
	out := make(map[string]any, len(s.root)+len(s.groups))
	for k, v := range s.root {
		out[k] = v
	}
	for k, g := range s.groups {
		out[k] = map[string]any(maps.Clone(g))
	}
	return out
}

func (s Settings) Len() int {
	return len(s.root) + len(s.groups)
}

// Group holds the settings of one namespace, e.g. everything under
// data-manipulatr-scale-*.
type Group map[string]any

func (g Group) Has(key string) bool {
	_, ok := g[key]
	return ok
}

// String returns the value for key formatted as a string.
func (g Group) String(key string) (string, bool) {
	v, ok := g[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// Float accepts JSON numbers and numeric strings.
func (g Group) Float(key string) (float64, error) {
	v, ok := g[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be numeric, got %q", key, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%s must be numeric, got %T", key, v)
	}
}

// Int truncates toward zero, like assigning a fractional canvas dimension.
func (g Group) Int(key string) (int, error) {
	f, err := g.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
