// Package registry holds the named transforms an engine can apply.
package registry

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/settings"
)

var (
	ErrDuplicateRegistration = errors.New("transform already registered")
	ErrNilTransform          = errors.New("transform is nil")
	ErrEmptyName             = errors.New("transform name is required")
)

// Transform draws a transformed version of src into surface. A returned
// error leaves the job's image untouched.
type Transform interface {
	Apply(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error
}

type Func func(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error

func (f Func) Apply(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error {
	return f(src, surface, ctx, s)
}

// Registry is append-only and safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// New returns a registry seeded with the given transforms.
func New(seed map[string]Transform) (*Registry, error) {
	r := &Registry{transforms: make(map[string]Transform, len(seed))}
	for _, name := range lo.Keys(seed) {
		if err := r.Register(name, seed[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(name string, t Transform) error {
	if name == "" {
		return ErrEmptyName
	}
	if t == nil {
		return fmt.Errorf("%w: %q", ErrNilTransform, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transforms[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, name)
	}
	r.transforms[name] = t
	return nil
}

// Lookup reports whether name is registered. A miss is not an error.
func (r *Registry) Lookup(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.transforms)
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transforms)
}
