package detector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/c360/resourcebus/errors"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// Registration holds the factory and metadata of a detector type.
type Registration struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Factory     Factory `json:"-"`
}

// Registry maps detector types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]*Registration)}
}

// RegisterFactory registers reg under its type. Types are unique.
func (r *Registry) RegisterFactory(reg *Registration) error {
	if reg == nil || reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}
	if !namePattern.MatchString(reg.Type) {
		return errors.WrapInvalid(fmt.Errorf("invalid detector type %q", reg.Type),
			"Registry", "RegisterFactory", "type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reg.Type]; exists {
		return errors.WrapInvalid(fmt.Errorf("detector type %q is already registered", reg.Type),
			"Registry", "RegisterFactory", "duplicate factory check")
	}
	r.factories[reg.Type] = reg
	return nil
}

// Create builds a detector instance called name of the given type.
func (r *Registry) Create(typ, name string, rawConfig json.RawMessage, deps Dependencies) (Detector, error) {
	if !namePattern.MatchString(name) {
		return nil, errors.WrapInvalid(fmt.Errorf("invalid detector name %q", name),
			"Registry", "Create", "name validation")
	}

	r.mu.RLock()
	reg, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownDetector, typ),
			"Registry", "Create", "factory lookup")
	}

	if len(rawConfig) == 0 {
		rawConfig = json.RawMessage("{}")
	}
	d, err := reg.Factory(name, rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", "factory "+typ)
	}
	return d, nil
}

// Types lists the registered detector types in sorted order.
func (r *Registry) Types() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registration, 0, len(r.factories))
	for _, reg := range r.factories {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
