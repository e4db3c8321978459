// Package transform provides the catalog of named column transforms applied
// to extracted data by the integration runner.
//
// A Registry is an owned value: construct one with New (built-ins included)
// or NewEmpty, inject it where it is needed, and Dispose it when done.
//
//	reg := transform.New(logger)
//	out, err := reg.Apply("mask", values, transform.Params{"show_last": 4})
//
// Apply never fails for unknown names; they behave as "direct".
package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
)

// DataType is an abstract column type tag
type DataType string

const (
	TypeString   DataType = "string"
	TypeNumber   DataType = "number"
	TypeBoolean  DataType = "boolean"
	TypeDate     DataType = "date"
	TypeDatetime DataType = "datetime"
	TypeObject   DataType = "object"
	TypeArray    DataType = "array"
)

// DirectName is the identity transform unknown names fall back to
const DirectName = "direct"

// Func transforms a column. It must return a column of the same length.
type Func func(values []interface{}, params Params) ([]interface{}, error)

// ParamSpec describes one transform parameter
type ParamSpec struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Default interface{} `json:"default,omitempty"`
}

// Transformation is a registered transform and its metadata
type Transformation struct {
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	SupportedTypes []DataType  `json:"supported_types"`
	Params         []ParamSpec `json:"params"`
	Fn             Func        `json:"-"`
}

// Supports reports whether t declares support for typ
func (t *Transformation) Supports(typ DataType) bool {
	return lo.Contains(t.SupportedTypes, typ)
}

// Registry maps transform names to transformations. Safe for concurrent use.
type Registry struct {
	entries map[string]*Transformation
	mu      sync.RWMutex
	logger  *zap.Logger
}

// New creates a registry holding every built-in transform
func New(log *zap.Logger) *Registry {
	r := NewEmpty(log)
	registerBuiltins(r)
	return r
}

// NewEmpty creates a registry with no transforms
func NewEmpty(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Named("transform_registry")
	}
	return &Registry{
		entries: make(map[string]*Transformation),
		logger:  log,
	}
}

// Register adds or replaces a transformation
func (r *Registry) Register(name, description string, types []DataType, params []ParamSpec, fn Func) error {
	if name == "" {
		return errors.InvalidDefinition("transformation name must not be empty")
	}
	if fn == nil {
		return errors.InvalidDefinition("transformation %q has no function", name)
	}

	t := &Transformation{
		Name:           name,
		Description:    description,
		SupportedTypes: append([]DataType(nil), types...),
		Params:         append([]ParamSpec(nil), params...),
		Fn:             fn,
	}

	r.mu.Lock()
	_, replaced := r.entries[name]
	r.entries[name] = t
	r.mu.Unlock()

	r.logger.Debug("transformation registered", zap.String("name", name), zap.Bool("replaced", replaced))
	return nil
}

// Get returns the named transformation, or nil
func (r *Registry) Get(name string) *Transformation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// ListAll returns every transformation sorted by name
func (r *Registry) ListAll() []*Transformation {
	r.mu.RLock()
	all := lo.Values(r.entries)
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// ListForType returns the transformations supporting typ, sorted by name
func (r *Registry) ListForType(typ DataType) []*Transformation {
	return lo.Filter(r.ListAll(), func(t *Transformation, _ int) bool {
		return t.Supports(typ)
	})
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	return lo.Map(r.ListAll(), func(t *Transformation, _ int) string { return t.Name })
}

// Apply runs the named transformation over values. Unknown names return a
// copy of values unchanged. Missing params take their declared defaults.
// Errors and panics raised by the function are returned as transformation
// errors.
func (r *Registry) Apply(name string, values []interface{}, params Params) (out []interface{}, err error) {
	t := r.Get(name)
	if t == nil {
		if name != DirectName {
			r.logger.Debug("unknown transformation, using direct", zap.String("name", name))
		}
		return append([]interface{}(nil), values...), nil
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = errors.Transformation(fmt.Errorf("panic: %v", p), name)
		}
	}()

	out, err = t.Fn(values, withDefaults(params, t.Params))
	if err != nil {
		return nil, errors.Transformation(err, name)
	}
	if len(out) != len(values) {
		return nil, errors.Transformation(
			fmt.Errorf("returned %d values for %d inputs", len(out), len(values)), name)
	}
	return out, nil
}

// Dispose removes every transformation
func (r *Registry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Transformation)
}

func withDefaults(params Params, specs []ParamSpec) Params {
	merged := make(Params, len(params)+len(specs))
	for _, s := range specs {
		if s.Default != nil {
			merged[s.Name] = s.Default
		}
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
