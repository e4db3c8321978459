package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
)

// Spec is everything a factory needs to build one adapter
type Spec struct {
	// IntegrationType is the type of the integration being run
	IntegrationType integration.Type
	// Endpoint is the source or destination name the integration refers to
	Endpoint string
	// Kind is the registered adapter kind
	Kind string
	// Settings are the named endpoint's settings, shared by every integration
	Settings map[string]interface{}
	// Config is the integration's own source or destination config
	Config map[string]interface{}
}

// String returns a per-integration config value as a string
func (s Spec) String(key string) string {
	return cast.ToString(s.Config[key])
}

// Bool returns a per-integration config value as a bool, or def when unset
func (s Spec) Bool(key string, def bool) bool {
	v, ok := s.Config[key]
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Factory builds an adapter from a spec
type Factory func(ctx context.Context, spec Spec) (Adapter, error)

type registration struct {
	factory Factory
	types   []integration.Type
}

// Registry resolves integration endpoints to adapters. Factories are
// registered per kind; named endpoints bind a kind to shared settings.
// An endpoint name with no definition is treated as a kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]registration
	endpoints map[string]config.AdapterConfig
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Named("adapter_registry")
	}
	return &Registry{
		factories: make(map[string]registration),
		endpoints: make(map[string]config.AdapterConfig),
		logger:    log,
	}
}

// Register adds a factory for kind. When types are given the kind only
// serves integrations of those types.
func (r *Registry) Register(kind string, factory Factory, types ...integration.Type) error {
	if kind == "" || factory == nil {
		return errors.New(errors.ErrorTypeConfig, "adapter kind and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "adapter kind %s already registered", kind)
	}
	r.factories[kind] = registration{factory: factory, types: types}
	r.logger.Debug("adapter kind registered", zap.String("kind", kind))
	return nil
}

// Define binds an endpoint name to a kind and its settings, replacing any
// earlier definition
func (r *Registry) Define(name string, cfg config.AdapterConfig) error {
	if name == "" || cfg.Kind == "" {
		return errors.New(errors.ErrorTypeConfig, "endpoint name and kind are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = cfg
	return nil
}

// DefineAll defines every endpoint of a configuration
func (r *Registry) DefineAll(endpoints map[string]config.AdapterConfig) error {
	names := lo.Keys(endpoints)
	sort.Strings(names)
	for _, name := range names {
		if err := r.Define(name, endpoints[name]); err != nil {
			return err
		}
	}
	return nil
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := lo.Keys(r.factories)
	sort.Strings(kinds)
	return kinds
}

// Endpoints returns the defined endpoint names, sorted
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.endpoints)
	sort.Strings(names)
	return names
}

// Resolve builds the adapter for an integration endpoint
func (r *Registry) Resolve(ctx context.Context, typ integration.Type, endpoint string, cfg map[string]interface{}) (Adapter, error) {
	r.mu.RLock()
	def, defined := r.endpoints[endpoint]
	kind := endpoint
	if defined {
		kind = def.Kind
	}
	reg, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("no adapter for endpoint %q", endpoint).WithDetail("kind", kind)
	}
	if len(reg.types) > 0 && !lo.Contains(reg.types, typ) {
		return nil, errors.Newf(errors.ErrorTypeCapability,
			"adapter kind %s does not serve %s integrations", kind, typ)
	}

	spec := Spec{
		IntegrationType: typ,
		Endpoint:        endpoint,
		Kind:            kind,
		Settings:        def.Settings,
		Config:          cfg,
	}
	if spec.Settings == nil {
		spec.Settings = map[string]interface{}{}
	}
	if spec.Config == nil {
		spec.Config = map[string]interface{}{}
	}

	a, err := reg.factory(ctx, spec)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create adapter").
			WithDetail("endpoint", endpoint).
			WithDetail("kind", kind)
	}
	if a == nil {
		return nil, errors.NotFound("adapter factory for %q returned nothing", kind)
	}

	r.logger.Debug("adapter resolved",
		zap.String("endpoint", endpoint),
		zap.String("kind", kind),
		zap.String("integration_type", string(typ)))
	return a, nil
}
