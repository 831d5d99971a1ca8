package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"billingstack/pkg/models"
)

// Constructor builds a provider bound to one gateway configuration.
type Constructor func(cfg models.PGConfig) (Provider, error)

// Factory is a registry entry: catalog metadata plus a constructor.
type Factory struct {
	Name        string
	Title       string
	Description string
	Methods     []models.PGMethod
	// Schema is a JSON schema for PGConfig.Properties. Nil accepts anything.
	Schema models.JSONB
	New    Constructor
}

// Catalog returns the factory's catalog entry (without id or timestamps).
func (f Factory) Catalog() models.PGProvider {
	return models.PGProvider{
		Name:             f.Name,
		Title:            f.Title,
		Description:      f.Description,
		Methods:          append([]models.PGMethod(nil), f.Methods...),
		PropertiesSchema: f.Schema.Clone(),
	}
}

// Decorator wraps a freshly constructed provider. name is the registry name.
type Decorator func(name string, cfg models.PGConfig, p Provider) Provider

// Registry maps provider names to factories. It is filled once at startup
// and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	schemas    map[string]*gojsonschema.Schema
	decorators []Decorator
}

// NewRegistry returns an empty registry.
func NewRegistry(decorators ...Decorator) *Registry {
	return &Registry{
		factories:  map[string]Factory{},
		schemas:    map[string]*gojsonschema.Schema{},
		decorators: decorators,
	}
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(f Factory) error {
	if f.Name == "" || f.New == nil {
		return fmt.Errorf("provider: factory needs a name and a constructor")
	}
	var schema *gojsonschema.Schema
	if len(f.Schema) > 0 {
		raw, err := json.Marshal(f.Schema)
		if err != nil {
			return fmt.Errorf("provider %s: marshal schema: %w", f.Name, err)
		}
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return fmt.Errorf("provider %s: compile schema: %w", f.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Name]; exists {
		return fmt.Errorf("provider %s already registered", f.Name)
	}
	r.factories[f.Name] = f
	if schema != nil {
		r.schemas[f.Name] = schema
	}
	return nil
}

// MustRegister is Register for the static init list; it panics on error.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Factories returns all factories sorted by name.
func (r *Registry) Factories() []Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns a constructor for name. The constructor validates the
// config properties against the provider schema, builds the provider and
// applies the registry decorators. Schema violations and constructor
// failures are reported as *ConfigurationError.
func (r *Registry) Resolve(name string) (Constructor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	schema := r.schemas[name]
	decorators := r.decorators
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	return func(cfg models.PGConfig) (Provider, error) {
		if schema != nil {
			if err := validateProperties(name, schema, cfg.Properties); err != nil {
				return nil, err
			}
		}
		p, err := f.New(cfg)
		if err != nil {
			if IsConfigurationError(err) {
				return nil, err
			}
			return nil, &ConfigurationError{Provider: name, Msg: "construct provider", Err: err}
		}
		for _, d := range decorators {
			p = d(name, cfg, p)
		}
		return p, nil
	}, nil
}

func validateProperties(name string, schema *gojsonschema.Schema, props models.JSONB) error {
	if props == nil {
		props = models.JSONB{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(props)))
	if err != nil {
		return &ConfigurationError{Provider: name, Msg: "validate properties", Err: err}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return &ConfigurationError{Provider: name, Msg: "invalid properties: " + strings.Join(problems, "; ")}
}
