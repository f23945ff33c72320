package registry

import (
	"context"
	"time"
)

// Kind distinguishes eagerly supplied instances from constructor factories.
type Kind string

const (
	// KindSingleton is a pre-built instance.
	KindSingleton Kind = "singleton"

	// KindFactory is a constructor invoked on resolution.
	KindFactory Kind = "factory"
)

// Factory constructs a service. It receives the registry so it can resolve its own
// collaborators; it must pass ctx through to those Get calls.
type Factory func(ctx context.Context, r *Registry) (any, error)

// ServiceDescriptor is a snapshot of one registration.
type ServiceDescriptor struct {
	// Name is the unique registry key.
	Name string `json:"name"`

	// Kind is singleton or factory.
	Kind Kind `json:"kind"`

	// Instance is set for singletons and for factory singletons once constructed.
	Instance any `json:"-"`

	// Factory is set for factory registrations.
	Factory Factory `json:"-"`

	// Dependencies are the names that must be initialized before this service.
	Dependencies []string `json:"dependencies"`

	// IsSingleton caches factory output after the first successful construction.
	IsSingleton bool `json:"is_singleton"`

	// ClassPath identifies the implementation for diagnostics.
	ClassPath string `json:"class_path,omitempty"`

	// Config is opaque per-service configuration.
	Config map[string]any `json:"config,omitempty"`

	// Status is the lifecycle status.
	Status ServiceStatus `json:"status"`

	// ErrorMessage holds the last initialization failure.
	ErrorMessage string `json:"error_message,omitempty"`

	// RegisteredAt is when the registration was accepted.
	RegisteredAt time.Time `json:"registered_at"`

	// Order is the registration index.
	Order int `json:"order"`
}

// ServiceInfo is the read-only projection of a descriptor used for introspection.
type ServiceInfo struct {
	Name         string         `json:"name"`
	Status       ServiceStatus  `json:"status"`
	Dependencies []string       `json:"dependencies"`
	IsSingleton  bool           `json:"is_singleton"`
	ClassPath    string         `json:"class_path,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Instantiated bool           `json:"instantiated"`
	Config       map[string]any `json:"config,omitempty"`
}

// ServiceConfig is the declarative registration record of a service.
type ServiceConfig struct {
	Name         string
	ClassPath    string
	Dependencies []string
	Config       map[string]any
	Singleton    bool
}

// FactoryOption configures a factory registration.
type FactoryOption func(*ServiceDescriptor)

// WithDependencies declares the services that must be initialized first.
func WithDependencies(deps ...string) FactoryOption {
	return func(d *ServiceDescriptor) {
		d.Dependencies = append(d.Dependencies, deps...)
	}
}

// Transient disables caching so every resolution invokes the factory.
func Transient() FactoryOption {
	return func(d *ServiceDescriptor) {
		d.IsSingleton = false
	}
}

// WithClassPath records the implementation reference.
func WithClassPath(path string) FactoryOption {
	return func(d *ServiceDescriptor) {
		d.ClassPath = path
	}
}

// WithConfig attaches opaque configuration.
func WithConfig(cfg map[string]any) FactoryOption {
	return func(d *ServiceDescriptor) {
		d.Config = copyConfig(cfg)
	}
}

func (d ServiceDescriptor) info(instantiated bool) ServiceInfo {
	return ServiceInfo{
		Name:         d.Name,
		Status:       d.Status,
		Dependencies: append([]string(nil), d.Dependencies...),
		IsSingleton:  d.IsSingleton,
		ClassPath:    d.ClassPath,
		ErrorMessage: d.ErrorMessage,
		Instantiated: instantiated,
		Config:       copyConfig(d.Config),
	}
}

func copyConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
