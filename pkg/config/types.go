package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/servicecore/pkg/registry"
)

// ServicesManifest enumerates the services to register.
type ServicesManifest struct {
	// Version is the manifest format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Services lists the service entries in registration order.
	Services []ServiceEntry `json:"services" yaml:"services" validate:"dive"`
}

// ServiceEntry describes one registrable service.
type ServiceEntry struct {
	// Name is the unique service name (snake_case).
	Name string `json:"name" yaml:"name" validate:"required,service_name"`

	// Implementation references a constructor in the bootstrap catalog.
	Implementation string `json:"implementation" yaml:"implementation" validate:"required"`

	// Dependencies lists the names of the services this one needs.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,service_name"`

	// Config is the per-service configuration passed to the constructor.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Singleton defaults to true when unset.
	Singleton *bool `json:"singleton,omitempty" yaml:"singleton,omitempty"`

	// Optional entries are skipped with a warning when their implementation is unknown.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`

	// When is a condition expression; the entry is registered only when it is true.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// IsSingleton reports whether the entry should be registered as a singleton.
func (e ServiceEntry) IsSingleton() bool {
	return e.Singleton == nil || *e.Singleton
}

// ServiceConfig converts the entry into a registry configuration.
func (e ServiceEntry) ServiceConfig() registry.ServiceConfig {
	return registry.ServiceConfig{
		Name:         e.Name,
		ClassPath:    e.Implementation,
		Dependencies: append([]string(nil), e.Dependencies...),
		Config:       e.Config,
		Singleton:    e.IsSingleton(),
	}
}

// Names returns the service names in manifest order.
func (m *ServicesManifest) Names() []string {
	names := make([]string, 0, len(m.Services))
	for _, s := range m.Services {
		names = append(names, s.Name)
	}
	return names
}

// RequirementsManifest enumerates third-party packages and environment
// variables needed per service.
type RequirementsManifest struct {
	// Version is the manifest format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Services lists the requirements in validation order.
	Services []Requirement `json:"services" yaml:"services" validate:"dive"`
}

// Requirement lists what one service needs from its environment.
type Requirement struct {
	// Service is the service name.
	Service string `json:"service" yaml:"service" validate:"required,service_name"`

	// Packages are capabilities probed through the import manager.
	Packages PackageSet `json:"packages,omitzero" yaml:"packages,omitempty"`

	// Env are environment variable names.
	Env EnvSet `json:"env,omitzero" yaml:"env,omitempty"`
}

// PackageSet splits packages into required and optional.
type PackageSet struct {
	Required []Package `json:"required,omitempty" yaml:"required,omitempty" validate:"dive"`
	Optional []Package `json:"optional,omitempty" yaml:"optional,omitempty" validate:"dive"`
}

// Package names one importable capability.
type Package struct {
	// Module is the capability name registered with the import manager.
	Module string `json:"module" yaml:"module" validate:"required"`

	// Install is the remediation command, e.g. "go get example.com/driver".
	Install string `json:"install,omitempty" yaml:"install,omitempty"`

	// Description explains what the package is used for.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EnvSet splits environment variables into required and optional.
type EnvSet struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty" validate:"dive,env_name"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty" validate:"dive,env_name"`
}

// Severity levels for validation errors.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError is a single manifest problem.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Path is the path within the document (e.g., "services[2].name").
	Path string `json:"path,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ManifestError collects every problem found in one manifest.
type ManifestError struct {
	File   string
	Errors []ValidationError
}

func (e *ManifestError) Error() string {
	lines := make([]string, 0, len(e.Errors)+1)
	lines = append(lines, fmt.Sprintf("manifest %s has %d problem(s)", e.File, len(e.Errors)))
	for _, ve := range e.Errors {
		lines = append(lines, "  "+ve.String())
	}
	return strings.Join(lines, "\n")
}

// HasErrors reports whether any problem has error severity.
func (e *ManifestError) HasErrors() bool {
	for _, ve := range e.Errors {
		if ve.Severity != SeverityWarning {
			return true
		}
	}
	return false
}

func newManifestError(file string, errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	for i := range errs {
		if errs[i].File == "" {
			errs[i].File = file
		}
		if errs[i].Severity == "" {
			errs[i].Severity = SeverityError
		}
	}
	return &ManifestError{File: file, Errors: errs}
}
