// Package depcheck compares a requirements manifest against what is importable
// and configured in the current environment, independent of whether any
// service has started.
package depcheck

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/imports"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

// ItemKind distinguishes packages from environment variables.
type ItemKind string

// Item kinds.
const (
	KindPackage ItemKind = "package"
	KindEnv     ItemKind = "env"
)

// MissingItem is one absent package or unset environment variable.
type MissingItem struct {
	Service     string   `json:"service"`
	Kind        ItemKind `json:"kind"`
	Name        string   `json:"name"`
	Required    bool     `json:"required"`
	Install     string   `json:"install,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ServiceReport is the validation outcome for one service.
type ServiceReport struct {
	Service         string        `json:"service"`
	Valid           bool          `json:"valid"`
	MissingRequired []MissingItem `json:"missing_required,omitempty"`
	MissingOptional []MissingItem `json:"missing_optional,omitempty"`
}

// ValidationResult is the outcome of validating every service in the manifest.
type ValidationResult struct {
	IsValid         bool            `json:"is_valid"`
	MissingRequired []MissingItem   `json:"missing_required,omitempty"`
	MissingOptional []MissingItem   `json:"missing_optional,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	Services        []ServiceReport `json:"services"`
}

// Importer probes packages.
type Importer interface {
	SafeImport(ctx context.Context, module string, opts ...imports.ImportOption) any
}

// Validator checks a requirements manifest.
type Validator struct {
	manifest  *config.RequirementsManifest
	importer  Importer
	lookupEnv func(string) (string, bool)
	dotEnv    []string
	fileEnv   map[string]string
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
}

// Option configures a Validator.
type Option func(*Validator)

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(v *Validator) {
		v.lookupEnv = lookup
	}
}

// WithDotEnv also consults the given .env files. Their values are read, not
// exported into the process environment.
func WithDotEnv(files ...string) Option {
	return func(v *Validator) {
		v.dotEnv = append(v.dotEnv, files...)
	}
}

// WithLogger sets the validator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithMetrics records validation outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithEvents publishes failed validations.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(v *Validator) {
		v.events = ep
	}
}

// New creates a validator. It fails only when a .env file cannot be read.
func New(manifest *config.RequirementsManifest, importer Importer, opts ...Option) (*Validator, error) {
	if manifest == nil {
		manifest = &config.RequirementsManifest{}
	}
	v := &Validator{
		manifest:  manifest,
		importer:  importer,
		lookupEnv: os.LookupEnv,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With().Str("component", "depcheck").Logger()

	if len(v.dotEnv) > 0 {
		values, err := godotenv.Read(v.dotEnv...)
		if err != nil {
			return nil, fmt.Errorf("failed to read env files: %w", err)
		}
		v.fileEnv = values
	}
	return v, nil
}

// ValidateAll checks every service in manifest order.
func (v *Validator) ValidateAll(ctx context.Context) *ValidationResult {
	res := &ValidationResult{IsValid: true, Services: make([]ServiceReport, 0, len(v.manifest.Services))}

	for _, req := range v.manifest.Services {
		report := v.check(ctx, req)
		res.Services = append(res.Services, report)
		res.MissingRequired = append(res.MissingRequired, report.MissingRequired...)
		res.MissingOptional = append(res.MissingOptional, report.MissingOptional...)
		for _, item := range report.MissingOptional {
			res.Warnings = append(res.Warnings, warning(item))
		}
		if !report.Valid {
			res.IsValid = false
		}
	}

	v.metrics.RecordValidation("dependencies", res.IsValid)
	if res.IsValid {
		v.logger.Info().
			Int("services", len(res.Services)).
			Int("optional_missing", len(res.MissingOptional)).
			Msg("Dependency validation passed")
	} else {
		_ = v.events.PublishValidationFailed("dependencies", len(res.MissingRequired), summary(res.MissingRequired))
		v.logger.Error().
			Int("services", len(res.Services)).
			Int("required_missing", len(res.MissingRequired)).
			Msg("Dependency validation failed")
	}
	return res
}

// ValidateService checks a single service.
func (v *Validator) ValidateService(ctx context.Context, name string) (*ServiceReport, error) {
	for _, req := range v.manifest.Services {
		if req.Service == name {
			report := v.check(ctx, req)
			return &report, nil
		}
	}
	return nil, fmt.Errorf("service %q has no requirements entry", name)
}

func (v *Validator) check(ctx context.Context, req config.Requirement) ServiceReport {
	report := ServiceReport{Service: req.Service, Valid: true}

	checkPackages := func(pkgs []config.Package, required bool) {
		for _, pkg := range pkgs {
			if v.importer != nil && v.importer.SafeImport(ctx, pkg.Module, imports.WithContext(req.Service)) != nil {
				continue
			}
			item := MissingItem{
				Service:     req.Service,
				Kind:        KindPackage,
				Name:        pkg.Module,
				Required:    required,
				Install:     pkg.Install,
				Description: pkg.Description,
			}
			report.add(item)
			v.logMissing(item)
		}
	}
	checkEnv := func(names []string, required bool) {
		for _, name := range names {
			if v.envSet(name) {
				continue
			}
			item := MissingItem{Service: req.Service, Kind: KindEnv, Name: name, Required: required}
			report.add(item)
			v.logMissing(item)
		}
	}

	checkPackages(req.Packages.Required, true)
	checkPackages(req.Packages.Optional, false)
	checkEnv(req.Env.Required, true)
	checkEnv(req.Env.Optional, false)
	return report
}

func (r *ServiceReport) add(item MissingItem) {
	if item.Required {
		r.MissingRequired = append(r.MissingRequired, item)
		r.Valid = false
		return
	}
	r.MissingOptional = append(r.MissingOptional, item)
}

// envSet reports whether name has a non-empty value in the process or a .env file.
func (v *Validator) envSet(name string) bool {
	if val, ok := v.lookupEnv(name); ok && val != "" {
		return true
	}
	return v.fileEnv[name] != ""
}

func (v *Validator) logMissing(item MissingItem) {
	event := v.logger.Debug()
	if item.Required {
		event = v.logger.Warn()
	}
	event.
		Str("service", item.Service).
		Str("kind", string(item.Kind)).
		Str("name", item.Name).
		Bool("required", item.Required).
		Msg("Dependency missing")
}

func warning(item MissingItem) string {
	if item.Kind == KindEnv {
		return fmt.Sprintf("optional environment variable %s for service %q is not set", item.Name, item.Service)
	}
	return fmt.Sprintf("optional package %q for service %q is not available", item.Name, item.Service)
}

func summary(items []MissingItem) string {
	if len(items) == 0 {
		return ""
	}
	first := items[0]
	if len(items) == 1 {
		return fmt.Sprintf("%s %s required by %s is missing", first.Kind, first.Name, first.Service)
	}
	return fmt.Sprintf("%s %s required by %s and %d more are missing", first.Kind, first.Name, first.Service, len(items)-1)
}
