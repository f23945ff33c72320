// Package bootstrap turns declarative manifests into a validated registry and a
// lifecycle driver ready to start.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/depcheck"
	"github.com/openfroyo/servicecore/pkg/imports"
	"github.com/openfroyo/servicecore/pkg/lifecycle"
	"github.com/openfroyo/servicecore/pkg/policy"
	"github.com/openfroyo/servicecore/pkg/registry"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

// Options controls a bootstrap. Manifests may be given directly or by path; a
// direct manifest wins.
type Options struct {
	ServicesPath     string
	RequirementsPath string
	Services         *config.ServicesManifest
	Requirements     *config.RequirementsManifest

	// Catalog resolves implementation references. Required.
	Catalog *Catalog

	// Importer backs optional capabilities, condition capability() checks and
	// package requirements. A fresh manager is created when nil.
	Importer *imports.Manager

	// Policy evaluates the registered graph. An engine with the built-in
	// policies is created when nil unless DisablePolicies is set.
	Policy          *policy.Engine
	DisablePolicies bool

	// Conditions evaluates "when" expressions.
	Conditions *config.ConditionEvaluator

	// DotEnv files are consulted when checking environment requirements.
	DotEnv []string

	Telemetry     *telemetry.Telemetry
	Logger        *zerolog.Logger
	DriverOptions []lifecycle.Option
}

// App is a bootstrapped service graph.
type App struct {
	Registry *registry.Registry
	Driver   *lifecycle.Driver
	Importer *imports.Manager
	Policy   *policy.Engine

	Services     *config.ServicesManifest
	Requirements *config.RequirementsManifest

	// Skipped lists entries whose condition was false or whose optional
	// implementation was unknown.
	Skipped []string

	PolicyResult *policy.Result

	mu         sync.RWMutex
	validation *depcheck.ValidationResult

	opts    Options
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// Bootstrap loads manifests, registers every enabled service and validates the
// result. Problems from every stage are collected into one *Error. The returned
// App is populated as far as bootstrapping got, even on error.
func Bootstrap(ctx context.Context, opts Options) (*App, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("bootstrap requires a catalog")
	}

	logger := zerolog.Nop()
	var (
		tracer  *telemetry.Tracer
		metrics *telemetry.Metrics
		events  *telemetry.EventPublisher
	)
	if t := opts.Telemetry; t != nil {
		logger = t.Logger
		tracer, metrics, events = t.Tracer, t.Metrics, t.Events
	}
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Importer == nil {
		opts.Importer = imports.NewManager(
			imports.WithLogger(logger),
			imports.WithTracer(tracer),
			imports.WithMetrics(metrics),
			imports.WithEvents(events),
		)
	}
	if opts.Conditions == nil {
		opts.Conditions = config.NewConditionEvaluator(config.WithCapabilities(opts.Importer))
	}

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithMetrics(metrics),
		registry.WithEvents(events),
	)
	driverOpts := append([]lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithTracer(tracer),
		lifecycle.WithMetrics(metrics),
		lifecycle.WithEvents(events),
	}, opts.DriverOptions...)

	app := &App{
		Registry: reg,
		Driver:   lifecycle.NewDriver(reg, driverOpts...),
		Importer: opts.Importer,
		Policy:   opts.Policy,
		opts:     opts,
		logger:   logger.With().Str("component", "bootstrap").Logger(),
		metrics:  metrics,
		events:   events,
	}

	var problems []error

	services, requirements, err := loadManifests(opts)
	problems = append(problems, err...)
	app.Services, app.Requirements = services, requirements

	if services != nil {
		problems = append(problems, app.register(ctx, services)...)
		if err := reg.Validate(); err != nil {
			problems = append(problems, err)
		}
	}

	if !opts.DisablePolicies {
		if err := app.evaluatePolicies(ctx); err != nil {
			problems = append(problems, err)
		}
	}

	var instructions string
	if requirements != nil {
		missing, err := app.checkDependencies(ctx, requirements)
		if err != nil {
			problems = append(problems, err)
		}
		instructions = depcheck.GetInstallationInstructions(missing)
	}

	if len(problems) > 0 {
		app.logger.Error().Int("problems", len(problems)).Msg("Bootstrap failed")
		return app, &Error{Problems: problems, Instructions: instructions}
	}

	app.logger.Info().
		Int("services", reg.Len()).
		Int("skipped", len(app.Skipped)).
		Msg("Bootstrap complete")
	return app, nil
}

func loadManifests(opts Options) (*config.ServicesManifest, *config.RequirementsManifest, []error) {
	var problems []error

	services := opts.Services
	if services == nil && opts.ServicesPath != "" {
		m, err := config.LoadServicesManifest(opts.ServicesPath)
		if err != nil {
			problems = append(problems, err)
		} else {
			services = m
		}
	}

	requirements := opts.Requirements
	if requirements == nil && opts.RequirementsPath != "" {
		m, err := config.LoadRequirementsManifest(opts.RequirementsPath)
		if err != nil {
			problems = append(problems, err)
		} else {
			requirements = m
		}
	}
	return services, requirements, problems
}

// register evaluates conditions, resolves implementations and registers
// factories in manifest order.
func (a *App) register(ctx context.Context, manifest *config.ServicesManifest) []error {
	var problems []error

	for _, entry := range manifest.Services {
		enabled, err := a.opts.Conditions.Evaluate(ctx, entry.When, map[string]any{
			"service": entry.Name,
			"config":  entry.Config,
		})
		if err != nil {
			problems = append(problems, registry.NewServiceRegistrationError(entry.Name, err.Error()))
			continue
		}
		if !enabled {
			a.logger.Info().Str("service", entry.Name).Str("when", entry.When).Msg("Service disabled by condition")
			a.Skipped = append(a.Skipped, entry.Name)
			continue
		}

		ctor, ok := a.opts.Catalog.Lookup(entry.Implementation)
		if !ok {
			if entry.Optional {
				a.logger.Warn().
					Str("service", entry.Name).
					Str("implementation", entry.Implementation).
					Msg("Optional service implementation unavailable, skipping")
				a.Skipped = append(a.Skipped, entry.Name)
				continue
			}
			problems = append(problems, registry.NewServiceRegistrationError(entry.Name,
				fmt.Sprintf("unknown implementation %q", entry.Implementation)))
			continue
		}

		cfg := entry.ServiceConfig()
		factory := func(ctx context.Context, r *registry.Registry) (any, error) {
			return ctor(ctx, Deps{
				Registry: r,
				Imports:  a.Importer,
				Logger:   a.logger.With().Str("service", cfg.Name).Logger(),
			}, cfg)
		}
		if err := a.Registry.RegisterConfig(cfg, factory); err != nil {
			problems = append(problems, err)
		}
	}
	return problems
}

func (a *App) evaluatePolicies(ctx context.Context) error {
	if a.Policy == nil {
		engine, err := policy.NewEngine(a.logger, policy.WithMetrics(a.metrics), policy.WithEvents(a.events))
		if err != nil {
			return err
		}
		a.Policy = engine
	}

	res, err := a.Policy.Evaluate(ctx, a.Registry.Infos())
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	a.PolicyResult = res

	for _, w := range res.Warnings {
		a.logger.Warn().Str("policy", w.Policy).Str("service", w.Service).Msg(w.Message)
	}
	if res.Allowed {
		return nil
	}
	violations := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		violations = append(violations, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return &PolicyError{Violations: violations}
}

func (a *App) checkDependencies(ctx context.Context, requirements *config.RequirementsManifest) ([]depcheck.MissingItem, error) {
	opts := []depcheck.Option{
		depcheck.WithLogger(a.logger),
		depcheck.WithMetrics(a.metrics),
		depcheck.WithEvents(a.events),
	}
	if len(a.opts.DotEnv) > 0 {
		opts = append(opts, depcheck.WithDotEnv(a.opts.DotEnv...))
	}

	v, err := depcheck.New(requirements, a.Importer, opts...)
	if err != nil {
		return nil, err
	}
	res := v.ValidateAll(ctx)

	a.mu.Lock()
	a.validation = res
	a.mu.Unlock()

	if res.IsValid {
		return nil, nil
	}
	return res.MissingRequired, &DependencyError{Missing: res.MissingRequired}
}

// Validation returns the latest dependency validation, or nil when no
// requirements manifest was given.
func (a *App) Validation() *depcheck.ValidationResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validation
}

// Start initializes every registered service in dependency order.
func (a *App) Start(ctx context.Context) (*lifecycle.StartReport, error) {
	return a.Driver.Start(ctx)
}

// Stop shuts down whatever Start initialized.
func (a *App) Stop(ctx context.Context) []error {
	return a.Driver.Stop(ctx)
}
