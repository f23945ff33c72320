package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/depcheck"
)

// Watch follows the manifest files the App was bootstrapped from until ctx is
// done. A changed requirements manifest is reloaded: failed imports are
// forgotten and dependencies revalidated, and onRevalidate (if set) receives
// the outcome. A changed services manifest is only reported, since registered
// services are not replaced while running.
func (a *App) Watch(ctx context.Context, debounce time.Duration, onRevalidate func(*depcheck.ValidationResult, error)) error {
	var paths []string
	for _, p := range []string{a.opts.ServicesPath, a.opts.RequirementsPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("no manifest paths to watch")
	}

	requirements := ""
	if a.opts.RequirementsPath != "" {
		abs, err := filepath.Abs(a.opts.RequirementsPath)
		if err != nil {
			return err
		}
		requirements = abs
	}

	return config.NewWatcher(a.logger, debounce).Watch(ctx, paths, func(path string) {
		if path != requirements {
			a.logger.Warn().Str("path", path).Msg("Services manifest changed, restart to apply")
			return
		}
		res, err := a.Revalidate(ctx)
		if onRevalidate != nil {
			onRevalidate(res, err)
		}
	})
}

// Revalidate reloads the requirements manifest from disk (when bootstrapped
// from a path), clears failed imports so newly installed capabilities are
// probed again, and reruns dependency validation.
func (a *App) Revalidate(ctx context.Context) (*depcheck.ValidationResult, error) {
	requirements := a.Requirements
	if a.opts.RequirementsPath != "" {
		m, err := config.LoadRequirementsManifest(a.opts.RequirementsPath)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to reload requirements manifest")
			return nil, err
		}
		requirements = m
	}
	if requirements == nil {
		return nil, nil
	}

	a.Importer.ClearFailedImports()
	missing, err := a.checkDependencies(ctx, requirements)
	if err != nil {
		a.logger.Warn().
			Str("instructions", depcheck.GetInstallationInstructions(missing)).
			Msg("Dependencies still missing after reload")
	} else {
		a.logger.Info().Msg("Dependencies revalidated")
	}
	return a.Validation(), err
}
