package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultConditionTimeout bounds a single condition evaluation.
const DefaultConditionTimeout = time.Second

// maxConditionSteps caps the work a condition may do.
const maxConditionSteps = 100_000

// CapabilityChecker reports whether an optional capability can be loaded.
type CapabilityChecker interface {
	Available(ctx context.Context, module string) bool
}

// ConditionEvaluator evaluates Starlark "when" expressions on service entries.
type ConditionEvaluator struct {
	timeout      time.Duration
	lookupEnv    func(string) (string, bool)
	capabilities CapabilityChecker
}

// ConditionOption configures a ConditionEvaluator.
type ConditionOption func(*ConditionEvaluator)

// WithConditionTimeout overrides the evaluation timeout.
func WithConditionTimeout(d time.Duration) ConditionOption {
	return func(ce *ConditionEvaluator) {
		ce.timeout = d
	}
}

// WithConditionEnv replaces os.LookupEnv for env() and has_env().
func WithConditionEnv(lookup func(string) (string, bool)) ConditionOption {
	return func(ce *ConditionEvaluator) {
		ce.lookupEnv = lookup
	}
}

// WithCapabilities backs the capability() builtin.
func WithCapabilities(checker CapabilityChecker) ConditionOption {
	return func(ce *ConditionEvaluator) {
		ce.capabilities = checker
	}
}

// NewConditionEvaluator creates an evaluator reading the process environment.
func NewConditionEvaluator(opts ...ConditionOption) *ConditionEvaluator {
	ce := &ConditionEvaluator{
		timeout:   DefaultConditionTimeout,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(ce)
	}
	return ce
}

// Evaluate reports the truth value of expr. An empty expression is true.
// vars are exposed to the expression as predeclared names.
func (ce *ConditionEvaluator) Evaluate(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, ce.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "condition",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxConditionSteps)

	env, err := ce.predeclared(evalCtx, vars)
	if err != nil {
		return false, err
	}

	type outcome struct {
		value starlark.Value
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := starlark.Eval(thread, "when", expr, env)
		done <- outcome{v, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("condition timeout")
		return false, fmt.Errorf("condition %q: evaluation timeout after %v", expr, ce.timeout)
	case out := <-done:
		if out.err != nil {
			return false, fmt.Errorf("condition %q: %w", expr, out.err)
		}
		return bool(out.value.Truth()), nil
	}
}

func (ce *ConditionEvaluator) predeclared(ctx context.Context, vars map[string]any) (starlark.StringDict, error) {
	env := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"env": starlark.NewBuiltin("env", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			def := ""
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
				return nil, err
			}
			if v, ok := ce.lookupEnv(name); ok {
				return starlark.String(v), nil
			}
			return starlark.String(def), nil
		}),
		"has_env": starlark.NewBuiltin("has_env", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			v, ok := ce.lookupEnv(name)
			return starlark.Bool(ok && v != ""), nil
		}),
		"capability": starlark.NewBuiltin("capability", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var module string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &module); err != nil {
				return nil, err
			}
			if ce.capabilities == nil {
				return starlark.False, nil
			}
			return starlark.Bool(ce.capabilities.Available(ctx, module)), nil
		}),
	}

	for key, val := range vars {
		if _, reserved := env[key]; reserved {
			return nil, fmt.Errorf("condition variable %q shadows a builtin", key)
		}
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		env[key] = sv
	}
	return env, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
