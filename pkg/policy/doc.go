// Package policy evaluates architecture rules over the service dependency graph
// using Open Policy Agent.
//
// Each policy is a Rego module whose package defines a "deny" set. Entries are
// either plain strings or objects of the form:
//
//	{"message": "...", "service": "name", "severity": "error"}
//
// Policies see the graph as input:
//
//	{
//	  "services": [{"name": "cache", "dependencies": ["config"], "class_path": "...", "singleton": true, "layer": "core"}],
//	  "edges":    [["cache", "config"]]
//	}
//
// The layer of a service comes from the "layer" key of its config. Entries with
// severity error or critical make a Result disallowed; anything else is a warning.
//
// Built-in policies:
//
//   - no-self-dependency: a service may not list itself as a dependency
//   - service-naming: names should be snake_case (warning)
//   - layering: nothing depends on ui services, core does not depend on business
//
// Additional policies are loaded from .rego or .json files:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	res, err := eng.Evaluate(ctx, reg.Infos())
package policy
