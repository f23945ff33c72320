package policy

// Built-in policy names.
const (
	PolicyNoSelfDependency = "no-self-dependency"
	PolicyServiceNaming    = "service-naming"
	PolicyLayering         = "layering"
)

// GetBuiltinPolicies returns the policies every engine starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		noSelfDependencyPolicy(),
		serviceNamingPolicy(),
		layeringPolicy(),
	}
}

func noSelfDependencyPolicy() Policy {
	return Policy{
		Name:        PolicyNoSelfDependency,
		Description: "A service must not list itself as a dependency",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package servicecore.policies.self_dependency

import rego.v1

deny contains violation if {
	some svc in input.services
	svc.name in svc.dependencies
	violation := {
		"message": sprintf("service '%s' depends on itself", [svc.name]),
		"service": svc.name,
		"severity": "error",
	}
}
`,
	}
}

func serviceNamingPolicy() Policy {
	return Policy{
		Name:        PolicyServiceNaming,
		Description: "Service names are snake_case identifiers",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package servicecore.policies.naming

import rego.v1

deny contains violation if {
	some svc in input.services
	not regex.match("^[a-z][a-z0-9_]*$", svc.name)
	violation := {
		"message": sprintf("service name '%s' should be snake_case", [svc.name]),
		"service": svc.name,
		"severity": "warning",
	}
}
`,
	}
}

// layeringPolicy reads each service's "layer" config key. Nothing may depend on
// the ui layer, and core may not reach up into business.
func layeringPolicy() Policy {
	return Policy{
		Name:        PolicyLayering,
		Description: "Dependencies must point down the ui, business, core layering",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package servicecore.policies.layering

import rego.v1

layer_of(name) := layer if {
	some svc in input.services
	svc.name == name
	layer := svc.layer
}

deny contains violation if {
	some edge in input.edges
	layer_of(edge[1]) == "ui"
	violation := {
		"message": sprintf("service '%s' depends on ui service '%s'", [edge[0], edge[1]]),
		"service": edge[0],
		"severity": "error",
	}
}

deny contains violation if {
	some edge in input.edges
	layer_of(edge[0]) == "core"
	layer_of(edge[1]) == "business"
	violation := {
		"message": sprintf("core service '%s' depends on business service '%s'", [edge[0], edge[1]]),
		"service": edge[0],
		"severity": "error",
	}
}
`,
	}
}
