package policy

import (
	"time"

	"github.com/openfroyo/servicecore/pkg/registry"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a bootstrap.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a bootstrap.
	SeverityError Severity = "error"

	// SeverityCritical blocks a bootstrap.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails evaluation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module. Its package must define a "deny" set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny entries that carry no severity of their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is one deny entry produced by a policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Service  string   `json:"service,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a graph.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking entries.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking entries, including policies that failed to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// Evaluated lists the policies that ran, in name order.
	Evaluated []string `json:"evaluated"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// ServiceInput is the policy view of one registered service.
type ServiceInput struct {
	Name         string         `json:"name"`
	Dependencies []string       `json:"dependencies"`
	ClassPath    string         `json:"class_path,omitempty"`
	Singleton    bool           `json:"singleton"`
	Layer        string         `json:"layer,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// Input is the document policies see as "input".
type Input struct {
	Services []ServiceInput `json:"services"`

	// Edges are [dependent, dependency] pairs in registration order.
	Edges [][2]string `json:"edges"`
}

// NewInput projects registry snapshots into a policy input. The layer of a
// service is read from its "layer" config key.
func NewInput(services []registry.ServiceInfo) *Input {
	in := &Input{
		Services: make([]ServiceInput, 0, len(services)),
		Edges:    [][2]string{},
	}
	for _, svc := range services {
		deps := svc.Dependencies
		if deps == nil {
			deps = []string{}
		}
		layer, _ := svc.Config["layer"].(string)
		in.Services = append(in.Services, ServiceInput{
			Name:         svc.Name,
			Dependencies: deps,
			ClassPath:    svc.ClassPath,
			Singleton:    svc.IsSingleton,
			Layer:        layer,
			Config:       svc.Config,
		})
		for _, dep := range deps {
			in.Edges = append(in.Edges, [2]string{svc.Name, dep})
		}
	}
	return in
}
