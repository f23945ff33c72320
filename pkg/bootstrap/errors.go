package bootstrap

import (
	"fmt"
	"strings"

	"github.com/openfroyo/servicecore/pkg/depcheck"
)

// Error carries every problem found while bootstrapping.
type Error struct {
	Problems []error

	// Instructions is remediation text for missing packages and variables.
	Instructions string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bootstrap failed with %d problem(s)", len(e.Problems))
	for _, p := range e.Problems {
		for _, line := range strings.Split(p.Error(), "\n") {
			b.WriteString("\n  ")
			b.WriteString(line)
		}
	}
	if e.Instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(e.Instructions, "\n"))
	}
	return b.String()
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Problems
}

// DependencyError reports required packages or variables that are absent.
type DependencyError struct {
	Missing []depcheck.MissingItem
}

func (e *DependencyError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, item := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s/%s %s", item.Service, item.Kind, item.Name))
	}
	return "missing required dependencies: " + strings.Join(parts, ", ")
}

// PolicyError reports blocking architecture policy violations.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "policy violations: " + strings.Join(e.Violations, "; ")
}
