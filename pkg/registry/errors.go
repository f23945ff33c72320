package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies registry and lifecycle failures for programmatic handling.
type ErrorCode string

const (
	// CodeServiceNotAvailable is returned when a name has no registration.
	CodeServiceNotAvailable ErrorCode = "SERVICE_NOT_AVAILABLE"

	// CodeCircularDependency is returned when the dependency graph contains a cycle.
	CodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// CodeMissingDependency is returned when a declared dependency is not registered.
	CodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// CodeServiceRegistration is returned for duplicate or malformed registrations.
	CodeServiceRegistration ErrorCode = "SERVICE_REGISTRATION"

	// CodeServiceInitialization is returned when an initialization hook fails.
	CodeServiceInitialization ErrorCode = "SERVICE_INITIALIZATION"

	// CodeServiceRequired is returned when a caller requires a service that cannot be provided.
	CodeServiceRequired ErrorCode = "SERVICE_REQUIRED"

	// CodeShutdownTimeout is returned when a shutdown hook overruns its deadline.
	CodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT"

	// CodeTypeMismatch is returned when a resolved instance has an unexpected type.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"
)

// Error is a classified registry error with service context.
type Error struct {
	// Code is the error classification.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Service is the service the error refers to, if any.
	Service string `json:"service,omitempty"`

	// Context names the caller or component that triggered the error.
	Context string `json:"context,omitempty"`

	// Path is the dependency cycle for circular dependency errors.
	Path []string `json:"path,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("] ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext records the caller that triggered the error.
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// Sentinels for errors.Is.
var (
	ErrServiceNotAvailable   = &Error{Code: CodeServiceNotAvailable}
	ErrCircularDependency    = &Error{Code: CodeCircularDependency}
	ErrMissingDependency     = &Error{Code: CodeMissingDependency}
	ErrServiceRegistration   = &Error{Code: CodeServiceRegistration}
	ErrServiceInitialization = &Error{Code: CodeServiceInitialization}
	ErrServiceRequired       = &Error{Code: CodeServiceRequired}
	ErrShutdownTimeout       = &Error{Code: CodeShutdownTimeout}
	ErrTypeMismatch          = &Error{Code: CodeTypeMismatch}
)

// NewServiceNotAvailableError creates an error for an unregistered service name.
func NewServiceNotAvailableError(name string) *Error {
	return &Error{
		Code:    CodeServiceNotAvailable,
		Message: fmt.Sprintf("service %q is not registered", name),
		Service: name,
	}
}

// NewCircularDependencyError creates an error carrying the full cycle path,
// which starts and ends with the same service.
func NewCircularDependencyError(path []string) *Error {
	p := append([]string(nil), path...)
	e := &Error{
		Code:    CodeCircularDependency,
		Message: fmt.Sprintf("circular dependency detected: %s", FormatCycle(p)),
		Path:    p,
	}
	if len(p) > 0 {
		e.Service = p[0]
	}
	return e
}

// NewMissingDependencyError creates an error naming both the dependent and the absent dependency.
func NewMissingDependencyError(service, dependency string) *Error {
	return &Error{
		Code:    CodeMissingDependency,
		Message: fmt.Sprintf("service %q depends on unregistered service %q", service, dependency),
		Service: service,
		Path:    []string{service, dependency},
	}
}

// NewServiceRegistrationError creates an error for a rejected registration.
func NewServiceRegistrationError(name, message string) *Error {
	return &Error{
		Code:    CodeServiceRegistration,
		Message: message,
		Service: name,
	}
}

// NewServiceInitializationError creates an error for a failed initialization hook.
func NewServiceInitializationError(name string, cause error) *Error {
	return &Error{
		Code:    CodeServiceInitialization,
		Message: fmt.Sprintf("service %q failed to initialize", name),
		Service: name,
		Err:     cause,
	}
}

// NewServiceRequiredError creates an error for a mandatory service that could not be provided.
// The message embeds both the service name and the requesting context.
func NewServiceRequiredError(name, context string, cause error) *Error {
	msg := fmt.Sprintf("service %q is required", name)
	if context != "" {
		msg = fmt.Sprintf("service %q is required by %s", name, context)
	}
	return &Error{
		Code:    CodeServiceRequired,
		Message: msg,
		Service: name,
		Context: context,
		Err:     cause,
	}
}

// NewShutdownTimeoutError creates an error for a shutdown hook abandoned after timeout.
func NewShutdownTimeoutError(name string, timeout time.Duration) *Error {
	return &Error{
		Code:    CodeShutdownTimeout,
		Message: fmt.Sprintf("service %q did not shut down within %s", name, timeout),
		Service: name,
	}
}

// NewTypeMismatchError creates an error for an instance that does not have the requested type.
func NewTypeMismatchError(name, want string, got any) *Error {
	return &Error{
		Code:    CodeTypeMismatch,
		Message: fmt.Sprintf("service %q is %T, not %s", name, got, want),
		Service: name,
	}
}

// IsServiceNotAvailable returns true if err is a service-not-available error.
func IsServiceNotAvailable(err error) bool {
	return hasCode(err, CodeServiceNotAvailable)
}

// IsCircularDependency returns true if err is a circular dependency error.
func IsCircularDependency(err error) bool {
	return hasCode(err, CodeCircularDependency)
}

// IsMissingDependency returns true if err is a missing dependency error.
func IsMissingDependency(err error) bool {
	return hasCode(err, CodeMissingDependency)
}

// IsServiceRegistration returns true if err is a registration error.
func IsServiceRegistration(err error) bool {
	return hasCode(err, CodeServiceRegistration)
}

// IsServiceInitialization returns true if err is an initialization error.
func IsServiceInitialization(err error) bool {
	return hasCode(err, CodeServiceInitialization)
}

// IsServiceRequired returns true if err is a service-required error.
func IsServiceRequired(err error) bool {
	return hasCode(err, CodeServiceRequired)
}

// IsShutdownTimeout returns true if err is a shutdown timeout error.
func IsShutdownTimeout(err error) bool {
	return hasCode(err, CodeShutdownTimeout)
}

// IsTypeMismatch returns true if err reports a resolved instance of the wrong type.
func IsTypeMismatch(err error) bool {
	return hasCode(err, CodeTypeMismatch)
}

func hasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// FormatCycle joins a cycle path for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// ValidationReport aggregates every graph problem found in one validation pass.
type ValidationReport struct {
	// Missing lists declared dependencies that are not registered.
	Missing []MissingDependency `json:"missing,omitempty"`

	// Cycles lists every distinct cycle, each closed on its first element.
	Cycles [][]string `json:"cycles,omitempty"`

	// Errors holds the classified errors in report order.
	Errors []error `json:"-"`
}

// MissingDependency names a dependent and the absent service it declares.
type MissingDependency struct {
	Service    string `json:"service"`
	Dependency string `json:"dependency"`
}

// NewValidationReport folds classified graph errors into a report, or returns nil for none.
func NewValidationReport(errs []error) *ValidationReport {
	if len(errs) == 0 {
		return nil
	}
	report := &ValidationReport{Errors: errs}
	for _, err := range errs {
		var e *Error
		if !errors.As(err, &e) {
			continue
		}
		switch e.Code {
		case CodeMissingDependency:
			report.Missing = append(report.Missing, MissingDependency{Service: e.Path[0], Dependency: e.Path[1]})
		case CodeCircularDependency:
			report.Cycles = append(report.Cycles, e.Path)
		}
	}
	return report
}

// Error implements the error interface with one problem per line.
func (r *ValidationReport) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dependency validation failed with %d error(s)", len(r.Errors))
	for _, m := range r.Missing {
		fmt.Fprintf(&sb, "\n  missing: %s requires %s", m.Service, m.Dependency)
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(&sb, "\n  cycle: %s", FormatCycle(c))
	}
	for _, err := range r.Errors {
		if IsMissingDependency(err) || IsCircularDependency(err) {
			continue
		}
		fmt.Fprintf(&sb, "\n  %s", err)
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (r *ValidationReport) Unwrap() []error {
	return r.Errors
}

// MissingNames returns the distinct absent dependency names in report order.
func (r *ValidationReport) MissingNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range r.Missing {
		if !seen[m.Dependency] {
			seen[m.Dependency] = true
			names = append(names, m.Dependency)
		}
	}
	return names
}
