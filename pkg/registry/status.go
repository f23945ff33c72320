package registry

import "fmt"

// ServiceStatus represents the lifecycle state of a registered service.
type ServiceStatus string

const (
	// StatusNotRegistered indicates the service is unknown to any registry.
	StatusNotRegistered ServiceStatus = "not_registered"

	// StatusRegistered indicates the service is registered but not yet initialized.
	StatusRegistered ServiceStatus = "registered"

	// StatusInitializing indicates the initialization hook is running.
	StatusInitializing ServiceStatus = "initializing"

	// StatusInitialized indicates the service completed initialization and is ready.
	StatusInitialized ServiceStatus = "initialized"

	// StatusError indicates the initialization hook failed.
	StatusError ServiceStatus = "error"

	// StatusShutdown indicates the service has been shut down.
	StatusShutdown ServiceStatus = "shutdown"
)

// transitions lists the allowed successor states of each status.
// Error -> Registered is the explicit operator reset.
var transitions = map[ServiceStatus][]ServiceStatus{
	StatusNotRegistered: {StatusRegistered},
	StatusRegistered:    {StatusInitializing},
	StatusInitializing:  {StatusInitialized, StatusError},
	StatusInitialized:   {StatusShutdown},
	StatusError:         {StatusShutdown, StatusRegistered},
	StatusShutdown:      {},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s ServiceStatus) CanTransitionTo(next ServiceStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (s ServiceStatus) IsTerminal() bool {
	return s == StatusShutdown
}

// IsReady returns true if the service completed initialization.
func (s ServiceStatus) IsReady() bool {
	return s == StatusInitialized
}

// Validate checks if the status is a known value.
func (s ServiceStatus) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("invalid service status: %s", s)
	}
	return nil
}

// String implements fmt.Stringer.
func (s ServiceStatus) String() string {
	return string(s)
}
