package registry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "not available",
			err:  NewServiceNotAvailableError("cache"),
			want: `[SERVICE_NOT_AVAILABLE] service "cache" is not registered`,
		},
		{
			name: "cycle",
			err:  NewCircularDependencyError([]string{"A", "B", "A"}),
			want: "[CIRCULAR_DEPENDENCY] circular dependency detected: A -> B -> A",
		},
		{
			name: "required with context",
			err:  NewServiceRequiredError("vector_store", "search endpoint", nil),
			want: `[SERVICE_REQUIRED] service "vector_store" is required by search endpoint`,
		},
		{
			name: "initialization with cause",
			err:  NewServiceInitializationError("db", errors.New("dial tcp: refused")),
			want: `[SERVICE_INITIALIZATION] service "db" failed to initialize: dial tcp: refused`,
		},
		{
			name: "shutdown timeout",
			err:  NewShutdownTimeoutError("db", 2*time.Second),
			want: `[SHUTDOWN_TIMEOUT] service "db" did not shut down within 2s`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	inner := NewServiceNotAvailableError("config")
	required := NewServiceRequiredError("config", "cache", inner)
	wrapped := fmt.Errorf("bootstrap: %w", required)

	assert.True(t, IsServiceRequired(wrapped))
	assert.True(t, IsServiceNotAvailable(wrapped))
	assert.False(t, IsCircularDependency(wrapped))
	assert.ErrorIs(t, wrapped, ErrServiceRequired)

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "cache", e.Context)
}

func TestValidationReport(t *testing.T) {
	assert.Nil(t, NewValidationReport(nil))

	report := NewValidationReport([]error{
		NewMissingDependencyError("api", "ghost"),
		NewMissingDependencyError("worker", "ghost"),
		NewCircularDependencyError([]string{"A", "B", "A"}),
	})

	assert.Equal(t, []string{"ghost"}, report.MissingNames())
	assert.Len(t, report.Cycles, 1)
	assert.ErrorIs(t, report, ErrCircularDependency)
	assert.ErrorIs(t, report, ErrMissingDependency)
	assert.Contains(t, report.Error(), "3 error(s)")
}
