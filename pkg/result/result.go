// Package result provides a tagged success/failure value for operations whose
// failure is an expected outcome rather than a programmer error.
package result

import "fmt"

// Result holds either a success value of type T or an error value of type E.
// The zero value is a failure carrying the zero E.
type Result[T, E any] struct {
	value T
	err   E
	ok    bool
}

// Success wraps a value.
func Success[T, E any](value T) Result[T, E] {
	return Result[T, E]{value: value, ok: true}
}

// Failure wraps an error value.
func Failure[T, E any](err E) Result[T, E] {
	return Result[T, E]{err: err}
}

// FromPair adapts the common (value, error) return shape.
func FromPair[T any](value T, err error) Result[T, error] {
	if err != nil {
		return Failure[T](err)
	}
	return Success[T, error](value)
}

// IsSuccess reports whether the result carries a value.
func (r Result[T, E]) IsSuccess() bool {
	return r.ok
}

// IsError reports whether the result carries an error value.
func (r Result[T, E]) IsError() bool {
	return !r.ok
}

// Value returns the success value and true, or the zero T and false.
func (r Result[T, E]) Value() (T, bool) {
	return r.value, r.ok
}

// Error returns the error value and true, or the zero E and false.
func (r Result[T, E]) Error() (E, bool) {
	if r.ok {
		var zero E
		return zero, false
	}
	return r.err, true
}

// ValueOr returns the success value or def when the result is a failure.
func (r Result[T, E]) ValueOr(def T) T {
	if r.ok {
		return r.value
	}
	return def
}

// Unwrap returns the success value and panics on failure.
func (r Result[T, E]) Unwrap() T {
	if !r.ok {
		panic(fmt.Sprintf("result: unwrap on failure: %v", r.err))
	}
	return r.value
}

// String implements fmt.Stringer.
func (r Result[T, E]) String() string {
	if r.ok {
		return fmt.Sprintf("Success(%v)", r.value)
	}
	return fmt.Sprintf("Failure(%v)", r.err)
}

// Map applies fn to a success value and passes failures through unchanged.
func Map[T, U, E any](r Result[T, E], fn func(T) U) Result[U, E] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return Success[U, E](fn(r.value))
}

// AndThen chains an operation that may itself fail.
func AndThen[T, U, E any](r Result[T, E], fn func(T) Result[U, E]) Result[U, E] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return fn(r.value)
}
