// Package result holds value-or-error and present-or-absent wrappers for
// values that cross goroutine boundaries or are legitimately optional.
package result

import "errors"

// ErrNone is returned by Option.Get on an absent value.
var ErrNone = errors.New("value not present")

// Result is either a value or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps an error. A nil err is treated as success with the zero value.
func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Of builds a Result from a Go (value, error) pair.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool {
	return r.err == nil
}

func (r Result[T]) Err() error {
	return r.err
}

// Unwrap returns the value and error as a Go pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// ValueOr returns the value, or fallback on failure.
func (r Result[T]) ValueOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// Option is a value that may be absent.
type Option[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Option[T] {
	return Option[T]{value: v, ok: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsSome() bool {
	return o.ok
}

// Get returns the value, or ErrNone.
func (o Option[T]) Get() (T, error) {
	if !o.ok {
		var zero T
		return zero, ErrNone
	}
	return o.value, nil
}

// ValueOr returns the value, or fallback when absent.
func (o Option[T]) ValueOr(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.value
}

// Ptr returns a pointer to a copy of the value, or nil. Useful for JSON.
func (o Option[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.value
	return &v
}
