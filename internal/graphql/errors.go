package graphql

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the four failure classes. Every concrete error type
// below reports itself as one of these through errors.Is.
var (
	ErrRemote          = errors.New("remote endpoint failure")
	ErrSchema          = errors.New("schema error")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// RemoteError is a network or transport failure reaching the GraphQL endpoint.
type RemoteError struct {
	Op         string // "introspection", "sdl", "query", ...
	StatusCode int    // 0 when no HTTP response was received
	Hint       string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" request failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status code: %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Hint != "" {
		b.WriteString("; ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// SchemaError reports a disabled introspection or a malformed schema payload.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema error: %s: %v", e.Reason, e.Err)
	}
	return "schema error: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// NotFoundError reports a type, entity or root field missing from the snapshot.
type NotFoundError struct {
	Kind string // "type", "entity", "root type"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidArgumentError reports caller input failing shape or non-empty checks.
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// NewInvalidArgument builds an InvalidArgumentError.
func NewInvalidArgument(arg, reason string) error {
	return &InvalidArgumentError{Arg: arg, Reason: reason}
}

// NewSchemaError builds a SchemaError, optionally wrapping a cause.
func NewSchemaError(reason string, err error) error {
	return &SchemaError{Reason: reason, Err: err}
}
