// Package apperr classifies failures into the kinds callers act on.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies how a caller should react to an error.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindValidation is malformed or duplicate input. Not retryable.
	KindValidation
	// KindNotFound is a reference to a room or user that does not exist.
	KindNotFound
	// KindAuth is a missing or invalid credential, or missing room membership.
	KindAuth
	// KindDependency is a failed persistence, media, presence or broker call.
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case len(e.Fields) > 0:
		b.WriteString("validation failed (")
		b.WriteString(strings.Join(e.fieldNames(), ", "))
		b.WriteString(")")
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) fieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validation reports field level problems, e.g. {"name": "Chatroom already exists"}.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Fields: fields}
}

// NotFound reports a missing room or user.
func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: what + " not found"}
}

// Auth reports a rejected credential or missing membership.
func Auth(op, msg string) *Error {
	return &Error{Kind: KindAuth, Op: op, Msg: msg}
}

// Dependency wraps a failed collaborator call.
func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Bare context deadline errors count as dependency failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDependency
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return KindOf(err) == KindDependency
}

// FieldsOf returns validation fields carried by err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Wrap classifies err as a dependency failure unless it is already classified.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return Dependency(op, err)
}
