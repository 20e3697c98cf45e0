// Package fault classifies orchestrator errors so callers can decide how a
// failure surfaces: session log, diagnostic log, or suppressed.
package fault

import (
	"errors"
	"fmt"
)

// Class partitions failures by how they are reported and recovered.
type Class string

const (
	// ClassTransport marks open/write/publish failures. Recoverable; the
	// session logs ERROR and returns to idle.
	ClassTransport Class = "transport"
	// ClassUnauthorized marks pairing-tool calls refused for lack of
	// elevated privilege. Suppressed from user-visible logs while the
	// pairing feature is disabled.
	ClassUnauthorized Class = "unauthorized"
	// ClassConfig marks preconditions that block an attempt before any I/O,
	// like an empty serial path or an unresolved paired port.
	ClassConfig Class = "config"
	// ClassPersistence marks workspace store failures. Reported on the
	// diagnostic channel only, never a session log.
	ClassPersistence Class = "persistence"
	// ClassUnknown is returned by ClassOf for unclassified errors.
	ClassUnknown Class = ""
)

// Error wraps a cause with a class and the operation that failed.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op != "":
		return e.Op
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Class)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap classifies err under class with an operation label. A nil err yields
// an error carrying only the label so callers never lose the classification.
func Wrap(err error, class Class, op string) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

func Transport(err error, op string) *Error {
	return Wrap(err, ClassTransport, op)
}

func Unauthorized(err error, op string) *Error {
	return Wrap(err, ClassUnauthorized, op)
}

func Config(err error, op string) *Error {
	return Wrap(err, ClassConfig, op)
}

func Persistence(err error, op string) *Error {
	return Wrap(err, ClassPersistence, op)
}

// Configf builds a cause-less configuration error from a format string.
func Configf(format string, args ...any) *Error {
	return &Error{Class: ClassConfig, Op: fmt.Sprintf(format, args...)}
}

// Transportf builds a cause-less transport error from a format string.
func Transportf(format string, args ...any) *Error {
	return &Error{Class: ClassTransport, Op: fmt.Sprintf(format, args...)}
}

// ClassOf walks the error chain and returns the first classification found.
func ClassOf(err error) Class {
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Class
	}
	return ClassUnknown
}

// IsClass reports whether the error chain carries the given class.
func IsClass(err error, class Class) bool {
	return ClassOf(err) == class
}
