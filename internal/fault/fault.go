// Package fault defines the error taxonomy shared across the service. Errors
// carry a kind and the offending identifier so the API layer can render a
// precise status code and message without string matching.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidInput
	KindIndexUnavailable
	KindGeneration
	KindVersionConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidInput:
		return "invalid_input"
	case KindIndexUnavailable:
		return "index_unavailable"
	case KindGeneration:
		return "generation_error"
	case KindVersionConflict:
		return "version_conflict"
	default:
		return "unknown"
	}
}

// Error pairs a taxonomy kind with the resource and name it refers to.
type Error struct {
	Kind     Kind
	Resource string
	Name     string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Err != nil:
		return fmt.Sprintf("%s %q: %s: %v", e.Resource, e.Name, e.Kind, e.Err)
	case e.Name != "":
		return fmt.Sprintf("%s %q: %s", e.Resource, e.Name, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Resource, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Resource, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(resource, name string) error {
	return &Error{Kind: KindNotFound, Resource: resource, Name: name}
}

func AlreadyExists(resource, name string) error {
	return &Error{Kind: KindAlreadyExists, Resource: resource, Name: name}
}

func InvalidInput(resource, name string) error {
	return &Error{Kind: KindInvalidInput, Resource: resource, Name: name}
}

func IndexUnavailable(resource, name string, err error) error {
	return &Error{Kind: KindIndexUnavailable, Resource: resource, Name: name, Err: err}
}

func Generation(err error) error {
	return &Error{Kind: KindGeneration, Resource: "generation", Err: err}
}

func VersionConflict(resource string, err error) error {
	return &Error{Kind: KindVersionConflict, Resource: resource, Err: err}
}

// KindOf reports the taxonomy kind of err, or KindUnknown when err does not
// wrap a fault.Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsAlreadyExists(err error) bool { return KindOf(err) == KindAlreadyExists }
func IsInvalidInput(err error) bool  { return KindOf(err) == KindInvalidInput }
func IsGeneration(err error) bool    { return KindOf(err) == KindGeneration }
