package backend

import (
	"errors"
	"fmt"

	"github.com/roach88/ethos/internal/ir"
)

// ParseError reports a raw schema that could not be read or is not
// minimally well-formed.
type ParseError struct {
	Implementation ir.Implementation
	Locator        string
	Err            error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s schema %s: %v", e.Implementation, e.Locator, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownImplementationError is returned by Registry.Lookup.
type UnknownImplementationError struct {
	Implementation ir.Implementation
	Known          []ir.Implementation
}

func (e *UnknownImplementationError) Error() string {
	return fmt.Sprintf("unknown implementation %q (registered: %v)", e.Implementation, e.Known)
}

// ErrRegistrySealed is returned by Register after Seal.
var ErrRegistrySealed = errors.New("backend registry is sealed")

// ErrDuplicateImplementation is returned when an identifier is registered twice.
var ErrDuplicateImplementation = errors.New("implementation already registered")

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsUnknownImplementation reports whether err is (or wraps) an
// UnknownImplementationError.
func IsUnknownImplementation(err error) bool {
	var ue *UnknownImplementationError
	return errors.As(err, &ue)
}
