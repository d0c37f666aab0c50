// Package apperr classifies service failures so transports can map them to responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure classes surfaced to clients.
type Kind string

const (
	KindInternal     Kind = "internal"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation"
	KindUpstream     Kind = "upstream"
	KindConflict     Kind = "conflict"
)

// Error carries a kind, a dotted code of the form <operation>.<reason>, and the cause.
type Error struct {
	kind   Kind
	code   string
	reason string
	err    error
}

// New builds an Error for the operation and reason.
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{
		kind:   kind,
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind reports the failure class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code reports the dotted operation.reason code.
func (e *Error) Code() string {
	return e.code
}

// Reason reports the short reason segment of the code.
func (e *Error) Reason() string {
	return e.reason
}

// KindOf returns the kind of the first Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

// Is reports whether err carries the provided kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As extracts the first Error in the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
