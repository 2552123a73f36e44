package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation so callers can decide whether a retry
// makes sense. The string values double as API error codes.
type Kind string

const (
	NotFound      Kind = "not_found"
	Unauthorized  Kind = "unauthorized"
	InvalidState  Kind = "invalid_state"
	InvalidInput  Kind = "invalid_input"
	Expired       Kind = "expired"
	DisputeLocked Kind = "dispute_locked"
	Overflow      Kind = "overflow"
	Custody       Kind = "custody"
)

// Error is the classified failure returned by engine operations. Field names
// the offending input or record attribute when one exists.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Fieldf builds an error attributed to a specific field.
func Fieldf(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the classified kind, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is a classified failure of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
