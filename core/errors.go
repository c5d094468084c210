package core

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	Internal ErrorKind = iota
	AlreadyExists
	NotFound
	NoDatabaseSelected
	TypeMismatch
	ConstraintViolation
	ArityMismatch
	InvalidCommand
)

func (kind ErrorKind) String() string {
	switch kind {
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	case NoDatabaseSelected:
		return "NoDatabaseSelected"
	case TypeMismatch:
		return "TypeMismatch"
	case ConstraintViolation:
		return "ConstraintViolation"
	case ArityMismatch:
		return "ArityMismatch"
	case InvalidCommand:
		return "InvalidCommand"
	default:
		return "Internal"
	}
}

// Error is a user-facing engine failure. Message is the text shown after the
// "Error: " prefix by hosts that render results as lines.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, core.ErrNotFound) matches every NotFound error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAlreadyExists       = &Error{Kind: AlreadyExists, Message: "already exists"}
	ErrNotFound            = &Error{Kind: NotFound, Message: "not found"}
	ErrNoDatabaseSelected  = &Error{Kind: NoDatabaseSelected, Message: "No database selected. Use USE database_name;"}
	ErrTypeMismatch        = &Error{Kind: TypeMismatch, Message: "type mismatch"}
	ErrConstraintViolation = &Error{Kind: ConstraintViolation, Message: "constraint violation"}
	ErrArityMismatch       = &Error{Kind: ArityMismatch, Message: "Number of values doesn't match columns."}
	ErrInvalidCommand      = &Error{Kind: InvalidCommand, Message: "invalid command"}
)

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal
// when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
