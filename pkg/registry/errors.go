package registry

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

// Code classifies registry errors.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeNotFound               Code = "not_found"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeAlreadyRegistered      Code = "already_registered"
	CodeConfigurationInUse     Code = "configuration_in_use"
	CodeAllocationFailed       Code = "allocation_failed"
	CodeConcurrentModification Code = "concurrent_modification"
)

// Resources named in not-found errors.
const (
	ResourceConfiguration = "register_configuration"
	ResourceDocument      = "document"
)

// Error is returned by every registry operation that fails for a domain reason.
type Error struct {
	Code     Code
	Op       string
	Resource string
	ID       uint
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Resource != "" {
		b.WriteString(" (")
		b.WriteString(e.Resource)
		if e.ID != 0 {
			fmt.Fprintf(&b, " %d", e.ID)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, and by resource when target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// Sentinels for errors.Is.
var (
	ErrValidation             = &Error{Code: CodeValidation}
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrConfigurationNotFound  = &Error{Code: CodeNotFound, Resource: ResourceConfiguration}
	ErrDocumentNotFound       = &Error{Code: CodeNotFound, Resource: ResourceDocument}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrAlreadyRegistered      = &Error{Code: CodeAlreadyRegistered}
	ErrConfigurationInUse     = &Error{Code: CodeConfigurationInUse}
	ErrAllocationFailed       = &Error{Code: CodeAllocationFailed}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification}
)

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return ""
}

func validationError(op string, err error) error {
	return &Error{Code: CodeValidation, Op: op, Err: err}
}

func validationMessage(op, format string, args ...any) error {
	return &Error{Code: CodeValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func notFound(op, resource string, id uint) error {
	return &Error{Code: CodeNotFound, Op: op, Resource: resource, ID: id}
}

func invalidTransition(op string, id uint, format string, args ...any) error {
	return &Error{
		Code:     CodeInvalidTransition,
		Op:       op,
		Resource: ResourceDocument,
		ID:       id,
		Message:  fmt.Sprintf(format, args...),
	}
}

func concurrentModification(op string, id uint) error {
	return &Error{
		Code:     CodeConcurrentModification,
		Op:       op,
		Resource: ResourceDocument,
		ID:       id,
		Message:  "document was modified by another request",
	}
}

// lookupError translates storage lookups into typed errors. Validation errors
// raised by active-record lookups on a zero ID are reported as not found.
func lookupError(op, resource string, id uint, err error) error {
	var verr validation.Error
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.As(err, &verr) {
		return notFound(op, resource, id)
	}
	return fmt.Errorf("%s: error loading %s %d: %w", op, resource, id, err)
}
