package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes loader failures.
type ErrorKind string

const (
	KindCredentialLoad      ErrorKind = "CredentialLoadError"
	KindObjectNotFound      ErrorKind = "ObjectNotFoundError"
	KindAccessDenied        ErrorKind = "AccessDeniedError"
	KindTransientResolution ErrorKind = "TransientResolutionError"
	KindStaging             ErrorKind = "StagingError"
	KindSubmission          ErrorKind = "SubmissionError"
	KindTransform           ErrorKind = "TransformError"
	KindParse               ErrorKind = "ParseError"

	// KindTransient marks a retryable fault before the retry budget is spent.
	// It never reaches the report on its own.
	KindTransient ErrorKind = "TransientError"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrCredentialLoad      = &Error{Kind: KindCredentialLoad}
	ErrObjectNotFound      = &Error{Kind: KindObjectNotFound}
	ErrAccessDenied        = &Error{Kind: KindAccessDenied}
	ErrTransientResolution = &Error{Kind: KindTransientResolution}
	ErrStaging             = &Error{Kind: KindStaging}
	ErrSubmission          = &Error{Kind: KindSubmission}
	ErrTransform           = &Error{Kind: KindTransform}
	ErrParse               = &Error{Kind: KindParse}
	ErrTransient           = &Error{Kind: KindTransient}
)

// Error is a classified loader failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a classified error with a message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err stays nil.
func Wrap(kind ErrorKind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the outermost kind in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// RootKind returns the innermost reportable kind in the chain, so a
// TransformError caused by a missing object reports ObjectNotFoundError.
func RootKind(err error) ErrorKind {
	var kind ErrorKind
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != KindTransient {
			kind = e.Kind
		}
		err = errors.Unwrap(err)
	}
	return kind
}

// IsTransient reports whether err is worth retrying. Only the outermost
// classification counts: an exhausted retry wrapped in another kind is final.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransient
}
