// Package apperr defines the error taxonomy shared by the ingestion pipeline,
// the API client and the approval ledger.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline must react to it.
type Kind string

const (
	// KindValidation is a client-side precondition failure. It never reaches the network.
	KindValidation Kind = "validation"
	// KindUploadRejected covers files refused before or by the upload call.
	KindUploadRejected Kind = "upload_rejected"
	// KindSequence is a stage entered or advanced out of order.
	KindSequence Kind = "sequence_violation"
	// KindServerContract is a response missing fields the client relies on.
	KindServerContract Kind = "server_contract_violation"
	// KindRemote is a network or service failure.
	KindRemote Kind = "remote_failure"
)

// Error is an application error carrying its Kind.
type Error struct {
	Kind    Kind
	Message string
	// Status is the upstream HTTP status for remote failures, zero otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrValidation) matches any validation error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels, for use with errors.Is only.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrUploadRejected    = &Error{Kind: KindUploadRejected}
	ErrSequenceViolation = &Error{Kind: KindSequence}
	ErrServerContract    = &Error{Kind: KindServerContract}
	ErrRemoteFailure     = &Error{Kind: KindRemote}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func UploadRejected(format string, args ...any) *Error {
	return &Error{Kind: KindUploadRejected, Message: fmt.Sprintf(format, args...)}
}

func Sequence(format string, args ...any) *Error {
	return &Error{Kind: KindSequence, Message: fmt.Sprintf(format, args...)}
}

func ServerContract(format string, args ...any) *Error {
	return &Error{Kind: KindServerContract, Message: fmt.Sprintf(format, args...)}
}

// Remote wraps a transport or service failure. message is the server-provided text when available.
func Remote(status int, message string, err error) *Error {
	if message == "" {
		message = "request failed"
		if status > 0 {
			message = fmt.Sprintf("request failed with status %d", status)
		}
	}
	return &Error{Kind: KindRemote, Message: message, Status: status, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing message of err without wrapped causes.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
