// Package errors defines the error taxonomy shared by the index writer, the
// segment store and the searcher. Every failure surfaced to a caller wraps
// exactly one of the sentinel kinds below so callers can branch with
// errors.Is while still getting the operation, path and cause in the message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrIOFailure       = errors.New("io failure")
	ErrCorruptSegment  = errors.New("corrupt segment")
	ErrInvalidDocument = errors.New("invalid document")
	ErrQuerySyntax     = errors.New("query syntax error")
	ErrLockHeld        = errors.New("index write lock held")
	ErrNoSuchIndex     = errors.New("no such index")
	ErrWriterClosed    = errors.New("index writer closed")
)

// Error carries the failing operation and path alongside the kind and the
// underlying cause.
type Error struct {
	Kind    error
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Path)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
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

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func New(kind error, op, path, message string) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: message}
}

func Newf(kind error, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind, op and path to err. If err already carries a kind
// from this package it is returned unchanged, so the innermost
// classification and location win.
func Wrap(kind error, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind != nil {
		return err
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Kind returns the sentinel kind carried by err, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrCorruptSegment,
		ErrInvalidDocument,
		ErrQuerySyntax,
		ErrLockHeld,
		ErrNoSuchIndex,
		ErrWriterClosed,
		ErrIOFailure,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrQuerySyntax), errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSuchIndex):
		return http.StatusNotFound
	case errors.Is(err, ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, ErrIOFailure), errors.Is(err, ErrCorruptSegment):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
