package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies why a record or submission could not be converted.
type FailureKind string

const (
	KindDataNotFound FailureKind = "DataNotFound"
	KindInvalidScore FailureKind = "InvalidScore"
	KindInternal     FailureKind = "Internal"
	KindFatal        FailureKind = "Fatal"
)

// DataNotFoundError reports a record whose song or chart is not in the catalog.
type DataNotFoundError struct {
	ImportType ImportType
	Record     any
	Context    ImportContext
	Message    string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("data not found: %s", e.Message)
}

// InvalidScoreError reports a record that violates a game or source rule.
type InvalidScoreError struct {
	Reason string
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("invalid score: %s", e.Reason)
}

// InternalError reports a broken invariant the service itself should
// guarantee, such as a chart without a parent song. It always means a bug or
// catalog corruption, never bad input.
type InternalError struct {
	Reason string
	Err    error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Reason)
}

func (e *InternalError) Unwrap() error { return e.Err }

// FatalError aborts a whole submission before any record is converted.
type FatalError struct {
	Status  int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (%d): %s", e.Status, e.Message)
}

// NewDataNotFound builds a DataNotFoundError for one record of a submission.
func NewDataNotFound(ictx ImportContext, record any, format string, args ...any) *DataNotFoundError {
	return &DataNotFoundError{
		ImportType: ictx.ImportType,
		Record:     record,
		Context:    ictx,
		Message:    fmt.Sprintf(format, args...),
	}
}

// InvalidScoref builds an InvalidScoreError with a formatted reason.
func InvalidScoref(format string, args ...any) *InvalidScoreError {
	return &InvalidScoreError{Reason: fmt.Sprintf(format, args...)}
}

// Internalf builds an InternalError. A %w verb keeps the wrapped cause.
func Internalf(format string, args ...any) *InternalError {
	err := fmt.Errorf(format, args...)
	return &InternalError{Reason: err.Error(), Err: errors.Unwrap(err)}
}

// Fatalf builds a FatalError with the given HTTP-style status.
func Fatalf(status int, format string, args ...any) *FatalError {
	return &FatalError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf is Fatalf with status 400, the usual envelope rejection.
func BadRequestf(format string, args ...any) *FatalError {
	return Fatalf(http.StatusBadRequest, format, args...)
}

// KindOf maps an error to its failure kind, or "" for nil. Errors outside the
// taxonomy are reported as Internal so they are never mistaken for bad input.
func KindOf(err error) FailureKind {
	var (
		notFound *DataNotFoundError
		invalid  *InvalidScoreError
		fatal    *FatalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fatal):
		return KindFatal
	case errors.As(err, &notFound):
		return KindDataNotFound
	case errors.As(err, &invalid):
		return KindInvalidScore
	default:
		return KindInternal
	}
}

// IsFatal reports whether err aborts the whole submission.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
