// Package errors defines the sentinel errors and typed errors shared by the
// index store, the builder, the query engine and the evaluation engine, and
// maps them onto HTTP status codes for the search service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrMissingResult     = errors.New("missing retrieval result")
	ErrIndexNotCommitted = errors.New("index not committed")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrIndexClosed       = errors.New("index closed")
	ErrIndexLocked       = errors.New("index locked by another writer")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidArgument returns an AppError wrapping ErrInvalidArgument.
func InvalidArgument(format string, args ...any) *AppError {
	return Newf(ErrInvalidArgument, http.StatusBadRequest, format, args...)
}

// NotCommitted returns an AppError wrapping ErrIndexNotCommitted.
func NotCommitted(message string) *AppError {
	return New(ErrIndexNotCommitted, http.StatusServiceUnavailable, message)
}

// CorruptDocumentError describes a corpus record that could not be turned
// into a Document. Locator identifies the record in its source (for example
// "AA/wiki_00.bz2:17"); Fields holds per-field validation failures.
type CorruptDocumentError struct {
	Locator string
	Fields  map[string]string
	Err     error
}

func (e *CorruptDocumentError) Error() string {
	var b strings.Builder
	b.WriteString("corrupt document")
	if e.Locator != "" {
		b.WriteString(" at ")
		b.WriteString(e.Locator)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CorruptDocumentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCorruptDocument}
	}
	return []error{ErrCorruptDocument, e.Err}
}

// DuplicateDocumentError is returned when a document id is added twice
// without an explicit replace.
type DuplicateDocumentError struct {
	DocID string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("duplicate document %q", e.DocID)
}

func (e *DuplicateDocumentError) Unwrap() error {
	return ErrDuplicateDocument
}

// MissingResultError is returned by evaluation when a claim has ground truth
// but no retrieval result.
type MissingResultError struct {
	ClaimUID string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("no retrieval result for claim %q", e.ClaimUID)
}

func (e *MissingResultError) Unwrap() error {
	return ErrMissingResult
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrCorruptDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexNotCommitted), errors.Is(err, ErrIndexClosed), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
