// Package errs defines the typed failure kinds surfaced by provisioning,
// ingestion, and pipeline operations.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers (and the HTTP layer) can map it
// to behavior without parsing messages.
type Kind string

const (
	// KindConflict is a slug or checksum collision.
	KindConflict Kind = "conflict"
	// KindNotFound is a missing store, document, or pipeline.
	KindNotFound Kind = "not_found"
	// KindUnsupportedType is a file whose MIME type is not on the allow-list.
	KindUnsupportedType Kind = "unsupported_type"
	// KindIndexStore is a failure talking to the search index store.
	KindIndexStore Kind = "index_store_error"
	// KindRender is a pipeline configuration rendering failure.
	KindRender Kind = "render_error"
	// KindDeployment is a pipeline deploy/undeploy failure.
	KindDeployment Kind = "deployment_error"
	// KindPersistence is a metadata store failure.
	KindPersistence Kind = "persistence_error"
	// KindRuntimeCall is a runtime indexing/query call failure.
	KindRuntimeCall Kind = "runtime_call_error"
	// KindUnauthorized is a missing, invalid, or expired session.
	KindUnauthorized Kind = "unauthorized"
)

// Error is a classified failure. Compensation holds errors from
// compensating actions that themselves failed; they never replace the
// original cause, only travel with it.
type Error struct {
	Kind         Kind
	Msg          string
	Err          error
	Compensation []error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for _, c := range e.Compensation {
		fmt.Fprintf(&b, " (compensation failed: %v)", c)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithCompensation attaches a failed compensation to e and returns e.
func (e *Error) WithCompensation(errs ...error) *Error {
	for _, c := range errs {
		if c != nil {
			e.Compensation = append(e.Compensation, c)
		}
	}
	return e
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
