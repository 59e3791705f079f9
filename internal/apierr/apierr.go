// Package apierr maps the error kinds of spec section 7 to the HTTP
// error envelope every Manager/Agent endpoint returns on non-2xx.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is one of the error kinds spec section 7 enumerates.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindPrecondition Kind = "precondition"
	KindUpstream    Kind = "upstream_firecracker"
	KindUnreachable Kind = "agent_unreachable"
	KindCapacity    Kind = "capacity"
	KindInternal    Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindPrecondition: http.StatusUnprocessableEntity,
	KindUpstream:     http.StatusBadGateway,
	KindUnreachable:  http.StatusServiceUnavailable,
	KindCapacity:     http.StatusServiceUnavailable,
	KindInternal:     http.StatusInternalServerError,
}

// Error is a Kind-tagged error that carries enough context to build the
// envelope at the HTTP edge.
type Error struct {
	Kind         Kind
	Message      string
	Suggestion   string
	FaultMessage string // verbatim body of an upstream Firecracker failure
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(msg string) *Error               { return new(KindValidation, msg, nil) }
func Validationf(msg string, cause error) *Error  { return new(KindValidation, msg, cause) }
func NotFound(msg string) *Error                  { return new(KindNotFound, msg, nil) }
func Conflict(msg string) *Error                  { return new(KindConflict, msg, nil) }
func Precondition(msg string) *Error              { return new(KindPrecondition, msg, nil) }
func Capacity(msg string) *Error                  { return new(KindCapacity, msg, nil) }
func Internal(msg string, cause error) *Error      { return new(KindInternal, msg, cause) }
func Unreachable(msg string, cause error) *Error   { return new(KindUnreachable, msg, cause) }

// Upstream wraps a Firecracker 4xx/5xx body as a terminal error.
func Upstream(msg, faultBody string) *Error {
	return &Error{Kind: KindUpstream, Message: msg, FaultMessage: faultBody}
}

// WithSuggestion attaches an actionable hint for the caller.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Envelope is the wire shape of the error body.
type Envelope struct {
	Error        string `json:"error"`
	Suggestion   string `json:"suggestion,omitempty"`
	FaultMessage string `json:"fault_message,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// Write sends the error envelope for err, mapping unknown errors to 500.
func Write(w http.ResponseWriter, requestID string, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(Envelope{
		Error:        apiErr.Error(),
		Suggestion:   apiErr.Suggestion,
		FaultMessage: apiErr.FaultMessage,
		RequestID:    requestID,
	})
}

// As is a small helper so callers can branch on kind without importing errors.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
