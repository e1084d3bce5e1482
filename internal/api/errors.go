package api

import (
	"errors"
	"net/http"
)

// Kind tags a handler error with the response it should produce.
type Kind int

const (
	// KindUnstructured errors are not translated: the client gets a generic 500.
	KindUnstructured Kind = iota
	// KindNotFound errors become 404 {"detail": ...}.
	KindNotFound
	// KindInvalidRequest errors become 422 {"detail": ...}.
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unstructured"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Translated reports whether the kind carries a client-visible detail.
func (k Kind) Translated() bool {
	return k == KindNotFound || k == KindInvalidRequest
}

// Error is a handler error tagged with a Kind.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound returns a KindNotFound error with the given client-visible detail.
func NotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

// InvalidRequest returns a KindInvalidRequest error wrapping the binding failure.
func InvalidRequest(err error) *Error {
	return &Error{Kind: KindInvalidRequest, Detail: err.Error(), Err: err}
}

// Unstructured returns an untranslated error; msg is recorded on the span only.
func Unstructured(msg string) *Error {
	return &Error{Kind: KindUnstructured, Detail: msg}
}

// Wrap tags cause with kind and detail.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// KindOf returns the Kind of err, or KindUnstructured for untagged errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnstructured
}
