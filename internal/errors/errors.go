package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure inside the ingestion pipeline.
type Kind int

const (
	KindInternal Kind = iota
	// MediaOpenFailure means an editable handle on a source image could not be obtained.
	MediaOpenFailure
	// MediaSaveFailure means a resized image could not be written.
	MediaSaveFailure
	// PersistenceFailure means a post row could not be inserted or updated.
	PersistenceFailure
	// LinkPrecondition means a feed link was requested for a post with no internal id.
	LinkPrecondition
	// InvalidPost means no external id could be derived from a raw payload.
	InvalidPost
	// InvalidRequest and NotFound are only returned to API callers.
	InvalidRequest
	NotFound
)

// Code is the name the error sink files entries of this kind under.
func (k Kind) Code() string {
	switch k {
	case MediaOpenFailure:
		return "image_editor"
	case MediaSaveFailure:
		return "image_editor_save"
	case PersistenceFailure, LinkPrecondition:
		return "database_insert_post"
	case InvalidPost:
		return "invalid_post"
	case InvalidRequest:
		return "invalid_request"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the structured error shared by the pipeline and the HTTP layer.
type Error struct {
	Kind    Kind
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Kind.Code(), e.Details)
	}
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Kind    string   `json:"kind"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := e.Kind.Code()
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(transport{
		Message: msg,
		Kind:    e.Kind.Code(),
		Details: e.Details,
		Status:  e.Status,
	})
}

// E builds an [Error] from any mix of a message string, a wrapped error, an
// HTTP status, a [Kind] and details.
func E(args ...any) *Error {
	ret := &Error{
		Kind:   KindInternal,
		Status: http.StatusInternalServerError,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Kind:
			ret.Kind = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}

// Reporter accepts operator-facing error entries. It must never fail.
type Reporter interface {
	Add(kind string, details ...string)
}

// Report builds an error with [E], files it with r and returns it.
//
// The entry's details are the error message followed by each detail's text.
func Report(r Reporter, args ...any) *Error {
	e := E(args...)

	details := make([]string, 0, len(e.Details)+1)
	if e.Err != nil {
		details = append(details, e.Err.Error())
	}
	for _, d := range e.Details {
		details = append(details, d.Error)
	}
	r.Add(e.Kind.Code(), details...)

	return e
}
