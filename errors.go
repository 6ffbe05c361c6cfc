package formbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrPayloadTooLarge is returned when the body or a file part is larger than its configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrMalformedRequest is returned when the body cannot be split into parts.
	ErrMalformedRequest = errors.New("malformed multipart request")
	// ErrTooManyParts is returned when the parts are more than MaxParts.
	ErrTooManyParts = errors.New("too many parts")
	// ErrTooManyHeaders is returned when the headers are more than MaxHeaders.
	ErrTooManyHeaders = errors.New("too many headers")

	// ErrUnsupportedMediaType marks a file part whose media type is not allowed.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrPartSkipped marks a part whose header block could not be parsed.
	ErrPartSkipped = errors.New("part skipped")
)

// PartError describes why a single part was left out of the result.
type PartError struct {
	Reason string
	Err    error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

func partSkipped(format string, args ...any) *PartError {
	return &PartError{
		Reason: fmt.Sprintf(format, args...),
		Err:    ErrPartSkipped,
	}
}

// Rejection is a non-fatal drop of one part, kept for logging and responses.
type Rejection struct {
	// Index is the position of the part in boundary order.
	Index     int
	FieldName string
	Filename  string
	Err       error
}

func (r Rejection) Error() string {
	if r.Filename != "" {
		return fmt.Sprintf("part %d (%s, %s): %v", r.Index, r.FieldName, r.Filename, r.Err)
	}
	return fmt.Sprintf("part %d (%s): %v", r.Index, r.FieldName, r.Err)
}

func (r Rejection) Unwrap() error {
	return r.Err
}

// StatusCode maps an error returned by Parse to the HTTP status the caller should answer with.
func StatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPayloadTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrTooManyParts),
		errors.Is(err, ErrTooManyHeaders),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
