package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/rowvalidation"
)

// ErrorMessage is the body of error responses.
type ErrorMessage struct {
	Reason string `json:"message"`
	Advice string `json:"advice,omitempty"`
	See    string `json:"see,omitempty"`

	// Cause is logged, not responded.
	Cause error `json:"-"`
}

func (e ErrorMessage) Error() string {
	msg := e.Reason
	if e.Advice != "" {
		msg += " (advice: " + e.Advice + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

type ErrorMessageOption func(in *ErrorMessage) *ErrorMessage

func WithAdvice(advice string) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if advice != "" {
			in.Advice = advice
		}
		return in
	}
}

func WithError(err error) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if err != nil {
			in.Cause = err
		}
		return in
	}
}

func WithSee(see string) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if see != "" {
			in.See = see
		}
		return in
	}
}

func NewErrorMessage(code int, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := ErrorMessage{Reason: reason}
	for _, opt := range opts {
		msg = *opt(&msg)
	}

	return echo.NewHTTPError(code, msg).SetInternal(msg)
}

func NotFound() *echo.HTTPError {
	return NewErrorMessage(http.StatusNotFound, "not found")
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusBadRequest,
		"bad request",
		WithAdvice(advice),
		WithError(err),
	)
}

func Conflict(message string, options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusConflict,
		message,
		options...,
	)
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusInternalServerError,
		"unexpected error",
		WithError(err),
	)
}

func Unauthorized(message string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusUnauthorized,
		message,
		WithError(err),
	)
}

// FromDomain maps errors from domain operations to responses.
//
//   - invalid rows and configs: 400
//   - missing resources: 404
//   - outdated entries, conflicts and lost races: 409
//   - too many entries: 400
//   - others: 500
func FromDomain(err error) *echo.HTTPError {
	if herr := (*echo.HTTPError)(nil); errors.As(err, &herr) {
		return herr
	}
	if verr := (*rowvalidation.Error)(nil); errors.As(err, &verr) {
		return BadRequest(fmt.Sprintf("invalid row (%s): %s", verr.Kind, verr.Message), err)
	}
	switch {
	case errors.Is(err, rowvalidation.ErrInvalidRow):
		return BadRequest(err.Error(), err)
	case errors.Is(err, domerr.ErrInvalidConfig):
		return BadRequest(err.Error(), err)
	case errors.Is(err, domerr.ErrTooMuch):
		return BadRequest("too many entries for the node", err)
	case errors.Is(err, domerr.ErrMissing):
		return NotFound()
	case errors.Is(err, domerr.ErrOutdated):
		return Conflict("entry is outdated", WithAdvice("copy the current version of the entry"), WithError(err))
	case errors.Is(err, domerr.ErrConflict):
		return Conflict("conflicted", WithAdvice("retry later"), WithError(err))
	}
	return InternalServerError(err)
}
