// Package apperr defines the error kinds services return and how they are
// rendered over HTTP.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Kinds. Every *Error unwraps to exactly one of these.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Error carries a machine-readable reason alongside a human message.
type Error struct {
	Kind    error
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Kind }

func BadRequest(reason, msg string) *Error   { return &Error{Kind: ErrBadRequest, Reason: reason, Message: msg} }
func Unauthorized(reason, msg string) *Error { return &Error{Kind: ErrUnauthorized, Reason: reason, Message: msg} }
func Forbidden(reason, msg string) *Error    { return &Error{Kind: ErrForbidden, Reason: reason, Message: msg} }
func NotFound(reason, msg string) *Error     { return &Error{Kind: ErrNotFound, Reason: reason, Message: msg} }
func Conflict(reason, msg string) *Error     { return &Error{Kind: ErrConflict, Reason: reason, Message: msg} }

// Body is the JSON error envelope.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Status maps an error to its HTTP status and envelope. Unknown errors map
// to 500 with a generic body so internals never leak.
func Status(err error) (int, Body) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, Body{Error: reasonFor(he.Code), Message: msg}
	}

	var ae *Error
	if errors.As(err, &ae) {
		return codeFor(ae.Kind), Body{Error: ae.Reason, Message: ae.Message}
	}

	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, Body{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, Body{Error: "unauthorized", Message: err.Error()}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, Body{Error: "forbidden", Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Body{Error: "not_found", Message: err.Error()}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, Body{Error: "conflict", Message: err.Error()}
	}
	return http.StatusInternalServerError, Body{Error: "internal_error", Message: "internal server error"}
}

func codeFor(kind error) int {
	switch kind {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func reasonFor(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if code >= 500 {
		return "internal_error"
	}
	return "error"
}

// HTTPErrorHandler replaces echo's default handler. Server errors are logged
// with the request id; client errors are not.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, body := Status(err)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
