package apperror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// statusCodes maps bare echo HTTP errors onto the codes used by *Error.
var statusCodes = map[int]string{
	http.StatusNotFound:              "not_found",
	http.StatusBadRequest:            "bad_request",
	http.StatusConflict:              "conflict",
	http.StatusUnprocessableEntity:   "validation_error",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusServiceUnavailable:    "store_unavailable",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
}

// fromEcho converts router and middleware errors into *Error. A message of
// the form {"error": {"code", "message"}} is taken over as is.
func fromEcho(he *echo.HTTPError) *Error {
	out := &Error{HTTPStatus: he.Code, Code: "internal_error", Message: http.StatusText(he.Code)}
	if code, ok := statusCodes[he.Code]; ok {
		out.Code = code
	}
	switch msg := he.Message.(type) {
	case string:
		out.Message = msg
	case map[string]any:
		inner, _ := msg["error"].(map[string]any)
		if code, ok := inner["code"].(string); ok {
			out.Code = code
		}
		if m, ok := inner["message"].(string); ok {
			out.Message = m
		}
		if d, ok := inner["details"].(map[string]any); ok {
			out.Details = d
		}
	}
	return out
}

// HTTPErrorHandler returns the echo error handler rendering {"error": {code, message, details}}.
// Internal causes are logged for 5xx and never rendered.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var appErr *Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
		case errors.As(err, &he):
			appErr = fromEcho(he)
		default:
			appErr = ErrInternal
		}

		if appErr.HTTPStatus >= 500 {
			log.Error("request error",
				slog.Int("status", appErr.HTTPStatus),
				slog.String("code", appErr.Code),
				slog.String("error", err.Error()),
			)
		}
		if appErr.HTTPStatus == http.StatusTooManyRequests || appErr.HTTPStatus == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", "1")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(appErr.HTTPStatus)
			return
		}
		_ = c.JSON(appErr.HTTPStatus, map[string]any{"error": appErr.body()})
	}
}
