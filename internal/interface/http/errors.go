package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
)

// newHTTPErrorHandler maps echo, validator and domain errors onto the JSON
// error envelope. Anything unrecognised is a 500 and is logged.
func newHTTPErrorHandler(log *logger.Logger, v *validation.Validator) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, apiErr := classifyError(err, v)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				logger.Err(err),
				logger.String("path", c.Path()),
				logger.String("request_id", requestID(c)),
			)
			if c.Echo().Debug {
				apiErr.Message = err.Error()
			}
		}

		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(status)
		} else {
			sendErr = c.JSON(status, JSONResponse{
				Success:   false,
				Error:     apiErr,
				Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
				RequestID: requestID(c),
			})
		}
		if sendErr != nil {
			log.Error("failed to write error response", logger.Err(sendErr))
		}
	}
}

func classifyError(err error, v *validation.Validator) (int, *APIError) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if inner, ok := he.Internal.(*echo.HTTPError); ok {
			he = inner
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, &APIError{Code: codeFor(he.Code), Message: msg}
	}

	if fields := v.FieldErrors(err); fields != nil {
		return http.StatusBadRequest, &APIError{Code: "validation_failed", Message: "request validation failed", Fields: fields}
	}

	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, &APIError{Code: "not_found", Message: err.Error()}
	case shared.IsValidation(err):
		return http.StatusBadRequest, &APIError{Code: "invalid_input", Message: err.Error()}
	case shared.IsConfiguration(err):
		return http.StatusUnprocessableEntity, &APIError{Code: "invalid_configuration", Message: err.Error()}
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, &APIError{Code: "unauthorized", Message: err.Error()}
	case shared.IsRetryable(err):
		return http.StatusServiceUnavailable, &APIError{Code: "service_unavailable", Message: "service temporarily unavailable"}
	}
	return http.StatusInternalServerError, &APIError{Code: "internal_server_error", Message: "An unexpected error occurred"}
}

func codeFor(status int) string {
	switch status {
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
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	}
	if status >= http.StatusInternalServerError {
		return "internal_server_error"
	}
	return "error"
}
