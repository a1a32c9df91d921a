package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/errs"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// ErrorResponder returns the echo error handler. It logs the full error
// server-side, emits the uniform envelope with only the kind's stable code
// and outward-safe message, and records audit entries for authentication and
// authorization failures that no audit scope has captured yet.
func ErrorResponder(logger zerolog.Logger, recorder *audit.Recorder) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := translate(err)

		rid, _ := c.Get("request_id").(string)
		logger.Error().
			Err(err).
			Str("request_id", rid).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", status).
			Str("code", body.Code).
			Msg("request failed")

		ctx := c.Request().Context()
		if errs.IsSecurityFailure(err) && !audit.AlreadyRecorded(ctx) {
			scope := recorder.Begin(auth.ActorFromContext(ctx),
				c.Request().Method+" "+c.Path(), "")
			scope.SetRequest(rid, c.RealIP())
			scope.Complete(audit.OutcomeFailure, body.Code+": "+body.Message)
			audit.MarkRecorded(ctx)
		}

		if writeErr := c.JSON(status, errorEnvelope{OK: false, Error: body}); writeErr != nil {
			logger.Error().Err(writeErr).Str("request_id", rid).Msg("writing error response failed")
		}
	}
}

// translate maps any error to its status and external body. Taxonomy errors
// carry their own mapping; echo's router errors (404, 405, 413, 429) keep
// their status with a generic code; everything else is an opaque 500.
func translate(err error) (int, errorBody) {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code, errorBody{
			Code:    httpCode(he.Code),
			Message: httpMessage(he),
		}
	}

	e := errs.AsError(err)
	body := errorBody{Code: e.Kind.String(), Message: e.Message}
	if e.Kind == errs.KindValidation {
		body.Details = e.Details
	}
	return e.Kind.HTTPStatus(), body
}

func httpCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return errs.KindNotFound.String()
	case http.StatusBadRequest:
		return errs.KindValidation.String()
	case http.StatusUnauthorized:
		return errs.KindAuthentication.String()
	case http.StatusForbidden:
		return errs.KindAuthorization.String()
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return errs.KindInternal.String()
	}
}

func httpMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	return http.StatusText(he.Code)
}
