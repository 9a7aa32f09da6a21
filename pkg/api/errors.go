package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"opnxt/pkg/orcherrors"
)

// statusClientClosedRequest reports a request the caller abandoned.
const statusClientClosedRequest = 499

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code            orcherrors.Code `json:"code"`
	Message         string          `json:"message"`
	Hint            string          `json:"hint,omitempty"`
	MissingSections []string        `json:"missing_sections,omitempty"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code orcherrors.Code) int {
	switch code {
	case orcherrors.CodeInvalidRequest, orcherrors.CodeUnknownPhase:
		return http.StatusBadRequest
	case orcherrors.CodeProjectNotFound, orcherrors.CodeNotFound:
		return http.StatusNotFound
	case orcherrors.CodeInvalidTransition, orcherrors.CodePrerequisiteNotMet,
		orcherrors.CodeNoAgentBound, orcherrors.CodeDeprecatedID:
		return http.StatusConflict
	case orcherrors.CodeValidationFailed, orcherrors.CodeUnknownReference:
		return http.StatusUnprocessableEntity
	case orcherrors.CodeGeneratorUnavailable:
		return http.StatusServiceUnavailable
	case orcherrors.CodeCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders orchestrator, validation and echo errors in one shape.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status int
		body   ErrorResponse
		he     *echo.HTTPError
		verrs  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &verrs):
		status = http.StatusBadRequest
		body = ErrorResponse{Code: orcherrors.CodeInvalidRequest, Message: validationMessage(verrs)}
	case errors.As(err, &he):
		status = he.Code
		body = ErrorResponse{Code: codeForStatus(he.Code), Message: http.StatusText(he.Code)}
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		}
	default:
		oe, ok := orcherrors.As(err)
		if !ok {
			oe = orcherrors.Wrap(orcherrors.CodeInternal, err, "internal error")
		}
		status = StatusFor(oe.Code)
		body = ErrorResponse{Code: oe.Code, Message: oe.Error(), Hint: oe.Hint, MissingSections: oe.Missing}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("⚠️ failed to write error response: %v", err)
	}
}

func codeForStatus(status int) orcherrors.Code {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return orcherrors.CodeNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return orcherrors.CodeInvalidRequest
	default:
		return orcherrors.CodeInternal
	}
}

func validationMessage(verrs validator.ValidationErrors) string {
	msg := "invalid request"
	for i, fe := range verrs {
		if i == 0 {
			msg += ": "
		} else {
			msg += "; "
		}
		msg += fe.Field() + " failed " + fe.Tag()
	}
	return msg
}
