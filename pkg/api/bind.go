package api

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"opnxt/pkg/orcherrors"
)

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i) //nolint:wrapcheck // rendered by handleError
}

// bindBody decodes and validates a JSON body.
func bindBody(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		return orcherrors.New(orcherrors.CodeInvalidRequest, "malformed request body: %v", bindMessage(err))
	}
	return c.Validate(dst) //nolint:wrapcheck // rendered by handleError
}

func bindMessage(err error) string {
	if he, ok := err.(*echo.HTTPError); ok { //nolint:errorlint // echo returns the concrete type
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return http.StatusText(he.Code)
	}
	return err.Error()
}

// intParam parses a non-negative integer path parameter.
func intParam(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		return 0, orcherrors.New(orcherrors.CodeInvalidRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}
