package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/blueprint/internal/approval"
	"github.com/fyrsmithlabs/blueprint/internal/generator"
	"github.com/fyrsmithlabs/blueprint/internal/gitexec"
	"github.com/fyrsmithlabs/blueprint/internal/pipeline"
)

// toHTTPError maps domain errors to status codes. The message is the error
// text; nothing is swallowed.
func toHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(statusFor(err), err.Error()).SetInternal(err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrAlreadyDecided),
		errors.Is(err, approval.ErrDecisionPending),
		errors.Is(err, approval.ErrAlreadyParked):
		return http.StatusConflict
	case errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, pipeline.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrGenerationFailed):
		return http.StatusBadGateway
	}

	var ge *gitexec.GitError
	if errors.As(err, &ge) {
		switch ge.Kind {
		case gitexec.KindInvalid, gitexec.KindSecretDetected:
			return http.StatusBadRequest
		case gitexec.KindAuth:
			return http.StatusUnauthorized
		case gitexec.KindNotFound:
			return http.StatusNotFound
		case gitexec.KindConflict:
			return http.StatusConflict
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func badRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
