package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "broker-assistant/internal/errors"
)

// Response is the envelope of every API answer.
type Response struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError describes one rejected input or failure.
type FieldError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func dataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func success(c echo.Context, data interface{}) error {
	return dataResponse(c, http.StatusOK, data)
}

func created(c echo.Context, data interface{}) error {
	return dataResponse(c, http.StatusCreated, data)
}

func failure(c echo.Context, status int, errs ...FieldError) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Errors:  errs,
	})
}

// errorStatus maps a domain error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "ERR_NOT_FOUND"
	case errors.Is(err, apperrors.ErrAlreadyExecuted):
		return http.StatusConflict, "ERR_ALREADY_EXECUTED"
	case errors.Is(err, apperrors.ErrAlreadyVerified):
		return http.StatusConflict, "ERR_ALREADY_VERIFIED"
	case errors.Is(err, apperrors.ErrVersionConflict):
		return http.StatusConflict, "ERR_VERSION_CONFLICT"
	case errors.Is(err, apperrors.ErrInputValidation):
		return http.StatusUnprocessableEntity, "ERR_VALIDATION"
	case errors.Is(err, apperrors.ErrInsufficientSignal):
		return http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_SIGNAL"
	case errors.Is(err, apperrors.ErrInsufficientData):
		return http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "ERR_UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "ERR_INTERNAL"
	}
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	status, code := errorStatus(err)
	fe := FieldError{Code: code, Message: err.Error()}

	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		fe.Field = verr.Field
		fe.Message = verr.Message
	}
	var up *apperrors.UpstreamError
	if errors.As(err, &up) {
		fe.Params = map[string]interface{}{"collaborator": up.Collaborator}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		fe.Message = "Something went wrong"
	}
	return failure(c, status, fe)
}
