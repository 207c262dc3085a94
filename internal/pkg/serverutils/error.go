package serverutils

import (
	"errors"
	"net/http"

	"epichat-be/pkg/dataset"
	"epichat-be/pkg/engine"
	"epichat-be/pkg/store"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// AppError is an error that already knows its HTTP status
type AppError struct {
	Code      int
	Message   string
	Retryable bool
	Details   interface{}
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// ToAppError maps domain errors to their HTTP meaning. Storage failures are the only
// engine errors that reach a handler and are always reported as retryable.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &AppError{Code: fiberErr.Code, Message: fiberErr.Message, Err: err}
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return &AppError{Code: http.StatusBadRequest, Message: "Validation failed", Details: validationDetails(validationErrs), Err: err}
	}

	switch {
	case errors.Is(err, store.ErrLockTimeout):
		return &AppError{Code: http.StatusConflict, Message: "Another message for this session is still being processed", Retryable: true, Err: err}
	case errors.Is(err, store.ErrStorageUnavailable):
		return &AppError{Code: http.StatusServiceUnavailable, Message: "Session storage is unavailable, please retry", Retryable: true, Err: err}
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, dataset.ErrInvalidReference):
		return &AppError{Code: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, dataset.ErrNotFound):
		return &AppError{Code: http.StatusNotFound, Message: err.Error(), Err: err}
	}
	return &AppError{Code: http.StatusInternalServerError, Message: "Internal server error", Err: err}
}

// ErrorHandlerMiddleware renders errors returned by later handlers as BaseResponse
// envelopes.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		appErr := ToAppError(err)
		if appErr.Retryable {
			ctx.Set(fiber.HeaderRetryAfter, "1")
		}
		res := ErrorResponse(appErr.Code, appErr.Message)
		res.Retryable = appErr.Retryable
		if appErr.Details != nil {
			res.Data = appErr.Details
		}
		return ctx.Status(appErr.Code).JSON(res)
	}
}
