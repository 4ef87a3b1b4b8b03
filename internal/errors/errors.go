package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for clients and for log queries.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeMalformedInput ErrorType = "MALFORMED_INPUT"
	ErrorTypeResource       ErrorType = "RESOURCE_EXHAUSTED"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout        ErrorType = "TIMEOUT"
)

// Sentinel errors for conversion control flow. Callers match these with
// errors.Is to distinguish recoverable input defects from hard failures.
var (
	// ErrNoTimestamp marks an input frame that carries no presentation
	// timestamp. Such frames cannot be placed on the output timeline.
	ErrNoTimestamp = stderrors.New("frame has no presentation timestamp")

	// ErrDuplicateTimestamp marks an input frame whose timestamp collapses
	// onto the previous frame's after rescaling to the output time base.
	ErrDuplicateTimestamp = stderrors.New("frame timestamp duplicates previous frame")

	// ErrBudgetExceeded is returned when a frame allocation would push the
	// session over its configured memory budget.
	ErrBudgetExceeded = stderrors.New("frame memory budget exceeded")

	// ErrStreamEnded signals that the input is exhausted and the final
	// flush has already produced its last frame.
	ErrStreamEnded = stderrors.New("stream ended")
)

// AppError is an error classified for the HTTP boundary. The zero Details
// map stays nil so it marshals away when nothing attached context.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    map[string]interface{}
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured context that ends up in the response body.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// New creates a classified error with an explicit HTTP status.
func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap classifies an underlying error without losing it from the chain.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func WrapValidationError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewMalformedInputError classifies defective stream input, such as a frame
// that cannot be placed on the timeline. 422 separates these from plain
// request validation failures.
func NewMalformedInputError(message string) *AppError {
	return New(ErrorTypeMalformedInput, message, http.StatusUnprocessableEntity)
}

func WrapMalformedInputError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeMalformedInput, message, http.StatusUnprocessableEntity)
}

// WrapResourceError classifies an exhaustion failure such as a memory
// budget overrun.
func WrapResourceError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeResource, message, http.StatusServiceUnavailable)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewTimeoutError carries the status http.TimeoutHandler writes, so the
// body and the status line agree.
func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusServiceUnavailable)
}

// GetAppError finds the nearest AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
