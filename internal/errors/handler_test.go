package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() *ErrorHandler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewErrorHandler(log)
}

func decodeErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestHandleError(t *testing.T) {
	handler := newTestHandler()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   ErrorType
	}{
		{
			name:       "classified error",
			err:        NewValidationError("invalid input"),
			wantStatus: http.StatusBadRequest,
			wantType:   ErrorTypeValidation,
		},
		{
			name:       "plain error becomes opaque 500",
			err:        errors.New("something went wrong"),
			wantStatus: http.StatusInternalServerError,
			wantType:   ErrorTypeInternal,
		},
		{
			name:       "not found",
			err:        NewNotFoundError("session"),
			wantStatus: http.StatusNotFound,
			wantType:   ErrorTypeNotFound,
		},
		{
			name:       "malformed input",
			err:        WrapMalformedInputError(ErrNoTimestamp, "cannot place frame"),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   ErrorTypeMalformedInput,
		},
		{
			name:       "classified error inside a chain",
			err:        fmt.Errorf("reading stats: %w", NewNotFoundError("session")),
			wantStatus: http.StatusNotFound,
			wantType:   ErrorTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Request-ID", "test-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			response := decodeErrorResponse(t, rr)
			assert.Equal(t, tt.wantType, response.Error.Type)
			assert.NotEmpty(t, response.Error.Message)
			assert.Equal(t, "test-123", response.RequestID)
		})
	}
}

func TestHandleError_Details(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	err := NewValidationError("invalid target rate").WithDetails(map[string]interface{}{
		"fps": "0/0",
	})
	handler.HandleError(rr, req, err)

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, "0/0", response.Error.Details["fps"])
}

func TestHandleError_PlainErrorStaysOpaque(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	handler.HandleError(rr, req, errors.New("dsn=postgres://user:hunter2@db"))

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, "An unexpected error occurred", response.Error.Message)
	assert.NotContains(t, rr.Body.String(), "hunter2")
}

func TestHandleNotFound(t *testing.T) {
	handler := newTestHandler()

	rr := httptest.NewRecorder()
	handler.HandleNotFound(rr, httptest.NewRequest("GET", "/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, ErrorTypeNotFound, response.Error.Type)
	assert.Contains(t, response.Error.Message, "endpoint")
}

func TestHandleMethodNotAllowed(t *testing.T) {
	handler := newTestHandler()

	rr := httptest.NewRecorder()
	handler.HandleMethodNotAllowed(rr, httptest.NewRequest("POST", "/api/v1/stats", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, ErrorTypeValidation, response.Error.Type)
	assert.Contains(t, response.Error.Message, "Method not allowed")
}

func TestHandlePanic(t *testing.T) {
	handler := newTestHandler()

	rr := httptest.NewRecorder()
	handler.HandlePanic(rr, httptest.NewRequest("GET", "/panic", nil), "test panic")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, ErrorTypeInternal, response.Error.Type)
	assert.NotContains(t, rr.Body.String(), "test panic", "panic values stay out of responses")
}

func TestTimeoutBody(t *testing.T) {
	handler := newTestHandler()

	var response ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(handler.TimeoutBody()), &response))

	assert.Equal(t, ErrorTypeTimeout, response.Error.Type)
	assert.NotEmpty(t, response.Error.Message)
	assert.Empty(t, response.RequestID)
}

func TestMiddleware(t *testing.T) {
	handler := newTestHandler()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("middleware test panic")
	})
	protected := handler.Middleware(panicking)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)

	assert.NotPanics(t, func() {
		protected.ServeHTTP(rr, req)
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	response := decodeErrorResponse(t, rr)
	assert.Equal(t, ErrorTypeInternal, response.Error.Type)
}
