package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	apperrors "github.com/calign/retime/internal/errors"
)

func TestRequestIDMiddleware(t *testing.T) {
	server := New(testServerConfig(), logrus.New(), nil, nil)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusOK)
	})
	handler := server.requestIDMiddleware(inner)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	// A caller-supplied ID survives untouched.
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-request-id")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "test-request-id", rr.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	server := New(testServerConfig(), logrus.New(), nil, nil)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := server.corsMiddleware(inner)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))

	// Preflight short-circuits before the handler.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/test", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestPanicRecoveryThroughRouter(t *testing.T) {
	server := New(testServerConfig(), quietLogger(), nil, nil)
	server.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("boom goes the handler")
		}).Methods("GET")
	})
	router := server.GetRouter()

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		router.ServeHTTP(rr, httptest.NewRequest("GET", "/boom", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var response apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, apperrors.ErrorTypeInternal, response.Error.Type)
	assert.NotContains(t, rr.Body.String(), "boom goes the handler")
}

func TestTimeoutMiddleware(t *testing.T) {
	server := New(testServerConfig(), quietLogger(), nil, nil)

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})
	handler := server.timeoutMiddleware(30 * time.Millisecond)(slow)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/stats", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, apperrors.ErrorTypeTimeout, response.Error.Type)
}

func TestTimeoutMiddleware_DebugExempt(t *testing.T) {
	server := New(testServerConfig(), quietLogger(), nil, nil)

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	handler := server.timeoutMiddleware(30 * time.Millisecond)(slow)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/debug/pprof/profile", nil))

	assert.Equal(t, http.StatusOK, rr.Code, "debug endpoints outlive the write timeout")
}

func TestMetricsMiddleware(t *testing.T) {
	server := New(testServerConfig(), quietLogger(), nil, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "tracked success", path: "/api/v1/stats", status: http.StatusOK},
		{name: "tracked error", path: "/api/v1/stats", status: http.StatusInternalServerError},
		{name: "quiet path passthrough", path: "/health", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			handler := server.metricsMiddleware(inner)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest("GET", tt.path, nil))

			assert.Equal(t, tt.status, rr.Code, "status passes through the recording wrapper")
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	server := New(testServerConfig(), logrus.New(), nil, nil)
	server.apiLimiter = rate.NewLimiter(rate.Limit(1), 2)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := server.rateLimitMiddleware(inner)

	// Burst admits the first two requests
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/stats", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// Third request in the same instant is rejected
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/stats", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestIsQuietPath(t *testing.T) {
	quiet := []string{"/metrics", "/health", "/ready", "/live"}
	for _, path := range quiet {
		assert.True(t, isQuietPath(path), "path %s should be quiet", path)
	}

	loud := []string{"/", "/version", "/api/v1/stats", "/debug/pprof/"}
	for _, path := range loud {
		assert.False(t, isQuietPath(path), "path %s should be tracked", path)
	}
}
