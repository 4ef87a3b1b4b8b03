package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler(t *testing.T) {
	manager := NewManager(logrus.New())
	handler := NewHandler(manager)

	assert.Equal(t, manager, handler.manager)
	assert.NotZero(t, handler.startTime)
}

func TestHandleHealth(t *testing.T) {
	manager := NewManager(logrus.New())
	manager.Register(&mockChecker{name: "test", err: nil})
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

	var response Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	assert.Equal(t, StatusOK, response.Status)
	assert.NotZero(t, response.Timestamp)
	assert.NotEmpty(t, response.Version)
	assert.NotEmpty(t, response.Uptime)
	assert.Contains(t, response.Checks, "test")
}

func TestHandleHealth_Down(t *testing.T) {
	manager := NewManager(logrus.New())
	manager.Register(&mockChecker{name: "failing", err: assert.AnError})
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusDown, response.Status)
}

func TestHandleHealth_Degraded(t *testing.T) {
	manager := NewManager(logrus.New())

	// A degraded component keeps the endpoint serving 200s.
	manager.Register(&mockChecker{
		name:    "pressure",
		err:     fmt.Errorf("%w: frame memory pressure 91%%", ErrDegraded),
		details: map[string]interface{}{"pressure": 0.91},
	})
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var response Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))

	assert.Equal(t, StatusDegraded, response.Status)
	check := response.Checks["pressure"]
	require.NotNil(t, check)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, 0.91, check.Details["pressure"])
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(logrus.New())
	manager.Register(&mockChecker{name: "test", err: nil})
	manager.RunChecks(context.Background())
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var response probeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusOK, response.Status)
	assert.NotZero(t, response.Timestamp)
}

func TestHandleReady_BeforeFirstRun(t *testing.T) {
	manager := NewManager(logrus.New())
	manager.Register(&mockChecker{name: "test", err: nil})
	handler := NewHandler(manager)

	// No stored results yet, so the service is not ready.
	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleReady_DoesNotRunCheckers(t *testing.T) {
	manager := NewManager(logrus.New())
	counter := &countingChecker{name: "counter"}
	manager.Register(counter)
	manager.RunChecks(context.Background())
	handler := NewHandler(manager)

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.HandleReady(rr, httptest.NewRequest("GET", "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	assert.Equal(t, int64(1), counter.count(), "readiness probes must not trigger check runs")
}

func TestHandleLive(t *testing.T) {
	manager := NewManager(logrus.New())

	// Liveness ignores check state entirely.
	manager.Register(&mockChecker{name: "failing", err: assert.AnError})
	manager.RunChecks(context.Background())
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest("GET", "/health/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var response probeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusOK, response.Status)
	assert.NotZero(t, response.Timestamp)
}

func TestUptime(t *testing.T) {
	handler := &Handler{
		manager:   NewManager(logrus.New()),
		startTime: time.Now().Add(-(90*time.Second + 200*time.Millisecond)),
	}

	assert.Equal(t, "1m30s", handler.uptime())
}
