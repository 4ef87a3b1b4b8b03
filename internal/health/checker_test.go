package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChecker reports a fixed error after an optional delay.
type mockChecker struct {
	name    string
	err     error
	delay   time.Duration
	details map[string]interface{}
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *mockChecker) Details() map[string]interface{} {
	return m.details
}

// countingChecker records how many times it actually ran.
type countingChecker struct {
	name  string
	calls int64
}

func (c *countingChecker) Name() string {
	return c.name
}

func (c *countingChecker) Check(ctx context.Context) error {
	atomic.AddInt64(&c.calls, 1)
	return nil
}

func (c *countingChecker) count() int64 {
	return atomic.LoadInt64(&c.calls)
}

func TestManager(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(logger)

		manager.Register(&mockChecker{name: "checker1", err: nil})
		manager.Register(&mockChecker{name: "checker2", err: errors.New("checker2 failed")})
		manager.Register(&mockChecker{name: "checker3", err: fmt.Errorf("%w: running hot", ErrDegraded)})

		results := manager.RunChecks(context.Background())
		assert.Len(t, results, 3)

		check1 := results["checker1"]
		require.NotNil(t, check1)
		assert.Equal(t, StatusOK, check1.Status)
		assert.Empty(t, check1.Message)

		check2 := results["checker2"]
		require.NotNil(t, check2)
		assert.Equal(t, StatusDown, check2.Status)
		assert.Contains(t, check2.Message, "checker2 failed")

		check3 := results["checker3"]
		require.NotNil(t, check3)
		assert.Equal(t, StatusDegraded, check3.Status)
		assert.Contains(t, check3.Message, "running hot")
	})

	t.Run("Details attached", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{
			name:    "detailed",
			details: map[string]interface{}{"pressure": 0.5},
		})

		results := manager.RunChecks(context.Background())
		check := results["detailed"]
		require.NotNil(t, check)
		assert.Equal(t, 0.5, check.Details["pressure"])
	})

	t.Run("GetResults returns the stored snapshot", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "test", err: nil})

		assert.Empty(t, manager.GetResults(), "nothing stored before the first run")

		manager.RunChecks(context.Background())

		results := manager.GetResults()
		assert.Len(t, results, 1)
		assert.Contains(t, results, "test")

		// Mutating the copy must not leak into the snapshot.
		results["test"].Status = StatusDown
		assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
	})

	t.Run("GetOverallStatus", func(t *testing.T) {
		tests := []struct {
			name     string
			checkers []Checker
			want     Status
		}{
			{
				name: "all healthy",
				checkers: []Checker{
					&mockChecker{name: "c1", err: nil},
					&mockChecker{name: "c2", err: nil},
				},
				want: StatusOK,
			},
			{
				name: "one degraded",
				checkers: []Checker{
					&mockChecker{name: "c1", err: nil},
					&mockChecker{name: "c2", err: fmt.Errorf("%w: pressure", ErrDegraded)},
				},
				want: StatusDegraded,
			},
			{
				name: "one down",
				checkers: []Checker{
					&mockChecker{name: "c1", err: nil},
					&mockChecker{name: "c2", err: errors.New("error")},
				},
				want: StatusDown,
			},
			{
				name: "down wins over degraded",
				checkers: []Checker{
					&mockChecker{name: "c1", err: fmt.Errorf("%w: pressure", ErrDegraded)},
					&mockChecker{name: "c2", err: errors.New("error")},
				},
				want: StatusDown,
			},
			{
				name:     "no results reads as down",
				checkers: []Checker{},
				want:     StatusDown,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				manager := NewManager(logger)
				for _, checker := range tt.checkers {
					manager.Register(checker)
				}
				if len(tt.checkers) > 0 {
					manager.RunChecks(context.Background())
				}

				assert.Equal(t, tt.want, manager.GetOverallStatus())
			})
		}
	})

	t.Run("Slow checker times out as down", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{
			name:  "slow-checker",
			delay: 10 * time.Second,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		results := manager.RunChecks(ctx)
		assert.Less(t, time.Since(start), 6*time.Second)

		check := results["slow-checker"]
		require.NotNil(t, check)
		assert.Equal(t, StatusDown, check.Status)
		assert.Contains(t, check.Message, "timed out")
	})

	t.Run("Register while checks run", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "slow", delay: 30 * time.Millisecond})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			manager.RunChecks(context.Background())
		}()
		go func() {
			defer wg.Done()
			manager.Register(&mockChecker{name: "late"})
		}()
		wg.Wait()

		results := manager.RunChecks(context.Background())
		assert.Len(t, results, 2)
	})
}

func TestStartPeriodicChecks(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	manager := NewManager(logger)
	counter := &countingChecker{name: "counter"}
	manager.Register(counter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 40*time.Millisecond)
		close(done)
	}()

	// One immediate run plus a few ticks.
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop on context cancel")
	}

	assert.GreaterOrEqual(t, counter.count(), int64(3), "expected the initial run plus ticker runs")
	assert.Equal(t, StatusOK, manager.GetOverallStatus())
}

func TestCheckDurationTracking(t *testing.T) {
	logger := logrus.New()
	manager := NewManager(logger)
	manager.Register(&mockChecker{
		name:  "delayed",
		delay: 50 * time.Millisecond,
	})

	results := manager.RunChecks(context.Background())
	check := results["delayed"]
	require.NotNil(t, check)

	assert.GreaterOrEqual(t, check.Duration, 50*time.Millisecond)
	assert.GreaterOrEqual(t, check.DurationMS, float64(50))
}
