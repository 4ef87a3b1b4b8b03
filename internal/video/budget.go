package video

import (
	"sync"
	"sync/atomic"
)

// Budget enforces global and per-session limits on frame memory. A
// single budget is shared by every allocator in the process; sessions
// are tracked individually so one runaway conversion cannot starve the
// rest.
type Budget struct {
	maxTotal   int64
	maxSession int64
	usage      atomic.Int64
	sessions   sync.Map // sessionID -> *atomic.Int64

	acquireCount atomic.Int64
	releaseCount atomic.Int64
	rejectCount  atomic.Int64

	sessionInitMu sync.Mutex
}

// NewBudget creates a budget with the given global and per-session byte
// limits.
func NewBudget(maxTotal, maxPerSession int64) *Budget {
	return &Budget{
		maxTotal:   maxTotal,
		maxSession: maxPerSession,
	}
}

// Acquire reserves size bytes for a session. It returns false when the
// reservation would exceed either limit, leaving usage unchanged.
func (b *Budget) Acquire(sessionID string, size int64) bool {
	if b.usage.Add(size) > b.maxTotal {
		b.usage.Add(-size)
		b.rejectCount.Add(1)
		return false
	}

	usage := b.sessionUsage(sessionID)
	if usage.Add(size) > b.maxSession {
		usage.Add(-size)
		b.usage.Add(-size)
		b.rejectCount.Add(1)
		return false
	}

	b.acquireCount.Add(1)
	return true
}

func (b *Budget) sessionUsage(sessionID string) *atomic.Int64 {
	if val, ok := b.sessions.Load(sessionID); ok {
		return val.(*atomic.Int64)
	}

	b.sessionInitMu.Lock()
	defer b.sessionInitMu.Unlock()

	if val, ok := b.sessions.Load(sessionID); ok {
		return val.(*atomic.Int64)
	}
	usage := &atomic.Int64{}
	b.sessions.Store(sessionID, usage)
	return usage
}

// Release returns size bytes to the budget. Releasing more than the
// session holds clamps at zero rather than corrupting the global count.
func (b *Budget) Release(sessionID string, size int64) {
	val, ok := b.sessions.Load(sessionID)
	if !ok {
		return
	}
	usage := val.(*atomic.Int64)
	for {
		held := usage.Load()
		if held <= 0 {
			break
		}
		if held >= size {
			if usage.CompareAndSwap(held, held-size) {
				b.usage.Add(-size)
				break
			}
		} else {
			if usage.CompareAndSwap(held, 0) {
				b.usage.Add(-held)
				break
			}
		}
	}
	b.releaseCount.Add(1)
}

// EndSession drops a session's tracking entry, returning any bytes it
// still held to the global pool.
func (b *Budget) EndSession(sessionID string) {
	if val, ok := b.sessions.LoadAndDelete(sessionID); ok {
		remaining := val.(*atomic.Int64).Swap(0)
		if remaining > 0 {
			b.usage.Add(-remaining)
		}
	}
}

// Pressure returns the fraction of the global limit currently in use.
func (b *Budget) Pressure() float64 {
	if b.maxTotal <= 0 {
		return 0
	}
	return float64(b.usage.Load()) / float64(b.maxTotal)
}

// SessionUsage returns the bytes currently held by one session.
func (b *Budget) SessionUsage(sessionID string) int64 {
	if val, ok := b.sessions.Load(sessionID); ok {
		return val.(*atomic.Int64).Load()
	}
	return 0
}

// BudgetStats is a point-in-time snapshot of budget accounting.
type BudgetStats struct {
	Usage         int64
	Limit         int64
	Pressure      float64
	SessionLimit  int64
	Sessions      []SessionUsageStats
	AcquireCount  int64
	ReleaseCount  int64
	RejectedCount int64
}

// SessionUsageStats holds one session's share of the budget.
type SessionUsageStats struct {
	SessionID string
	Usage     int64
	Percent   float64
}

// Stats returns a snapshot of current budget usage.
func (b *Budget) Stats() BudgetStats {
	usage := b.usage.Load()

	var sessions []SessionUsageStats
	b.sessions.Range(func(key, value interface{}) bool {
		held := value.(*atomic.Int64).Load()
		if held > 0 {
			sessions = append(sessions, SessionUsageStats{
				SessionID: key.(string),
				Usage:     held,
				Percent:   float64(held) / float64(b.maxSession) * 100,
			})
		}
		return true
	})

	return BudgetStats{
		Usage:         usage,
		Limit:         b.maxTotal,
		Pressure:      b.Pressure(),
		SessionLimit:  b.maxSession,
		Sessions:      sessions,
		AcquireCount:  b.acquireCount.Load(),
		ReleaseCount:  b.releaseCount.Load(),
		RejectedCount: b.rejectCount.Load(),
	}
}
