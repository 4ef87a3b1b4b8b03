package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/calign/retime/internal/video"
)

// BudgetChecker watches frame memory budget pressure. The conversion
// keeps running on a full budget, so exhaustion reports degraded rather
// than down until allocations are actually rejected.
type BudgetChecker struct {
	budget *video.Budget
	warnAt float64
	failAt float64

	mu           sync.Mutex
	lastRejected int64
}

// NewBudgetChecker creates a frame budget checker. Zero thresholds select
// the defaults: degraded at 85% pressure, down at 100%.
func NewBudgetChecker(budget *video.Budget, warnAt, failAt float64) *BudgetChecker {
	if warnAt <= 0 {
		warnAt = 0.85
	}
	if failAt <= 0 {
		failAt = 1.0
	}
	return &BudgetChecker{
		budget: budget,
		warnAt: warnAt,
		failAt: failAt,
	}
}

// Name returns the name of the checker.
func (b *BudgetChecker) Name() string {
	return "frame_budget"
}

// Check performs the frame budget check.
func (b *BudgetChecker) Check(ctx context.Context) error {
	if b.budget == nil {
		return nil
	}
	stats := b.budget.Stats()

	b.mu.Lock()
	rejectedSince := stats.RejectedCount - b.lastRejected
	b.lastRejected = stats.RejectedCount
	b.mu.Unlock()

	if stats.Pressure >= b.failAt && rejectedSince > 0 {
		return fmt.Errorf("frame memory exhausted: %d allocations rejected at %.0f%% of %d bytes",
			rejectedSince, stats.Pressure*100, stats.Limit)
	}
	if stats.Pressure >= b.warnAt {
		return fmt.Errorf("%w: frame memory pressure %.0f%% of %d bytes",
			ErrDegraded, stats.Pressure*100, stats.Limit)
	}
	return nil
}

// Details reports current budget accounting.
func (b *BudgetChecker) Details() map[string]interface{} {
	if b.budget == nil {
		return nil
	}
	stats := b.budget.Stats()
	return map[string]interface{}{
		"usage_bytes": stats.Usage,
		"limit_bytes": stats.Limit,
		"pressure":    stats.Pressure,
		"rejected":    stats.RejectedCount,
	}
}

// ProgressChecker verifies output keeps advancing while input flows. A
// stall for one check round is degraded, a persistent stall is down.
type ProgressChecker struct {
	stats func() (framesIn, framesOut uint64)

	// downAfter is the number of consecutive stalled rounds before the
	// conversion is reported down.
	downAfter int

	mu      sync.Mutex
	lastIn  uint64
	lastOut uint64
	stalls  int
}

// NewProgressChecker creates a conversion liveness checker reading
// counters from stats.
func NewProgressChecker(stats func() (uint64, uint64)) *ProgressChecker {
	return &ProgressChecker{
		stats:     stats,
		downAfter: 3,
	}
}

// Name returns the name of the checker.
func (p *ProgressChecker) Name() string {
	return "conversion_progress"
}

// Check performs the liveness check.
func (p *ProgressChecker) Check(ctx context.Context) error {
	in, out := p.stats()

	p.mu.Lock()
	defer p.mu.Unlock()

	stalled := in > p.lastIn && out == p.lastOut
	p.lastIn = in
	p.lastOut = out

	if stalled {
		p.stalls++
	} else {
		p.stalls = 0
	}

	switch {
	case p.stalls >= p.downAfter:
		return fmt.Errorf("conversion stalled: input advanced but no output for %d checks", p.stalls)
	case p.stalls > 0:
		return fmt.Errorf("%w: input advancing without output", ErrDegraded)
	default:
		return nil
	}
}

// MemoryChecker watches process heap usage against a soft limit.
type MemoryChecker struct {
	softLimit int64
	warnAt    float64
	failAt    float64
}

// NewMemoryChecker creates a heap usage checker. A zero limit disables
// the check.
func NewMemoryChecker(softLimit int64) *MemoryChecker {
	return &MemoryChecker{
		softLimit: softLimit,
		warnAt:    0.80,
		failAt:    0.95,
	}
}

// Name returns the name of the checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check performs the memory check.
func (m *MemoryChecker) Check(ctx context.Context) error {
	if m.softLimit <= 0 {
		return nil
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	used := int64(ms.HeapInuse)
	fraction := float64(used) / float64(m.softLimit)

	if fraction >= m.failAt {
		return fmt.Errorf("heap usage %d bytes is %.0f%% of the %d byte limit",
			used, fraction*100, m.softLimit)
	}
	if fraction >= m.warnAt {
		return fmt.Errorf("%w: heap usage %d bytes is %.0f%% of the %d byte limit",
			ErrDegraded, used, fraction*100, m.softLimit)
	}
	return nil
}

// Details reports current heap statistics.
func (m *MemoryChecker) Details() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return map[string]interface{}{
		"heap_inuse_bytes": ms.HeapInuse,
		"heap_sys_bytes":   ms.HeapSys,
		"num_gc":           ms.NumGC,
		"goroutines":       runtime.NumGoroutine(),
	}
}
