package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SampledLogger throttles per-category log records. Conversion produces a
// decision record per output frame, which at 50 fps and above would drown
// the log; sampling keeps a representative trace instead.
//
// Errors are deliberately outside this API. Anything worth an error level
// goes through the base logger unsampled.
type SampledLogger struct {
	base Logger

	mu       sync.RWMutex
	samplers map[string]*sampler
}

// sampler is the per-category gate. A record passes while the burst
// allowance lasts, then one in 1/rate records until the interval since the
// last pass exceeds minInterval, which refills the burst.
type sampler struct {
	minInterval time.Duration
	burst       int
	rate        float64

	lastPass int64 // unix nanos, atomic
	burstN   int64
	skipped  int64 // records since the last rate-sampled pass
	total    int64
	passed   int64
}

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		base:     base,
		samplers: make(map[string]*sampler),
	}
}

// WithSampler registers the gate for one category. Categories without a
// gate log at full rate.
func (s *SampledLogger) WithSampler(category string, minInterval time.Duration, burst int, rate float64) *SampledLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samplers[category] = &sampler{
		minInterval: minInterval,
		burst:       burst,
		rate:        rate,
	}
	return s
}

func (s *SampledLogger) gate(category string) *sampler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplers[category]
}

func (g *sampler) admit(now int64) bool {
	atomic.AddInt64(&g.total, 1)

	if now-atomic.LoadInt64(&g.lastPass) >= g.minInterval.Nanoseconds() {
		atomic.StoreInt64(&g.burstN, 1)
		atomic.StoreInt64(&g.lastPass, now)
		atomic.AddInt64(&g.passed, 1)
		return true
	}

	if atomic.LoadInt64(&g.burstN) < int64(g.burst) {
		atomic.AddInt64(&g.burstN, 1)
		atomic.StoreInt64(&g.lastPass, now)
		atomic.AddInt64(&g.passed, 1)
		return true
	}

	if g.rate <= 0 {
		return false
	}
	if float64(atomic.AddInt64(&g.skipped, 1))*g.rate >= 1.0 {
		atomic.StoreInt64(&g.skipped, 0)
		atomic.StoreInt64(&g.lastPass, now)
		atomic.AddInt64(&g.passed, 1)
		return true
	}
	return false
}

func (s *SampledLogger) logSampled(level logrus.Level, category, msg string, fields map[string]interface{}) {
	g := s.gate(category)
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["category"] = category

	if g != nil {
		if !g.admit(time.Now().UnixNano()) {
			return
		}
		total := atomic.LoadInt64(&g.total)
		passed := atomic.LoadInt64(&g.passed)
		fields["_sampling_total"] = total
		fields["_sampling_logged"] = passed
		fields["_sampling_dropped"] = total - passed
	}

	s.base.WithFields(fields).Log(level, msg)
}

// DebugWithCategory logs a debug record through the category's gate.
func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.logSampled(logrus.DebugLevel, category, msg, fields)
}

// InfoWithCategory logs an info record through the category's gate.
func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.logSampled(logrus.InfoLevel, category, msg, fields)
}

// WarnWithCategory logs a warning through the category's gate. Warnings
// sample like everything else; a repeated malformed-input warning carries
// no more information than its drop counters.
func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.logSampled(logrus.WarnLevel, category, msg, fields)
}

// Conversion log categories.
const (
	CategoryFrameDecision = "frame_decision" // per-output clone/blend resolution
	CategorySceneScore    = "scene_score"    // per-pair activity scores
	CategoryInputWarning  = "input_warning"  // interlaced, missing or duplicate PTS
	CategoryPumpProgress  = "pump_progress"  // drain loop progress
	CategoryPacing        = "pacing"         // realtime limiter waits
)

// NewConversionLogger builds the sampled logger used by the conversion
// path. Decision and score categories run at output frame frequency and
// are throttled hardest; input warnings stay audible but bounded.
func NewConversionLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryFrameDecision, 100*time.Millisecond, 5, 0.02).
		WithSampler(CategorySceneScore, 200*time.Millisecond, 3, 0.1).
		WithSampler(CategoryInputWarning, 500*time.Millisecond, 5, 0.1).
		WithSampler(CategoryPumpProgress, time.Second, 1, 1.0).
		WithSampler(CategoryPacing, time.Second, 2, 0.05)
}
