package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversion throughput metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_sessions_active",
		Help: "Number of conversion sessions currently running",
	})

	framesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversion_frames_in_total",
		Help: "Total source frames accepted by the converter",
	})

	framesOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_frames_out_total",
		Help: "Total output frames produced, by resolution decision",
	}, []string{"decision"})

	framesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversion_frames_dropped_total",
		Help: "Total source frames dropped before conversion",
	}, []string{"reason"})

	discontinuitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversion_pts_discontinuities_total",
		Help: "Total timestamp discontinuities that forced a timeline reset",
	})

	// Scene detection metrics
	sceneChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversion_scene_changes_total",
		Help: "Total due blends suppressed by scene-change activity",
	})

	sceneScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_scene_score",
		Help: "Most recent scene activity score (0-100)",
	})

	// Blend metrics
	blendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversion_blend_duration_seconds",
		Help:    "Wall time of a single two-frame blend",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
	})

	outputRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_output_input_ratio",
		Help: "Output frames produced per source frame accepted",
	})

	// Frame memory budget metrics
	frameMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_memory_used_bytes",
		Help: "Bytes currently charged against the frame memory budget",
	})

	frameMemoryPressure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frame_memory_pressure",
		Help: "Fraction of the frame memory budget in use (0-1)",
	})

	frameMemoryRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_memory_rejects_total",
		Help: "Total frame allocations rejected by the memory budget",
	})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})

	contextCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_context_cancellations_total",
		Help: "Total context cancellations by reason",
	}, []string{"component", "reason"})
)

// IncrementSessionsActive marks a conversion session as started.
func IncrementSessionsActive() {
	sessionsActive.Inc()
}

// DecrementSessionsActive marks a conversion session as finished.
func DecrementSessionsActive() {
	sessionsActive.Dec()
}

// IncrementFramesIn counts an accepted source frame.
func IncrementFramesIn() {
	framesInTotal.Inc()
}

// IncrementFrameOut counts a produced output frame under its decision
// ("blend", "source0" or "source1").
func IncrementFrameOut(decision string) {
	framesOutTotal.WithLabelValues(decision).Inc()
}

// IncrementFrameDropped counts a dropped source frame under its reason
// ("no_pts" or "duplicate_pts").
func IncrementFrameDropped(reason string) {
	framesDroppedTotal.WithLabelValues(reason).Inc()
}

// IncrementDiscontinuity counts a timestamp discontinuity reset.
func IncrementDiscontinuity() {
	discontinuitiesTotal.Inc()
}

// IncrementSceneChange counts a pair resolved by scene fallback instead of a blend.
func IncrementSceneChange() {
	sceneChangesTotal.Inc()
}

// SetSceneScore publishes the most recently computed activity score.
func SetSceneScore(score float64) {
	sceneScore.Set(score)
}

// RecordBlendDuration records the wall time of one blend in seconds.
func RecordBlendDuration(seconds float64) {
	blendDuration.Observe(seconds)
}

// SetOutputRatio publishes the current output/input frame ratio.
func SetOutputRatio(ratio float64) {
	outputRatio.Set(ratio)
}

// UpdateFrameMemory publishes the current budget usage and pressure.
func UpdateFrameMemory(usedBytes int64, pressure float64) {
	frameMemoryUsedBytes.Set(float64(usedBytes))
	frameMemoryPressure.Set(pressure)
}

// IncrementFrameMemoryReject counts a budget-rejected frame allocation.
func IncrementFrameMemoryReject() {
	frameMemoryRejectsTotal.Inc()
}

// IncrementGoroutineCreated tracks a long-lived worker goroutine starting.
// Paired with IncrementGoroutineDestroyed it exposes leaks that the global
// goroutine count would hide.
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed tracks a worker goroutine exiting.
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

// IncrementContextCancellation counts a cancellation observed by component.
func IncrementContextCancellation(component, reason string) {
	contextCancellations.WithLabelValues(component, reason).Inc()
}
