package resample

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/metrics"
	"github.com/calign/retime/internal/video"
)

// PipelineConfig holds pipeline configuration.
type PipelineConfig struct {
	SessionID    string // generated when empty
	OutputBuffer int    // output channel capacity
	Converter    Params
	Budget       *video.Budget // optional shared frame memory budget
}

// Pipeline drives a Converter from an input channel of source frames and
// delivers output frames on its output channel. The channel pump is the
// single goroutine touching converter state.
type Pipeline struct {
	sessionID string
	converter *Converter
	alloc     *video.Allocator
	budget    *video.Budget

	input  <-chan *video.Frame
	output chan *video.Frame

	ctx    context.Context
	cancel context.CancelFunc

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	errors    atomic.Uint64

	started          time.Time
	sessionFramesIn  *metrics.Gauge
	sessionFramesOut *metrics.Gauge
	sessionErrors    *metrics.Counter
	sessionDuration  *metrics.Histogram

	logger    logger.Logger
	sampled   *logger.SampledLogger
	wg        sync.WaitGroup
	closeOnce sync.Once
	stopOnce  sync.Once
}

// PipelineStats contains pipeline statistics.
type PipelineStats struct {
	SessionID string
	FramesIn  uint64
	FramesOut uint64
	Errors    uint64
	Converter ConverterStats
	Budget    video.BudgetStats
}

// NewPipeline creates a conversion pipeline reading from input. Input frames
// become property of the pipeline; frames received from GetOutput must be
// released through GetAllocator's Free once consumed.
func NewPipeline(ctx context.Context, cfg PipelineConfig, input <-chan *video.Frame) (*Pipeline, error) {
	if input == nil {
		return nil, apperrors.NewValidationError("input channel required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 16
	}

	logEntry := logger.FromContext(ctx).WithField("session_id", cfg.SessionID)
	baseLogger := logger.NewLogrusAdapter(logEntry)

	alloc := video.NewAllocator(cfg.Budget, cfg.SessionID)

	converter, err := NewConverter(cfg.Converter, alloc, baseLogger)
	if err != nil {
		alloc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	sessionLabels := map[string]string{"session_id": cfg.SessionID}

	return &Pipeline{
		sessionID:        cfg.SessionID,
		converter:        converter,
		alloc:            alloc,
		budget:           cfg.Budget,
		input:            input,
		output:           make(chan *video.Frame, cfg.OutputBuffer),
		ctx:              ctx,
		cancel:           cancel,
		started:          time.Now(),
		sessionFramesIn:  metrics.NewGauge("conversion_session_frames_in", "Source frames accepted by this session", sessionLabels),
		sessionFramesOut: metrics.NewGauge("conversion_session_frames_out", "Output frames produced by this session", sessionLabels),
		sessionErrors:    metrics.NewCounter("conversion_session_errors_total", "Conversion errors in this session", sessionLabels),
		sessionDuration:  metrics.NewHistogram("conversion_session_duration_seconds", "Wall time from session start to stop", sessionLabels, []float64{1, 5, 15, 60, 300, 900, 3600}),
		logger:           baseLogger,
		sampled:          logger.NewConversionLogger(baseLogger),
	}, nil
}

// Start starts the pipeline workers.
func (p *Pipeline) Start() error {
	p.logger.WithFields(map[string]interface{}{
		"target_rate":   p.converter.OutputRate().String(),
		"dst_time_base": p.converter.OutputTimeBase().String(),
	}).Info("Starting conversion pipeline")

	metrics.IncrementSessionsActive()

	p.wg.Add(2)
	go p.pump()
	go p.reportStats()

	return nil
}

// Stop stops the pipeline, releases held frames and ends the budget session.
func (p *Pipeline) Stop() error {
	p.logger.Debug("Stopping conversion pipeline")

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("All pipeline goroutines finished gracefully")
	case <-time.After(5 * time.Second):
		p.logger.Warn("Timeout waiting for pipeline goroutines, proceeding with cleanup")
	}

	p.stopOnce.Do(func() {
		p.converter.Close()
		p.closeOutput()
		p.publishStats()
		p.alloc.Close()
		p.sessionDuration.Observe(time.Since(p.started).Seconds())
		metrics.DecrementSessionsActive()

		stats := p.converter.GetStats()
		p.logger.WithFields(map[string]interface{}{
			"frames_in":       p.framesIn.Load(),
			"frames_out":      p.framesOut.Load(),
			"frames_blended":  stats.FramesBlended,
			"frames_cloned":   stats.FramesCloned,
			"frames_dropped":  stats.FramesDropped,
			"discontinuities": stats.Discontinuities,
			"errors":          p.errors.Load(),
		}).Info("Conversion pipeline stopped")
	})

	return nil
}

// GetOutput returns the output channel. It is closed once the input stream
// has been fully drained or the pipeline stops.
func (p *Pipeline) GetOutput() <-chan *video.Frame {
	return p.output
}

// GetAllocator returns the session allocator. Hosts allocate input frames
// through it and release consumed output frames with its Free.
func (p *Pipeline) GetAllocator() *video.Allocator {
	return p.alloc
}

// SessionID returns the session identifier.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// GetStats returns pipeline statistics.
func (p *Pipeline) GetStats() PipelineStats {
	if p == nil {
		return PipelineStats{}
	}

	var budgetStats video.BudgetStats
	if p.budget != nil {
		budgetStats = p.budget.Stats()
	}

	return PipelineStats{
		SessionID: p.sessionID,
		FramesIn:  p.framesIn.Load(),
		FramesOut: p.framesOut.Load(),
		Errors:    p.errors.Load(),
		Converter: p.converter.GetStats(),
		Budget:    budgetStats,
	}
}

// pump feeds the converter from the input channel and forwards production.
func (p *Pipeline) pump() {
	metrics.IncrementGoroutineCreated("resample_pump")
	defer func() {
		if r := recover(); r != nil {
			p.recordError()
			p.logger.WithField("panic", r).Error("Panic in conversion pump, recovering")
		}
		p.closeOutput()
		metrics.IncrementGoroutineDestroyed("resample_pump")
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			metrics.IncrementContextCancellation("resample_pump", "shutdown")
			p.logger.Debug("Conversion pump cancelled")
			return

		case frame, ok := <-p.input:
			if !ok {
				p.finish()
				return
			}

			p.framesIn.Add(1)

			outs, err := p.converter.Push(frame)
			if err != nil && !isDropError(err) {
				p.recordError()
				p.logger.WithError(err).Error("Conversion failed, stopping pipeline")
				p.cancel()
				return
			}
			if !p.deliver(outs) {
				return
			}

			p.sampled.DebugWithCategory(logger.CategoryPumpProgress, "Processed source frame", map[string]interface{}{
				"frames_in":  p.framesIn.Load(),
				"frames_out": p.framesOut.Load(),
			})
		}
	}
}

// finish flushes the converter after the input channel closes.
func (p *Pipeline) finish() {
	outs, err := p.converter.Flush()
	if err != nil {
		p.recordError()
		p.logger.WithError(err).Error("Flush failed")
	}
	p.deliver(outs)

	p.logger.WithFields(map[string]interface{}{
		"frames_in":  p.framesIn.Load(),
		"frames_out": p.framesOut.Load(),
	}).Info("Input stream ended, pipeline drained")
}

// deliver forwards frames to the output channel, honoring cancellation.
func (p *Pipeline) deliver(frames []*video.Frame) bool {
	for _, frame := range frames {
		select {
		case <-p.ctx.Done():
			return false
		case p.output <- frame:
			p.framesOut.Add(1)
		}
	}
	return true
}

// reportStats periodically publishes session gauges and budget pressure.
func (p *Pipeline) reportStats() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.publishStats()
		}
	}
}

func (p *Pipeline) publishStats() {
	if p.budget != nil {
		stats := p.budget.Stats()
		metrics.UpdateFrameMemory(stats.Usage, stats.Pressure)
	}
	p.sessionFramesIn.Set(float64(p.framesIn.Load()))
	p.sessionFramesOut.Set(float64(p.framesOut.Load()))
}

func (p *Pipeline) recordError() {
	p.errors.Add(1)
	p.sessionErrors.Inc()
}

func (p *Pipeline) closeOutput() {
	p.closeOnce.Do(func() {
		close(p.output)
		p.logger.Debug("Pipeline output channel closed")
	})
}

// isDropError reports whether err marks a dropped input frame rather than a
// conversion failure.
func isDropError(err error) bool {
	return errors.Is(err, apperrors.ErrNoTimestamp) || errors.Is(err, apperrors.ErrDuplicateTimestamp)
}
