// Package resample converts a timestamped planar video stream to a fixed
// output frame rate. The converter holds the two most recent source frames
// and walks an output timeline across the interval they bracket: instants
// close to either source frame are satisfied with a clone, instants in
// between with a weighted blend of the pair, unless the scene detector
// reports too much activity for a blend to look right.
package resample

import (
	"fmt"
	"sync"
	"time"

	"github.com/calign/retime/internal/blend"
	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/metrics"
	"github.com/calign/retime/internal/scene"
	"github.com/calign/retime/internal/video"
)

// Decision identifies how an output frame was produced.
type Decision int

const (
	// DecisionBlend mixes both held frames with complementary weights.
	DecisionBlend Decision = iota
	// DecisionSource0 clones the earlier held frame.
	DecisionSource0
	// DecisionSource1 clones the later held frame.
	DecisionSource1
)

// String returns the metric label for the decision.
func (d Decision) String() string {
	switch d {
	case DecisionBlend:
		return "blend"
	case DecisionSource0:
		return "source0"
	case DecisionSource1:
		return "source1"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Params configures a Converter.
type Params struct {
	Format         video.PixelFormat
	Width          int
	Height         int
	SourceTimeBase video.Rational
	TargetRate     video.Rational
	InterpStart    int     // lower blend window bound, 0..255
	InterpEnd      int     // upper blend window bound, 0..255
	SceneThreshold float64 // activity score at which blending is suppressed
	SceneDetect    bool
	Workers        int // blend worker hint, 0 selects a default
}

// Converter is the fixed-rate resampling state machine. Push and Flush are
// driven by a single goroutine; the mutex exists so GetStats can be read
// concurrently from the stats endpoint.
type Converter struct {
	format video.PixelFormat
	width  int
	height int

	srcTimeBase video.Rational
	dstTimeBase video.Rational
	rate        video.Rational

	fullScale   int // 1 << bit depth
	interpStart int // InterpStart scaled to the format bit depth
	interpEnd   int // InterpEnd scaled to the format bit depth

	sceneThreshold float64
	sceneDetect    bool

	// Held source pair, timestamps in the destination time base
	f0    *video.Frame
	f1    *video.Frame
	pts0  int64
	pts1  int64
	delta int64
	score float64 // cached activity score for the pair, -1 = uncomputed

	startPts int64
	n        int64 // output frames produced since the timeline started
	flushing bool

	detector *scene.Detector
	blender  *blend.Blender
	alloc    *video.Allocator

	framesIn        uint64
	framesOut       uint64
	framesBlended   uint64
	framesCloned    uint64
	framesDropped   uint64
	discontinuities uint64
	sceneFallbacks  uint64

	logger  logger.Logger
	sampled *logger.SampledLogger
	mu      sync.Mutex
}

// ConverterStats is a snapshot of converter counters.
type ConverterStats struct {
	FramesIn        uint64
	FramesOut       uint64
	FramesBlended   uint64
	FramesCloned    uint64
	FramesDropped   uint64
	Discontinuities uint64
	SceneFallbacks  uint64
	SceneScore      float64 // last computed pair score, -1 when uncomputed
	Flushing        bool
}

// NewConverter creates a converter for the given stream geometry and target
// rate. The allocator charges blend work frames against its session budget;
// pushed frames are owned by the converter from Push onward.
func NewConverter(p Params, alloc *video.Allocator, log logger.Logger) (*Converter, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid frame dimensions %dx%d", p.Width, p.Height))
	}
	if !p.SourceTimeBase.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid source time base %s", p.SourceTimeBase))
	}
	if !p.TargetRate.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid target rate %s", p.TargetRate))
	}
	if p.InterpStart < 0 || p.InterpStart > 255 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("interpolation window start %d out of range 0..255", p.InterpStart))
	}
	if p.InterpEnd < 0 || p.InterpEnd > 255 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("interpolation window end %d out of range 0..255", p.InterpEnd))
	}
	if alloc == nil {
		alloc = video.NewAllocator(nil, "untracked")
	}

	detector, err := scene.NewDetector(p.Format.BitDepth)
	if err != nil {
		return nil, apperrors.WrapValidationError(err, fmt.Sprintf("pixel format %s not supported", p.Format))
	}
	blender, err := blend.New(p.Format.BitDepth, p.Workers)
	if err != nil {
		return nil, apperrors.WrapValidationError(err, fmt.Sprintf("pixel format %s not supported", p.Format))
	}

	dstTimeBase, exact := video.DeriveTimeBase(p.SourceTimeBase, p.TargetRate)
	log.WithFields(map[string]interface{}{
		"src_time_base": p.SourceTimeBase.String(),
		"dst_time_base": dstTimeBase.String(),
		"exact":         exact,
	}).Info("Derived output time base")
	if !exact {
		log.Warn("Time base conversion is not exact, output timestamps will drift")
	}

	shift := uint(p.Format.BitDepth - 8)

	c := &Converter{
		format:         p.Format,
		width:          p.Width,
		height:         p.Height,
		srcTimeBase:    p.SourceTimeBase,
		dstTimeBase:    dstTimeBase,
		rate:           p.TargetRate,
		fullScale:      1 << uint(p.Format.BitDepth),
		interpStart:    p.InterpStart << shift,
		interpEnd:      p.InterpEnd << shift,
		sceneThreshold: p.SceneThreshold,
		sceneDetect:    p.SceneDetect,
		score:          -1,
		startPts:       video.NoPTS,
		detector:       detector,
		blender:        blender,
		alloc:          alloc,
		logger:         log,
		sampled:        logger.NewConversionLogger(log),
	}

	log.WithFields(map[string]interface{}{
		"target_rate":     p.TargetRate.String(),
		"scene_threshold": p.SceneThreshold,
		"scene_detect":    p.SceneDetect,
		"interp_start":    c.interpStart,
		"interp_end":      c.interpEnd,
	}).Info("Converter configured")

	return c, nil
}

// OutputTimeBase returns the derived destination time base. Timestamps on
// frames returned by Push and Flush are expressed in this base.
func (c *Converter) OutputTimeBase() video.Rational {
	return c.dstTimeBase
}

// OutputRate returns the configured target frame rate.
func (c *Converter) OutputRate() video.Rational {
	return c.rate
}

// Push hands a source frame to the converter and returns the output frames
// that became due. The converter owns the pushed frame afterwards. Frames
// with no timestamp, or whose timestamp collapses onto the previous frame's
// after rescaling, are dropped and reported with a sentinel error that
// callers may treat as non-fatal.
func (c *Converter) Push(frame *video.Frame) ([]*video.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frame == nil {
		return nil, apperrors.NewValidationError("nil frame")
	}
	if c.flushing {
		c.alloc.Free(frame)
		return nil, apperrors.WrapValidationError(apperrors.ErrStreamEnded, "cannot accept frames after flush")
	}
	if frame.Format.Name != c.format.Name || frame.Width != c.width || frame.Height != c.height {
		c.alloc.Free(frame)
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"frame geometry %s %dx%d does not match converter %s %dx%d",
			frame.Format, frame.Width, frame.Height, c.format, c.width, c.height))
	}

	if frame.Interlaced {
		c.sampled.WarnWithCategory(logger.CategoryInputWarning, "Interlaced frame found, the output will not be correct", map[string]interface{}{
			"pts": frame.PTS,
		})
	}

	if !frame.HasPTS() {
		c.dropFrame(frame, "no_pts")
		return nil, apperrors.WrapMalformedInputError(apperrors.ErrNoTimestamp, "ignoring frame without timestamp")
	}

	pts := video.RescaleQ(frame.PTS, c.srcTimeBase, c.dstTimeBase)
	if c.f1 != nil && pts == c.pts1 {
		c.dropFrame(frame, "duplicate_pts")
		return nil, apperrors.WrapMalformedInputError(apperrors.ErrDuplicateTimestamp,
			fmt.Sprintf("ignoring frame with repeated timestamp %d", pts))
	}

	c.alloc.Free(c.f0)
	c.f0 = c.f1
	c.pts0 = c.pts1
	c.f1 = frame
	c.pts1 = pts
	c.delta = c.pts1 - c.pts0
	c.score = -1

	c.framesIn++
	metrics.IncrementFramesIn()

	if c.delta < 0 {
		c.logger.WithFields(map[string]interface{}{
			"pts0": c.pts0,
			"pts1": c.pts1,
		}).Warn("Timestamp discontinuity, restarting output timeline")
		c.startPts = c.pts1
		c.n = 0
		c.alloc.Free(c.f0)
		c.f0 = nil
		c.discontinuities++
		metrics.IncrementDiscontinuity()
	}

	if c.startPts == video.NoPTS {
		c.startPts = c.pts1
	}

	return c.drain()
}

// Flush marks the end of the input stream and drains the trailing output
// frames the last held interval still covers. It is idempotent; calls after
// the first return no frames.
func (c *Converter) Flush() ([]*video.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.f1 == nil || c.flushing {
		return nil, nil
	}
	c.flushing = true
	return c.drain()
}

// Close releases the held source frames and their budget charges. The
// converter must not be used afterwards.
func (c *Converter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alloc.Free(c.f0)
	c.alloc.Free(c.f1)
	c.f0 = nil
	c.f1 = nil
}

// GetStats returns a snapshot of the converter counters.
func (c *Converter) GetStats() ConverterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ConverterStats{
		FramesIn:        c.framesIn,
		FramesOut:       c.framesOut,
		FramesBlended:   c.framesBlended,
		FramesCloned:    c.framesCloned,
		FramesDropped:   c.framesDropped,
		Discontinuities: c.discontinuities,
		SceneFallbacks:  c.sceneFallbacks,
		SceneScore:      c.score,
		Flushing:        c.flushing,
	}
}

func (c *Converter) dropFrame(frame *video.Frame, reason string) {
	c.sampled.WarnWithCategory(logger.CategoryInputWarning, "Dropping source frame", map[string]interface{}{
		"reason": reason,
		"pts":    frame.PTS,
	})
	c.alloc.Free(frame)
	c.framesDropped++
	metrics.IncrementFrameDropped(reason)
}

// drain produces output frames until the next instant is not yet covered by
// the held pair.
func (c *Converter) drain() ([]*video.Frame, error) {
	var out []*video.Frame
	for {
		work, err := c.processWorkFrame()
		if err != nil {
			return out, err
		}
		if work == nil {
			if c.framesIn > 0 {
				metrics.SetOutputRatio(float64(c.framesOut) / float64(c.framesIn))
			}
			return out, nil
		}
		out = append(out, work)
	}
}

// processWorkFrame resolves the next output instant, or returns nil when no
// further output is due in the current state.
func (c *Converter) processWorkFrame() (*video.Frame, error) {
	if c.f1 == nil {
		return nil, nil
	}
	if c.f0 == nil && !c.flushing {
		return nil, nil
	}

	workPts := c.startPts + video.RescaleQ(c.n, c.rate.Invert(), c.dstTimeBase)

	if workPts >= c.pts1 && !c.flushing {
		return nil, nil
	}

	var work *video.Frame
	var decision Decision

	if c.f0 == nil {
		// A lone trailing frame covers exactly its own instant.
		if workPts > c.pts1 {
			return nil, nil
		}
		work = c.f1.Clone()
		decision = DecisionSource1
	} else {
		if workPts >= c.pts1+c.delta && c.flushing {
			return nil, nil
		}

		frac := int(video.Rescale(workPts-c.pts0, int64(c.fullScale), c.delta))

		switch {
		case frac > c.interpEnd:
			work = c.f1.Clone()
			decision = DecisionSource1
		case frac < c.interpStart:
			work = c.f0.Clone()
			decision = DecisionSource0
		default:
			var err error
			work, decision, err = c.resolveBlend(frac)
			if err != nil {
				return nil, err
			}
		}
	}

	work.PTS = workPts
	c.n++
	c.framesOut++
	if decision == DecisionBlend {
		c.framesBlended++
	} else {
		c.framesCloned++
	}
	metrics.IncrementFrameOut(decision.String())

	c.sampled.DebugWithCategory(logger.CategoryFrameDecision, "Produced output frame", map[string]interface{}{
		"pts":      workPts,
		"n":        c.n,
		"decision": decision.String(),
	})

	return work, nil
}

// resolveBlend gates a due blend on the pair's activity score; on a scene
// change it snaps to the nearer source frame instead.
func (c *Converter) resolveBlend(frac int) (*video.Frame, Decision, error) {
	if c.sceneDetect && c.score < 0 {
		c.score = c.detector.Score(c.f0, c.f1)
		metrics.SetSceneScore(c.score)
		c.sampled.DebugWithCategory(logger.CategorySceneScore, "Computed pair activity score", map[string]interface{}{
			"score":     c.score,
			"threshold": c.sceneThreshold,
		})
	}

	if c.sceneDetect && c.score >= c.sceneThreshold {
		c.sceneFallbacks++
		metrics.IncrementSceneChange()
		if frac > c.fullScale>>1 {
			return c.f1.Clone(), DecisionSource1, nil
		}
		return c.f0.Clone(), DecisionSource0, nil
	}

	work, err := c.alloc.NewFrame(c.format, c.width, c.height)
	if err != nil {
		metrics.IncrementFrameMemoryReject()
		return nil, DecisionBlend, err
	}
	work.Interlaced = c.f0.Interlaced

	start := time.Now()
	c.blender.Blend(work, c.f0, c.f1, frac)
	metrics.RecordBlendDuration(time.Since(start).Seconds())

	return work, DecisionBlend, nil
}
