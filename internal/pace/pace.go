// Package pace spaces frame emission to the output frame rate so a live
// consumer downstream sees a realtime stream. Batch conversions skip it
// and run flat out.
package pace

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/video"
)

// Pacer delays successive emissions to one per output frame interval.
// The token bucket starts full, so the first frame passes immediately.
type Pacer struct {
	limiter *rate.Limiter
	fps     video.Rational

	waited  atomic.Int64 // total nanoseconds spent waiting
	frames  atomic.Int64
	sampled *logger.SampledLogger
}

// New creates a pacer for the given output frame rate.
func New(fps video.Rational, log logger.Logger) (*Pacer, error) {
	if !fps.IsValid() {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("invalid pacing rate %s", fps))
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(fps.Float64()), 1),
		fps:     fps,
		sampled: logger.NewConversionLogger(log),
	}, nil
}

// Wait blocks until the next frame may be emitted or the context ends.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	p.frames.Add(1)
	p.waited.Add(int64(waited))

	if waited > time.Millisecond {
		p.sampled.DebugWithCategory(logger.CategoryPacing, "Paced frame emission",
			map[string]interface{}{
				"waited_ms": waited.Milliseconds(),
				"rate":      p.fps.String(),
			})
	}
	return nil
}

// Rate returns the paced frame rate.
func (p *Pacer) Rate() video.Rational {
	return p.fps
}

// TotalWaited returns the cumulative time spent waiting.
func (p *Pacer) TotalWaited() time.Duration {
	return time.Duration(p.waited.Load())
}

// Frames returns the number of paced emissions.
func (p *Pacer) Frames() int64 {
	return p.frames.Load()
}
