// Package blend mixes two same-shape planar frames with fixed-point
// weights, splitting the work across goroutines by row ranges.
package blend

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/calign/retime/internal/video"
)

// Blender performs weighted blends at one configured bit depth. Weights
// are expressed against FullScale = 1 << bitDepth and always sum to it:
// the caller passes the second frame's weight and the first frame's
// weight is the remainder.
//
// Luma samples mix directly. Chroma samples are centered on mid-gray
// before mixing so an unequal weighting does not drift the color bias,
// then the half-sample rounding bias is re-added fixed-point.
type Blender struct {
	bitDepth  int
	fullScale int
	half      int
	uvRound   int
	workers   int
}

// New creates a blender. workers caps row parallelism; zero or negative
// selects the number of CPUs.
func New(bitDepth, workers int) (*Blender, error) {
	if bitDepth < 8 || bitDepth > 16 {
		return nil, fmt.Errorf("no blend kernel for bit depth %d", bitDepth)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	fullScale := 1 << bitDepth
	return &Blender{
		bitDepth:  bitDepth,
		fullScale: fullScale,
		half:      fullScale / 2,
		uvRound:   (fullScale + 1) * (fullScale / 2),
		workers:   workers,
	}, nil
}

// FullScale returns the weight denominator, 1 << bitDepth.
func (b *Blender) FullScale() int {
	return b.fullScale
}

// Blend fills dst with src0 and src1 mixed at the given src1 weight.
// All three frames must share one shape; dst must not alias the sources.
// The call returns after every row range has been written.
func (b *Blender) Blend(dst, src0, src1 *video.Frame, src1Weight int) {
	w1 := src1Weight
	w0 := b.fullScale - src1Weight

	jobs := dst.Height
	if jobs > b.workers {
		jobs = b.workers
	}
	if jobs < 1 {
		jobs = 1
	}

	runParallel(jobs, func(job, total int) {
		b.blendJob(dst, src0, src1, w0, w1, job, total)
	})
}

// blendJob processes one job's row range of every plane. Ranges are
// computed per plane from that plane's height so subsampled chroma
// planes split proportionally.
func (b *Blender) blendJob(dst, src0, src1 *video.Frame, w0, w1, job, total int) {
	for plane := 0; plane < video.NumPlanes; plane++ {
		pd := &dst.Planes[plane]
		p0 := &src0.Planes[plane]
		p1 := &src1.Planes[plane]

		start := pd.Height * job / total
		end := pd.Height * (job + 1) / total
		chroma := plane == 1 || plane == 2

		if dst.Format.HighDepth() {
			blendRows(pd.Pix16(), pd.Stride/2, p0.Pix16(), p0.Stride/2,
				p1.Pix16(), p1.Stride/2, pd.Width, start, end,
				w0, w1, b.half, b.uvRound, b.bitDepth, chroma)
		} else {
			blendRows(pd.Data, pd.Stride, p0.Data, p0.Stride,
				p1.Data, p1.Stride, pd.Width, start, end,
				w0, w1, b.half, b.uvRound, b.bitDepth, chroma)
		}
	}
}

// blendRows mixes rows [start, end) of one plane. Strides are in
// samples. Each worker owns a disjoint row range of dst, so no
// synchronization is needed inside the kernel.
func blendRows[T ~uint8 | ~uint16](dst []T, dstStride int, src0 []T, stride0 int, src1 []T, stride1 int, width, start, end, w0, w1, half, uvRound, shift int, chroma bool) {
	for line := start; line < end; line++ {
		d := dst[line*dstStride : line*dstStride+width]
		s0 := src0[line*stride0 : line*stride0+width]
		s1 := src1[line*stride1 : line*stride1+width]
		if chroma {
			for i := 0; i < width; i++ {
				d[i] = T(((int(s0[i])-half)*w0 + (int(s1[i])-half)*w1 + uvRound) >> shift)
			}
		} else {
			for i := 0; i < width; i++ {
				d[i] = T((int(s0[i])*w0 + int(s1[i])*w1 + half) >> shift)
			}
		}
	}
}

// runParallel executes fn(job, total) for each job across goroutines
// and joins before returning.
func runParallel(total int, fn func(job, total int)) {
	if total <= 1 {
		fn(0, 1)
		return
	}
	var wg sync.WaitGroup
	wg.Add(total)
	for job := 0; job < total; job++ {
		go func(job int) {
			defer wg.Done()
			fn(job, total)
		}(job)
	}
	wg.Wait()
}
