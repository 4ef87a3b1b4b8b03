// Package scene detects abrupt content changes between consecutive
// frames so the blender can fall back to hard selection instead of
// cross-fading across a cut.
package scene

import (
	"fmt"
	"math"

	"github.com/calign/retime/internal/video"
)

// Detector computes a normalized activity score between two frames. The
// score is the mean absolute frame difference (MAFD) of the luma plane
// over 8x8 blocks, damped by its change from the previous pair: a frame
// that is merely bright scores low, and so does the first frame after a
// genuine cut, whose own MAFD baseline is already elevated.
//
// The detector holds the previous MAFD between calls and is not safe for
// concurrent use. One conversion session owns one detector.
type Detector struct {
	bitDepth int
	prevMafd float64
}

// NewDetector creates a detector for the given sample bit depth.
func NewDetector(bitDepth int) (*Detector, error) {
	if bitDepth < 8 || bitDepth > 16 {
		return nil, fmt.Errorf("no block difference kernel for bit depth %d", bitDepth)
	}
	return &Detector{bitDepth: bitDepth}, nil
}

// Score returns the activity score for the pair in [0, 100]. Frames with
// differing shapes score a neutral zero and leave the detector state
// untouched.
func (d *Detector) Score(current, next *video.Frame) float64 {
	if current == nil || next == nil ||
		current.Width != next.Width || current.Height != next.Height {
		return 0
	}

	var sad int64
	if current.Format.HighDepth() {
		p1, p2 := &current.Planes[0], &next.Planes[0]
		sad = blockSAD(p1.Pix16(), p1.Stride/2, p2.Pix16(), p2.Stride/2,
			current.Width, current.Height)
	} else {
		p1, p2 := &current.Planes[0], &next.Planes[0]
		sad = blockSAD(p1.Data, p1.Stride, p2.Data, p2.Stride,
			current.Width, current.Height)
	}

	norm := (current.Height &^ 7) * (current.Width &^ 7)
	if norm < 1 {
		norm = 1
	}

	mafd := float64(sad) * 100.0 / float64(norm) / float64(int(1)<<d.bitDepth)
	diff := math.Abs(mafd - d.prevMafd)
	score := math.Min(mafd, diff)
	if score > 100 {
		score = 100
	}
	d.prevMafd = mafd
	return score
}

// blockSAD sums absolute sample differences over the non-overlapping
// 8x8 blocks covering the largest block-aligned sub-rectangle. Strides
// are in samples.
func blockSAD[T ~uint8 | ~uint16](p1 []T, stride1 int, p2 []T, stride2 int, width, height int) int64 {
	var sad int64
	for y := 0; y < height-7; y += 8 {
		for x := 0; x < width-7; x += 8 {
			sad += sad8x8(p1[y*stride1+x:], stride1, p2[y*stride2+x:], stride2)
		}
	}
	return sad
}

func sad8x8[T ~uint8 | ~uint16](p1 []T, stride1 int, p2 []T, stride2 int) int64 {
	var sad int64
	for y := 0; y < 8; y++ {
		row1 := p1[y*stride1 : y*stride1+8]
		row2 := p2[y*stride2 : y*stride2+8]
		for x := 0; x < 8; x++ {
			d := int64(row1[x]) - int64(row2[x])
			if d < 0 {
				d = -d
			}
			sad += d
		}
	}
	return sad
}
