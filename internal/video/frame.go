package video

import (
	"math"
	"unsafe"
)

// NoPTS marks a frame whose presentation timestamp is unknown.
const NoPTS = math.MinInt64

// Plane holds one component of a planar frame. Rows are tightly packed:
// Stride is Width times the sample storage width.
type Plane struct {
	Data   []byte
	Stride int // bytes per row
	Width  int // samples per row
	Height int // rows
}

// Pix16 views the plane storage as native-endian 16-bit samples. Only
// meaningful for high-depth formats, where Data is allocated with even
// length and 16-bit alignment.
func (p *Plane) Pix16() []uint16 {
	if len(p.Data) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&p.Data[0])), len(p.Data)/2)
}

// Frame is one uncompressed planar image plus its timing metadata.
//
// Frames move through the converter by ownership transfer: whoever holds
// the pointer may read the planes, and exactly one holder is responsible
// for releasing it. Clones share plane storage with their source and
// carry no budget charge of their own.
type Frame struct {
	Format PixelFormat
	Width  int
	Height int

	// PTS is in the session's working time base, NoPTS when the source
	// provided no timestamp.
	PTS        int64
	Interlaced bool

	Planes [NumPlanes]Plane

	// allocBytes is the budget charge attached to this frame's storage.
	// Zero for clones and untracked frames.
	allocBytes int64
}

// NewFrame allocates an untracked frame with zeroed planes. Sessions that
// enforce a memory budget allocate through an Allocator instead.
func NewFrame(format PixelFormat, width, height int) *Frame {
	f := &Frame{
		Format: format,
		Width:  width,
		Height: height,
		PTS:    NoPTS,
	}
	bps := format.BytesPerSample()
	for plane := 0; plane < NumPlanes; plane++ {
		w, h := format.PlaneDims(plane, width, height)
		f.Planes[plane] = Plane{
			Data:   make([]byte, w*h*bps),
			Stride: w * bps,
			Width:  w,
			Height: h,
		}
	}
	return f
}

// HasPTS reports whether the frame carries a usable timestamp.
func (f *Frame) HasPTS() bool {
	return f.PTS != NoPTS
}

// Clone returns a frame sharing this frame's plane storage. The clone can
// be retimed and emitted independently while the original stays held.
func (f *Frame) Clone() *Frame {
	c := *f
	c.allocBytes = 0
	return &c
}

// Size returns the total byte size of the frame's plane storage.
func (f *Frame) Size() int64 {
	var total int64
	for plane := range f.Planes {
		total += int64(len(f.Planes[plane].Data))
	}
	return total
}

// SameShape reports whether two frames can be paired for blending and
// scene scoring.
func (f *Frame) SameShape(other *Frame) bool {
	return other != nil &&
		f.Width == other.Width &&
		f.Height == other.Height &&
		f.Format.Name == other.Format.Name
}
