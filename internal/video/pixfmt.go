package video

// PixelFormat describes a planar YUV sample layout. Only 3-plane formats
// are supported: luma in plane 0, chroma in planes 1 and 2 sharing the
// same subsampling factors. Samples wider than 8 bits are stored in
// native-endian 16-bit units.
type PixelFormat struct {
	Name      string
	BitDepth  int  // bits per sample, 8 to 16
	SubW      int  // log2 horizontal chroma subsampling
	SubH      int  // log2 vertical chroma subsampling
	FullRange bool // full-range (JPEG) variant
}

// NumPlanes is the plane count shared by all supported formats.
const NumPlanes = 3

// formats lists every pixel format the converter accepts, 8-bit layouts
// first, then the 9/10/12-bit variants.
var formats = []PixelFormat{
	{Name: "yuv410p", BitDepth: 8, SubW: 2, SubH: 2},
	{Name: "yuv411p", BitDepth: 8, SubW: 2, SubH: 0},
	{Name: "yuvj411p", BitDepth: 8, SubW: 2, SubH: 0, FullRange: true},
	{Name: "yuv420p", BitDepth: 8, SubW: 1, SubH: 1},
	{Name: "yuvj420p", BitDepth: 8, SubW: 1, SubH: 1, FullRange: true},
	{Name: "yuv422p", BitDepth: 8, SubW: 1, SubH: 0},
	{Name: "yuvj422p", BitDepth: 8, SubW: 1, SubH: 0, FullRange: true},
	{Name: "yuv440p", BitDepth: 8, SubW: 0, SubH: 1},
	{Name: "yuvj440p", BitDepth: 8, SubW: 0, SubH: 1, FullRange: true},
	{Name: "yuv444p", BitDepth: 8, SubW: 0, SubH: 0},
	{Name: "yuvj444p", BitDepth: 8, SubW: 0, SubH: 0, FullRange: true},
	{Name: "yuv420p9", BitDepth: 9, SubW: 1, SubH: 1},
	{Name: "yuv420p10", BitDepth: 10, SubW: 1, SubH: 1},
	{Name: "yuv420p12", BitDepth: 12, SubW: 1, SubH: 1},
	{Name: "yuv422p9", BitDepth: 9, SubW: 1, SubH: 0},
	{Name: "yuv422p10", BitDepth: 10, SubW: 1, SubH: 0},
	{Name: "yuv422p12", BitDepth: 12, SubW: 1, SubH: 0},
	{Name: "yuv444p9", BitDepth: 9, SubW: 0, SubH: 0},
	{Name: "yuv444p10", BitDepth: 10, SubW: 0, SubH: 0},
	{Name: "yuv444p12", BitDepth: 12, SubW: 0, SubH: 0},
}

var formatsByName = func() map[string]PixelFormat {
	m := make(map[string]PixelFormat, len(formats))
	for _, f := range formats {
		m[f.Name] = f
	}
	return m
}()

// Formats returns the supported pixel formats in registration order.
func Formats() []PixelFormat {
	out := make([]PixelFormat, len(formats))
	copy(out, formats)
	return out
}

// FormatByName looks up a pixel format by its canonical name.
func FormatByName(name string) (PixelFormat, bool) {
	f, ok := formatsByName[name]
	return f, ok
}

// String returns the canonical format name.
func (f PixelFormat) String() string {
	return f.Name
}

// BytesPerSample returns the storage width of one sample.
func (f PixelFormat) BytesPerSample() int {
	if f.BitDepth > 8 {
		return 2
	}
	return 1
}

// HighDepth reports whether samples are stored in 16-bit units.
func (f PixelFormat) HighDepth() bool {
	return f.BitDepth > 8
}

// ceilRshift divides by a power of two, rounding up. Odd luma dimensions
// still need a full chroma sample to cover the edge.
func ceilRshift(v, shift int) int {
	return (v + (1 << shift) - 1) >> shift
}

// PlaneDims returns the sample dimensions of one plane for the given
// frame dimensions.
func (f PixelFormat) PlaneDims(plane, width, height int) (w, h int) {
	if plane == 0 {
		return width, height
	}
	return ceilRshift(width, f.SubW), ceilRshift(height, f.SubH)
}

// FrameSize returns the total byte size of an uncompressed frame.
func (f PixelFormat) FrameSize(width, height int) int {
	total := 0
	for plane := 0; plane < NumPlanes; plane++ {
		w, h := f.PlaneDims(plane, width, height)
		total += w * h * f.BytesPerSample()
	}
	return total
}
