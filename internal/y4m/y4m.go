// Package y4m reads and writes YUV4MPEG2 streams, the uncompressed
// interchange format the converter consumes and produces. The stream is a
// single text header line followed by FRAME records carrying raw planar
// samples. High bit depth formats put little-endian sample bytes on the
// wire.
package y4m

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/video"
)

const (
	// Signature opens every stream header.
	Signature = "YUV4MPEG2"

	// frameMagic opens every frame record.
	frameMagic = "FRAME"

	// maxHeaderLine bounds the stream header. Real headers are well under
	// 200 bytes, so a longer line means we are not looking at a YUV4MPEG2
	// stream.
	maxHeaderLine = 1024

	// maxFrameLine bounds a FRAME record line including optional
	// per-frame parameters.
	maxFrameLine = 256
)

// Interlacing is the scan mode declared by the I header tag.
type Interlacing byte

const (
	InterlaceProgressive Interlacing = 'p'
	InterlaceTopFirst    Interlacing = 't'
	InterlaceBottomFirst Interlacing = 'b'
	InterlaceMixed       Interlacing = 'm'
)

// Progressive reports whether frames carry no field structure.
func (i Interlacing) Progressive() bool {
	return i == InterlaceProgressive
}

func (i Interlacing) String() string {
	return string(byte(i))
}

// Header describes a YUV4MPEG2 stream.
type Header struct {
	Width  int
	Height int

	// FrameRate is the nominal stream rate from the F tag. Frames carry
	// no explicit timestamps, so presentation times are the frame index
	// in the inverted rate.
	FrameRate video.Rational

	Interlacing Interlacing

	// Aspect is the pixel aspect ratio, 0:0 when the stream does not
	// declare one.
	Aspect video.Rational

	Format video.PixelFormat

	// FullRange records an XCOLORRANGE=FULL tag. For 8-bit formats the
	// range is already folded into Format; high depth formats keep the
	// base format and carry the range here.
	FullRange bool
}

// TimeBase returns the stream time base, one tick per source frame.
func (h Header) TimeBase() video.Rational {
	return h.FrameRate.Invert()
}

// FrameSize returns the raw payload size of one frame record.
func (h Header) FrameSize() int {
	return h.Format.FrameSize(h.Width, h.Height)
}

// Validate checks that the header describes a stream we can process.
func (h Header) Validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return apperrors.NewValidationError(
			fmt.Sprintf("invalid stream dimensions %dx%d", h.Width, h.Height))
	}
	if !h.FrameRate.IsValid() {
		return apperrors.NewValidationError(
			fmt.Sprintf("invalid frame rate %s", h.FrameRate))
	}
	if h.Format.Name == "" {
		return apperrors.NewValidationError("missing pixel format")
	}
	switch h.Interlacing {
	case InterlaceProgressive, InterlaceTopFirst, InterlaceBottomFirst, InterlaceMixed:
	default:
		return apperrors.NewValidationError(
			fmt.Sprintf("invalid interlacing mode %q", h.Interlacing))
	}
	return nil
}

// colorspaces maps C header tags to pixel format registry names. The
// three 4:2:0 siting variants share one layout; chroma siting is not
// tracked.
var colorspaces = map[string]string{
	"420":      "yuv420p",
	"420jpeg":  "yuv420p",
	"420mpeg2": "yuv420p",
	"420paldv": "yuv420p",
	"410":      "yuv410p",
	"411":      "yuv411p",
	"422":      "yuv422p",
	"440":      "yuv440p",
	"444":      "yuv444p",
	"420p9":    "yuv420p9",
	"422p9":    "yuv422p9",
	"444p9":    "yuv444p9",
	"420p10":   "yuv420p10",
	"422p10":   "yuv422p10",
	"444p10":   "yuv444p10",
	"420p12":   "yuv420p12",
	"422p12":   "yuv422p12",
	"444p12":   "yuv444p12",
}

// wireTags maps registry names back to the C tag written on output.
var wireTags = map[string]string{
	"yuv420p":   "420jpeg",
	"yuvj420p":  "420jpeg",
	"yuv410p":   "410",
	"yuv411p":   "411",
	"yuvj411p":  "411",
	"yuv422p":   "422",
	"yuvj422p":  "422",
	"yuv440p":   "440",
	"yuvj440p":  "440",
	"yuv444p":   "444",
	"yuvj444p":  "444",
	"yuv420p9":  "420p9",
	"yuv422p9":  "422p9",
	"yuv444p9":  "444p9",
	"yuv420p10": "420p10",
	"yuv422p10": "422p10",
	"yuv444p10": "444p10",
	"yuv420p12": "420p12",
	"yuv422p12": "422p12",
	"yuv444p12": "444p12",
}

// formatForColorspace resolves a C tag, folding a full range declaration
// into the matching yuvj format where one exists.
func formatForColorspace(tag string, fullRange bool) (video.PixelFormat, error) {
	name, ok := colorspaces[tag]
	if !ok {
		return video.PixelFormat{}, apperrors.NewMalformedInputError(
			fmt.Sprintf("unsupported colorspace %q", tag))
	}
	if fullRange {
		if j, ok := video.FormatByName("yuvj" + strings.TrimPrefix(name, "yuv")); ok {
			return j, nil
		}
	}
	format, ok := video.FormatByName(name)
	if !ok {
		return video.PixelFormat{}, apperrors.NewInternalError(
			fmt.Sprintf("colorspace %q maps to unknown format %q", tag, name))
	}
	return format, nil
}

// ParseHeader parses the stream header line, without its trailing
// newline.
func ParseHeader(line string) (Header, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != Signature {
		return Header{}, apperrors.NewMalformedInputError("missing YUV4MPEG2 signature")
	}

	h := Header{Interlacing: InterlaceProgressive}
	colorspace := "420"

	for _, tag := range fields[1:] {
		key, val := tag[0], tag[1:]
		var err error
		switch key {
		case 'W':
			h.Width, err = strconv.Atoi(val)
		case 'H':
			h.Height, err = strconv.Atoi(val)
		case 'F':
			h.FrameRate, err = parseRatio(val)
		case 'I':
			if len(val) != 1 {
				err = fmt.Errorf("bad interlacing %q", val)
				break
			}
			h.Interlacing = Interlacing(val[0])
		case 'A':
			// 0:0 declares an unknown aspect, keep it as is.
			h.Aspect, err = parseRatio(val)
		case 'C':
			colorspace = val
		case 'X':
			switch val {
			case "COLORRANGE=FULL":
				h.FullRange = true
			case "COLORRANGE=LIMITED":
				h.FullRange = false
			}
			// Other X metadata is application private, skip it.
		default:
			// Unknown tags are tolerated for forward compatibility.
		}
		if err != nil {
			return Header{}, apperrors.WrapMalformedInputError(err,
				fmt.Sprintf("bad header tag %q", tag))
		}
	}

	format, err := formatForColorspace(colorspace, h.FullRange)
	if err != nil {
		return Header{}, err
	}
	h.Format = format

	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// headerLine renders the header for writing, without the trailing
// newline.
func (h Header) headerLine() (string, error) {
	tag, ok := wireTags[h.Format.Name]
	if !ok {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("pixel format %s has no YUV4MPEG2 colorspace", h.Format))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s W%d H%d F%d:%d I%c A%d:%d C%s",
		Signature, h.Width, h.Height,
		h.FrameRate.Num, h.FrameRate.Den,
		byte(h.Interlacing),
		h.Aspect.Num, h.Aspect.Den,
		tag)
	if h.FullRange || h.Format.FullRange {
		sb.WriteString(" XCOLORRANGE=FULL")
	}
	return sb.String(), nil
}

// parseRatio parses a num:den tag value.
func parseRatio(val string) (video.Rational, error) {
	numStr, denStr, ok := strings.Cut(val, ":")
	if !ok {
		return video.Rational{}, fmt.Errorf("ratio %q is not num:den", val)
	}
	num, err := strconv.Atoi(numStr)
	if err != nil {
		return video.Rational{}, err
	}
	den, err := strconv.Atoi(denStr)
	if err != nil {
		return video.Rational{}, err
	}
	return video.Rational{Num: num, Den: den}, nil
}
