package y4m

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/video"
)

// Writer encodes frames to a YUV4MPEG2 stream. The header is written in
// front of the first frame; Flush must be called once the stream is
// complete.
type Writer struct {
	bw     *bufio.Writer
	header Header

	wroteHeader bool
	frames      int64

	// rowBuf holds one converted sample row for high depth planes.
	rowBuf []byte
}

// NewWriter prepares a stream writer for the given header. The header is
// validated eagerly so configuration errors surface before any frame
// arrives.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	if header.Interlacing == 0 {
		header.Interlacing = InterlaceProgressive
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	if _, ok := wireTags[header.Format.Name]; !ok {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("pixel format %s has no YUV4MPEG2 colorspace", header.Format))
	}
	return &Writer{
		bw:     bufio.NewWriter(w),
		header: header,
	}, nil
}

// Header returns the stream header being written.
func (w *Writer) Header() Header {
	return w.header
}

// FramesWritten returns the number of frame records emitted.
func (w *Writer) FramesWritten() int64 {
	return w.frames
}

// WriteHeader emits the stream header line. WriteFrame calls it
// implicitly in front of the first frame.
func (w *Writer) WriteHeader() error {
	if w.wroteHeader {
		return nil
	}
	line, err := w.header.headerLine()
	if err != nil {
		return err
	}
	if _, err := w.bw.WriteString(line); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	w.wroteHeader = true
	return nil
}

// WriteFrame emits one FRAME record. The frame must match the stream
// geometry; the caller keeps ownership of it.
func (w *Writer) WriteFrame(f *video.Frame) error {
	if f == nil {
		return apperrors.NewValidationError("nil frame")
	}
	if f.Width != w.header.Width || f.Height != w.header.Height ||
		f.Format.Name != w.header.Format.Name {
		return apperrors.NewValidationError(fmt.Sprintf(
			"frame %s %dx%d does not match stream %s %dx%d",
			f.Format, f.Width, f.Height,
			w.header.Format, w.header.Width, w.header.Height))
	}

	if err := w.WriteHeader(); err != nil {
		return err
	}

	if _, err := w.bw.WriteString(frameMagic); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}

	for plane := 0; plane < video.NumPlanes; plane++ {
		if err := w.writePlane(&f.Planes[plane]); err != nil {
			return apperrors.WrapInternalError(err,
				fmt.Sprintf("writing frame %d plane %d", w.frames, plane))
		}
	}

	w.frames++
	return nil
}

// writePlane emits one plane's samples in wire order. High depth samples
// are converted row by row to little-endian byte order.
func (w *Writer) writePlane(p *video.Plane) error {
	if !w.header.Format.HighDepth() {
		_, err := w.bw.Write(p.Data)
		return err
	}

	if len(w.rowBuf) < p.Stride {
		w.rowBuf = make([]byte, p.Stride)
	}
	row := w.rowBuf[:p.Stride]
	pix := p.Pix16()
	for y := 0; y < p.Height; y++ {
		base := y * p.Width
		for x := 0; x < p.Width; x++ {
			binary.LittleEndian.PutUint16(row[2*x:], pix[base+x])
		}
		if _, err := w.bw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
