package y4m

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/calign/retime/internal/errors"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/video"
)

// Reader decodes frames from a YUV4MPEG2 stream. Frames are numbered from
// zero and stamped with their index as the presentation timestamp, in the
// time base Header.TimeBase.
type Reader struct {
	br     *bufio.Reader
	header Header
	logger logger.Logger

	headerBytes int64
	index       int64
}

// NewReader parses the stream header and prepares frame decoding.
func NewReader(r io.Reader, log logger.Logger) (*Reader, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}

	reader := &Reader{
		br:     bufio.NewReader(r),
		logger: log,
	}

	line, err := reader.readLine(maxHeaderLine)
	if err != nil {
		return nil, apperrors.WrapMalformedInputError(err, "reading stream header")
	}
	reader.headerBytes = int64(len(line)) + 1

	header, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}
	reader.header = header

	if !header.Interlacing.Progressive() {
		log.WithField("interlacing", header.Interlacing.String()).
			Warn("Interlaced stream declared, temporal blending assumes progressive frames")
	}

	log.WithFields(map[string]interface{}{
		"width":      header.Width,
		"height":     header.Height,
		"frame_rate": header.FrameRate.String(),
		"format":     header.Format.Name,
	}).Info("YUV4MPEG2 stream opened")

	return reader, nil
}

// Header returns the parsed stream header.
func (r *Reader) Header() Header {
	return r.header
}

// FramesRead returns the number of frames decoded so far.
func (r *Reader) FramesRead() int64 {
	return r.index
}

// FrameRecordSize returns the encoded size of one frame record as this
// package writes them. Together with HeaderBytes it estimates the frame
// count of a seekable stream for progress reporting.
func (r *Reader) FrameRecordSize() int64 {
	return int64(len(frameMagic)) + 1 + int64(r.header.FrameSize())
}

// HeaderBytes returns the encoded size of the stream header line.
func (r *Reader) HeaderBytes() int64 {
	return r.headerBytes
}

// ReadFrame decodes the next frame. The frame is allocated through alloc
// when one is given, charging it to that session's budget; the caller owns
// the result. A clean end of stream returns io.EOF.
func (r *Reader) ReadFrame(alloc *video.Allocator) (*video.Frame, error) {
	if err := r.readFrameMarker(); err != nil {
		return nil, err
	}

	var frame *video.Frame
	var err error
	if alloc != nil {
		frame, err = alloc.NewFrame(r.header.Format, r.header.Width, r.header.Height)
		if err != nil {
			return nil, err
		}
	} else {
		frame = video.NewFrame(r.header.Format, r.header.Width, r.header.Height)
	}

	for plane := 0; plane < video.NumPlanes; plane++ {
		if _, err := io.ReadFull(r.br, frame.Planes[plane].Data); err != nil {
			if alloc != nil {
				alloc.Free(frame)
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, apperrors.WrapMalformedInputError(err,
				fmt.Sprintf("frame %d truncated in plane %d", r.index, plane))
		}
		if r.header.Format.HighDepth() {
			decodeSamplesLE(&frame.Planes[plane])
		}
	}

	frame.PTS = r.index
	frame.Interlaced = !r.header.Interlacing.Progressive()
	r.index++
	return frame, nil
}

// readFrameMarker consumes the FRAME line in front of a frame payload.
// io.EOF at the line boundary is the clean end of the stream.
func (r *Reader) readFrameMarker() error {
	line, err := r.readLine(maxFrameLine)
	if err != nil {
		if err == io.EOF && line == "" {
			return io.EOF
		}
		return apperrors.WrapMalformedInputError(err,
			fmt.Sprintf("reading frame %d marker", r.index))
	}
	if line != frameMagic && !strings.HasPrefix(line, frameMagic+" ") {
		return apperrors.NewMalformedInputError(
			fmt.Sprintf("frame %d: expected FRAME marker, got %q", r.index, truncate(line, 32)))
	}
	return nil
}

// readLine reads up to the next newline, returning the line without it.
func (r *Reader) readLine(limit int) (string, error) {
	var sb strings.Builder
	for sb.Len() < limit {
		b, err := r.br.ReadByte()
		if err != nil {
			return sb.String(), err
		}
		if b == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
	return "", fmt.Errorf("line exceeds %d bytes", limit)
}

// decodeSamplesLE rewrites wire sample bytes as native-endian storage.
// The store is a no-op on little-endian hosts.
func decodeSamplesLE(p *video.Plane) {
	pix := p.Pix16()
	for i := range pix {
		pix[i] = binary.LittleEndian.Uint16(p.Data[2*i:])
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
