package blend

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calign/retime/internal/video"
)

func newFrame(t *testing.T, name string, width, height int) *video.Frame {
	t.Helper()
	format, ok := video.FormatByName(name)
	require.True(t, ok)
	return video.NewFrame(format, width, height)
}

func fillFrame8(f *video.Frame, luma, cb, cr byte) {
	values := [video.NumPlanes]byte{luma, cb, cr}
	for plane := range f.Planes {
		data := f.Planes[plane].Data
		for i := range data {
			data[i] = values[plane]
		}
	}
}

func fillFrame16(f *video.Frame, luma, cb, cr uint16) {
	values := [video.NumPlanes]uint16{luma, cb, cr}
	for plane := range f.Planes {
		pix := f.Planes[plane].Pix16()
		for i := range pix {
			pix[i] = values[plane]
		}
	}
}

func patternFrame8(f *video.Frame, seed int) {
	for plane := range f.Planes {
		data := f.Planes[plane].Data
		for i := range data {
			data[i] = byte((i*7 + seed*13 + plane*29) % 251)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("Valid depths", func(t *testing.T) {
		for _, depth := range []int{8, 9, 10, 12, 16} {
			b, err := New(depth, 4)
			require.NoError(t, err)
			assert.Equal(t, 1<<depth, b.FullScale())
		}
	})

	t.Run("Invalid depths", func(t *testing.T) {
		for _, depth := range []int{0, 7, 17} {
			_, err := New(depth, 4)
			assert.Error(t, err)
		}
	})

	t.Run("Zero workers selects a positive default", func(t *testing.T) {
		b, err := New(8, 0)
		require.NoError(t, err)
		assert.Greater(t, b.workers, 0)
	})
}

func TestBlender_UniformSourcesStayExact(t *testing.T) {
	// When both sources hold the same value the blend must reproduce it
	// exactly for any weight, on luma and chroma alike.
	t.Run("8-bit", func(t *testing.T) {
		b, err := New(8, 2)
		require.NoError(t, err)

		for _, v := range []byte{0, 1, 16, 128, 200, 255} {
			for _, w1 := range []int{0, 1, 102, 128, 200, 256} {
				src0 := newFrame(t, "yuv420p", 16, 16)
				src1 := newFrame(t, "yuv420p", 16, 16)
				dst := newFrame(t, "yuv420p", 16, 16)
				fillFrame8(src0, v, v, v)
				fillFrame8(src1, v, v, v)

				b.Blend(dst, src0, src1, w1)

				for plane := range dst.Planes {
					for _, got := range dst.Planes[plane].Data {
						require.Equal(t, v, got, "value %d weight %d plane %d", v, w1, plane)
					}
				}
			}
		}
	})

	t.Run("10-bit", func(t *testing.T) {
		b, err := New(10, 2)
		require.NoError(t, err)

		for _, v := range []uint16{0, 1, 512, 1000, 1023} {
			src0 := newFrame(t, "yuv420p10", 16, 16)
			src1 := newFrame(t, "yuv420p10", 16, 16)
			dst := newFrame(t, "yuv420p10", 16, 16)
			fillFrame16(src0, v, v, v)
			fillFrame16(src1, v, v, v)

			b.Blend(dst, src0, src1, 400)

			for plane := range dst.Planes {
				for _, got := range dst.Planes[plane].Pix16() {
					require.Equal(t, v, got, "value %d plane %d", v, plane)
				}
			}
		}
	})
}

func TestBlender_KnownValues(t *testing.T) {
	b, err := New(8, 1)
	require.NoError(t, err)

	t.Run("Even split", func(t *testing.T) {
		src0 := newFrame(t, "yuv444p", 8, 8)
		src1 := newFrame(t, "yuv444p", 8, 8)
		dst := newFrame(t, "yuv444p", 8, 8)
		fillFrame8(src0, 100, 64, 64)
		fillFrame8(src1, 200, 192, 192)

		b.Blend(dst, src0, src1, 128)

		// Luma: (100*128 + 200*128 + 128) >> 8.
		assert.Equal(t, byte(150), dst.Planes[0].Data[0])
		// Chroma centers on 128 before mixing.
		assert.Equal(t, byte(128), dst.Planes[1].Data[0])
		assert.Equal(t, byte(128), dst.Planes[2].Data[0])
	})

	t.Run("60/40 split", func(t *testing.T) {
		src0 := newFrame(t, "yuv444p", 8, 8)
		src1 := newFrame(t, "yuv444p", 8, 8)
		dst := newFrame(t, "yuv444p", 8, 8)
		fillFrame8(src0, 100, 100, 100)
		fillFrame8(src1, 200, 200, 200)

		b.Blend(dst, src0, src1, 102)

		// (100*154 + 200*102 + 128) >> 8 = 140.
		assert.Equal(t, byte(140), dst.Planes[0].Data[0])
		// The chroma bias terms cancel for in-range samples, landing on
		// the same value as the luma formula.
		assert.Equal(t, byte(140), dst.Planes[1].Data[0])
	})

	t.Run("10-bit midpoint", func(t *testing.T) {
		b10, err := New(10, 1)
		require.NoError(t, err)

		src0 := newFrame(t, "yuv420p10", 8, 8)
		src1 := newFrame(t, "yuv420p10", 8, 8)
		dst := newFrame(t, "yuv420p10", 8, 8)
		fillFrame16(src0, 512, 512, 512)
		fillFrame16(src1, 1024, 512, 512)

		b10.Blend(dst, src0, src1, 512)

		// (512*512 + 1024*512 + 512) >> 10 = 768.
		assert.Equal(t, uint16(768), dst.Planes[0].Pix16()[0])
	})
}

func TestBlender_WeightExtremes(t *testing.T) {
	b, err := New(8, 3)
	require.NoError(t, err)

	src0 := newFrame(t, "yuv420p", 24, 24)
	src1 := newFrame(t, "yuv420p", 24, 24)
	patternFrame8(src0, 1)
	patternFrame8(src1, 2)

	t.Run("Full weight reproduces src1", func(t *testing.T) {
		dst := newFrame(t, "yuv420p", 24, 24)
		b.Blend(dst, src0, src1, b.FullScale())
		for plane := range dst.Planes {
			assert.True(t, bytes.Equal(src1.Planes[plane].Data, dst.Planes[plane].Data), "plane %d", plane)
		}
	})

	t.Run("Zero weight reproduces src0", func(t *testing.T) {
		dst := newFrame(t, "yuv420p", 24, 24)
		b.Blend(dst, src0, src1, 0)
		for plane := range dst.Planes {
			assert.True(t, bytes.Equal(src0.Planes[plane].Data, dst.Planes[plane].Data), "plane %d", plane)
		}
	})
}

func TestBlender_ParallelMatchesSerial(t *testing.T) {
	// Row partitioning must not affect the result, including when the
	// height does not divide evenly across workers.
	src0 := newFrame(t, "yuv420p", 40, 37)
	src1 := newFrame(t, "yuv420p", 40, 37)
	patternFrame8(src0, 3)
	patternFrame8(src1, 4)

	serial, err := New(8, 1)
	require.NoError(t, err)
	parallel, err := New(8, 7)
	require.NoError(t, err)

	dstSerial := newFrame(t, "yuv420p", 40, 37)
	dstParallel := newFrame(t, "yuv420p", 40, 37)

	serial.Blend(dstSerial, src0, src1, 77)
	parallel.Blend(dstParallel, src0, src1, 77)

	for plane := range dstSerial.Planes {
		assert.True(t, bytes.Equal(dstSerial.Planes[plane].Data, dstParallel.Planes[plane].Data), "plane %d", plane)
	}
}

func TestBlender_CoversAllChromaRows(t *testing.T) {
	// Subsampled planes are shorter than luma; every chroma row,
	// including the last, must be written.
	b, err := New(8, 4)
	require.NoError(t, err)

	src0 := newFrame(t, "yuv420p", 16, 16)
	src1 := newFrame(t, "yuv420p", 16, 16)
	dst := newFrame(t, "yuv420p", 16, 16)
	fillFrame8(src0, 50, 60, 70)
	fillFrame8(src1, 50, 60, 70)

	b.Blend(dst, src0, src1, 100)

	for _, plane := range []int{1, 2} {
		p := dst.Planes[plane]
		lastRow := p.Data[(p.Height-1)*p.Stride:]
		want := byte(60)
		if plane == 2 {
			want = 70
		}
		for _, got := range lastRow[:p.Width] {
			assert.Equal(t, want, got, "plane %d last row", plane)
		}
	}
}
