package resample

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calign/retime/internal/video"
)

// collectFrames drains the pipeline output until it closes. The pump closes
// the channel after flushing, so a closed input channel always terminates
// the loop.
func collectFrames(t *testing.T, output <-chan *video.Frame) []*video.Frame {
	t.Helper()
	var got []*video.Frame
	for {
		select {
		case f, ok := <-output:
			if !ok {
				return got
			}
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for pipeline output")
		}
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Run("nil input channel", func(t *testing.T) {
		_, err := NewPipeline(context.Background(), PipelineConfig{Converter: testParams(t)}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input channel required")
	})

	t.Run("invalid converter params", func(t *testing.T) {
		params := testParams(t)
		params.Width = 0
		input := make(chan *video.Frame)
		_, err := NewPipeline(context.Background(), PipelineConfig{Converter: params}, input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid frame dimensions")
	})

	t.Run("session id generated", func(t *testing.T) {
		input := make(chan *video.Frame)
		p, err := NewPipeline(context.Background(), PipelineConfig{Converter: testParams(t)}, input)
		require.NoError(t, err)
		assert.Len(t, p.SessionID(), 36)
	})

	t.Run("session id honored", func(t *testing.T) {
		input := make(chan *video.Frame)
		p, err := NewPipeline(context.Background(), PipelineConfig{
			SessionID: "session-under-test",
			Converter: testParams(t),
		}, input)
		require.NoError(t, err)
		assert.Equal(t, "session-under-test", p.SessionID())
	})
}

func TestPipeline_EndToEnd(t *testing.T) {
	params := testParams(t)
	frameSize := int64(params.Format.FrameSize(params.Width, params.Height))
	budget := video.NewBudget(64*frameSize, 64*frameSize)

	input := make(chan *video.Frame, 3)
	p, err := NewPipeline(context.Background(), PipelineConfig{
		SessionID: "end-to-end",
		Converter: params,
		Budget:    budget,
	}, input)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	input <- sourceFrame(params.Format, params.Width, params.Height, 0, 100)
	input <- sourceFrame(params.Format, params.Width, params.Height, 10, 200)
	input <- sourceFrame(params.Format, params.Width, params.Height, 20, 50)
	close(input)

	got := collectFrames(t, p.GetOutput())
	require.Len(t, got, 8)

	wantPTS := []int64{0, 4, 8, 12, 16, 20, 24, 28}
	wantLuma := []byte{100, 140, 180, 170, 110, 50, 50, 50}
	for i, f := range got {
		assert.Equal(t, wantPTS[i], f.PTS, "frame %d pts", i)
		assert.Equal(t, wantLuma[i], luma0(f), "frame %d luma", i)
	}

	for _, f := range got {
		p.GetAllocator().Free(f)
	}

	stats := p.GetStats()
	assert.Equal(t, "end-to-end", stats.SessionID)
	assert.Equal(t, uint64(3), stats.FramesIn)
	assert.Equal(t, uint64(8), stats.FramesOut)
	assert.Equal(t, uint64(0), stats.Errors)
	assert.Equal(t, uint64(4), stats.Converter.FramesBlended)
	assert.Equal(t, uint64(4), stats.Converter.FramesCloned)

	require.NoError(t, p.Stop())
	assert.Equal(t, int64(0), budget.Stats().Usage, "all frame memory released after stop")
}

func TestPipeline_DropsAreNonFatal(t *testing.T) {
	params := testParams(t)
	input := make(chan *video.Frame, 3)
	p, err := NewPipeline(context.Background(), PipelineConfig{Converter: params}, input)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	noPTS := sourceFrame(params.Format, params.Width, params.Height, 0, 77)
	noPTS.PTS = video.NoPTS

	input <- sourceFrame(params.Format, params.Width, params.Height, 0, 100)
	input <- noPTS
	input <- sourceFrame(params.Format, params.Width, params.Height, 10, 200)
	close(input)

	got := collectFrames(t, p.GetOutput())
	require.Len(t, got, 5)
	assert.Equal(t, []int64{0, 4, 8, 12, 16}, []int64{got[0].PTS, got[1].PTS, got[2].PTS, got[3].PTS, got[4].PTS})

	stats := p.GetStats()
	assert.Equal(t, uint64(3), stats.FramesIn, "dropped frame still counted as received")
	assert.Equal(t, uint64(0), stats.Errors, "drops are not pipeline errors")
	assert.Equal(t, uint64(2), stats.Converter.FramesIn)
	assert.Equal(t, uint64(1), stats.Converter.FramesDropped)

	require.NoError(t, p.Stop())
}

func TestPipeline_OutputChannelSafety(t *testing.T) {
	params := testParams(t)
	input := make(chan *video.Frame, 4)
	p, err := NewPipeline(context.Background(), PipelineConfig{Converter: params}, input)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	// Consumer that keeps reading until the channel closes.
	received := make(chan *video.Frame, 16)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for f := range p.GetOutput() {
			received <- f
		}
	}()

	input <- sourceFrame(params.Format, params.Width, params.Height, 0, 100)
	input <- sourceFrame(params.Format, params.Width, params.Height, 10, 200)

	// Two accepted frames drain three output instants before the window
	// closes at the second source timestamp.
	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for output frame %d", i)
		}
	}

	require.NoError(t, p.Stop())

	// Consumer must exit because Stop closes the output channel.
	select {
	case <-consumerDone:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit after Stop")
	}

	_, ok := <-p.GetOutput()
	assert.False(t, ok, "output channel should be closed after Stop")
}

func TestPipeline_ConcurrentStop(t *testing.T) {
	params := testParams(t)

	for i := 0; i < 10; i++ {
		input := make(chan *video.Frame)
		p, err := NewPipeline(context.Background(), PipelineConfig{Converter: params}, input)
		require.NoError(t, err)
		require.NoError(t, p.Start())

		var wg sync.WaitGroup
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Should not panic or deadlock.
				_ = p.Stop()
			}()
		}
		wg.Wait()
	}
}

func TestPipeline_ParentCancellationClosesOutput(t *testing.T) {
	params := testParams(t)
	ctx, cancel := context.WithCancel(context.Background())

	input := make(chan *video.Frame)
	p, err := NewPipeline(ctx, PipelineConfig{Converter: params}, input)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	cancel()

	select {
	case _, ok := <-p.GetOutput():
		assert.False(t, ok, "output closes without frames on cancellation")
	case <-time.After(time.Second):
		t.Fatal("output channel not closed after context cancellation")
	}

	require.NoError(t, p.Stop())
}

func TestPipeline_BudgetExhaustionStopsPipeline(t *testing.T) {
	params := testParams(t)
	frameSize := int64(params.Format.FrameSize(params.Width, params.Height))
	budget := video.NewBudget(frameSize/2, frameSize/2)

	input := make(chan *video.Frame, 3)
	p, err := NewPipeline(context.Background(), PipelineConfig{
		Converter: params,
		Budget:    budget,
	}, input)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	// The second frame opens a blend window and the first blended output
	// needs an allocation the budget cannot grant.
	input <- sourceFrame(params.Format, params.Width, params.Height, 0, 100)
	input <- sourceFrame(params.Format, params.Width, params.Height, 10, 200)

	got := collectFrames(t, p.GetOutput())
	assert.LessOrEqual(t, len(got), 1, "only the pre-window clone can be produced")

	require.NoError(t, p.Stop())
	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Budget.Usage)
}
