package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/calign/retime/internal/config"
	"github.com/calign/retime/internal/logger"
	"github.com/calign/retime/internal/pace"
	"github.com/calign/retime/internal/resample"
	"github.com/calign/retime/internal/server"
	"github.com/calign/retime/internal/video"
	"github.com/calign/retime/internal/y4m"
	"github.com/calign/retime/pkg/version"
)

// inputQueueDepth bounds how far the reader may run ahead of the converter.
const inputQueueDepth = 4

func main() {
	var (
		configPath  string
		showVersion bool

		inputPath  string
		outputPath string
		fps        string
		realtime   bool
		progress   bool
		statusSrv  bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (built-in defaults when empty)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.StringVar(&inputPath, "i", "", `Input YUV4MPEG2 stream, "-" for stdin`)
	flag.StringVar(&outputPath, "o", "", `Output YUV4MPEG2 stream, "-" for stdout`)
	flag.StringVar(&fps, "fps", "", "Output frame rate: 60, 60000/1001, 29.97, ntsc, pal, film, ntsc-film")
	flag.BoolVar(&realtime, "realtime", false, "Pace output delivery to the output frame rate")
	flag.BoolVar(&progress, "progress", false, "Render a progress bar on stderr")
	flag.BoolVar(&statusSrv, "server", false, "Enable the HTTP status server")
	flag.Parse()

	// Show version and exit if requested
	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command line switches override the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			cfg.IO.Input = inputPath
		case "o":
			cfg.IO.Output = outputPath
		case "fps":
			cfg.Convert.FPS = fps
		case "realtime":
			cfg.IO.Realtime = realtime
		case "progress":
			cfg.IO.Progress = progress
		case "server":
			cfg.Server.Enabled = statusSrv
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Logs must not interleave with a stream written to stdout.
	if cfg.IO.Output == "-" && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	// Initialize logger
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting retime frame rate converter")
	log.WithFields(logrus.Fields{
		"input":  cfg.IO.Input,
		"output": cfg.IO.Output,
		"fps":    cfg.Convert.FPS,
	}).Debug("Configuration loaded")

	targetRate, err := cfg.Convert.Rate()
	if err != nil {
		log.WithError(err).Fatal("Invalid output frame rate")
	}

	// Open the input stream and parse its header
	in, inFile, inSize, err := openInput(cfg.IO)
	if err != nil {
		log.WithError(err).Fatal("Failed to open input")
	}

	reader, err := y4m.NewReader(in, logger.NewLogrusAdapter(logger.WithComponent(log, "y4m")))
	if err != nil {
		log.WithError(err).Fatal("Failed to parse input stream")
	}
	srcHeader := reader.Header()

	// Open the output stream. The header carries the input geometry with
	// the frame rate swapped for the target.
	out, outFile, err := openOutput(cfg.IO)
	if err != nil {
		log.WithError(err).Fatal("Failed to open output")
	}

	dstHeader := srcHeader
	dstHeader.FrameRate = targetRate
	writer, err := y4m.NewWriter(out, dstHeader)
	if err != nil {
		log.WithError(err).Fatal("Failed to prepare output stream")
	}
	if err := writer.WriteHeader(); err != nil {
		log.WithError(err).Fatal("Failed to write output header")
	}

	budget := video.NewBudget(cfg.Memory.MaxTotal, cfg.Memory.MaxPerSession)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logrus.NewEntry(log)))
	defer cancel()

	var interrupted atomic.Bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		interrupted.Store(true)
		cancel()
	}()

	// Create the conversion pipeline
	input := make(chan *video.Frame, inputQueueDepth)

	pipeline, err := resample.NewPipeline(ctx, resample.PipelineConfig{
		Budget: budget,
		Converter: resample.Params{
			Format:         srcHeader.Format,
			Width:          srcHeader.Width,
			Height:         srcHeader.Height,
			SourceTimeBase: srcHeader.TimeBase(),
			TargetRate:     targetRate,
			InterpStart:    cfg.Convert.InterpStart,
			InterpEnd:      cfg.Convert.InterpEnd,
			SceneThreshold: cfg.Convert.Scene,
			SceneDetect:    cfg.Convert.SceneChangeDetect,
			Workers:        cfg.Convert.Workers,
		},
	}, input)
	if err != nil {
		log.WithError(err).Fatal("Failed to create conversion pipeline")
	}

	if err := pipeline.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start conversion pipeline")
	}

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	// Start status server if enabled
	if cfg.Server.Enabled {
		srv := server.New(&cfg.Server, log, budget, pipeline)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.WithError(err).Error("Status server error")
			}
		}()
	}

	// Feed source frames to the pipeline. A read failure still closes the
	// input channel so the converter flushes what it already holds.
	alloc := pipeline.GetAllocator()
	var readFailed atomic.Bool

	go func() {
		defer close(input)
		for {
			frame, err := reader.ReadFrame(alloc)
			if err != nil {
				if errors.Is(err, io.EOF) {
					log.WithField("frames", reader.FramesRead()).Debug("Input stream ended")
				} else {
					readFailed.Store(true)
					log.WithError(err).WithField("frame", reader.FramesRead()).Error("Input read failed")
				}
				return
			}
			select {
			case input <- frame:
			case <-ctx.Done():
				alloc.Free(frame)
				return
			}
		}
	}()

	var pacer *pace.Pacer
	if cfg.IO.Realtime {
		pacer, err = pace.New(targetRate, logger.NewLogrusAdapter(logger.WithComponent(log, "pace")))
		if err != nil {
			log.WithError(err).Fatal("Failed to create output pacer")
		}
	}

	var bar *progressbar.ProgressBar
	if cfg.IO.Progress {
		bar = newProgressBar(reader, inSize, targetRate)
	}

	// Drain the pipeline into the output stream
	start := time.Now()
	var writeErr error

	for frame := range pipeline.GetOutput() {
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				alloc.Free(frame)
				break
			}
		}
		err := writer.WriteFrame(frame)
		alloc.Free(frame)
		if err != nil {
			writeErr = err
			log.WithError(err).WithField("frame", writer.FramesWritten()).Error("Output write failed")
			cancel()
			break
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	// Frames still queued after an abort go back to the budget.
	for frame := range pipeline.GetOutput() {
		alloc.Free(frame)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	// Cleanup
	if err := pipeline.Stop(); err != nil {
		log.WithError(err).Error("Failed to stop conversion pipeline")
	}

	if err := writer.Flush(); err != nil && writeErr == nil {
		writeErr = err
		log.WithError(err).Error("Failed to flush output stream")
	}
	if err := out.Flush(); err != nil && writeErr == nil {
		writeErr = err
		log.WithError(err).Error("Failed to flush output buffer")
	}
	if outFile != nil {
		if err := outFile.Close(); err != nil && writeErr == nil {
			writeErr = err
			log.WithError(err).Error("Failed to close output file")
		}
	}
	if inFile != nil {
		inFile.Close()
	}

	stats := pipeline.GetStats()
	elapsed := time.Since(start)

	fields := logrus.Fields{
		"frames_in":       stats.FramesIn,
		"frames_out":      stats.FramesOut,
		"frames_blended":  stats.Converter.FramesBlended,
		"frames_cloned":   stats.Converter.FramesCloned,
		"frames_dropped":  stats.Converter.FramesDropped,
		"discontinuities": stats.Converter.Discontinuities,
		"scene_fallbacks": stats.Converter.SceneFallbacks,
		"elapsed":         elapsed.Round(time.Millisecond).String(),
	}
	if elapsed > 0 {
		fields["output_fps"] = fmt.Sprintf("%.1f", float64(stats.FramesOut)/elapsed.Seconds())
	}
	if pacer != nil {
		fields["paced_wait"] = pacer.TotalWaited().Round(time.Millisecond).String()
	}

	switch {
	case writeErr != nil || readFailed.Load():
		log.WithFields(fields).Error("Conversion failed")
		os.Exit(1)
	case interrupted.Load():
		log.WithFields(fields).Warn("Conversion interrupted")
		os.Exit(1)
	default:
		log.WithFields(fields).Info("Conversion complete")
	}
}

// openInput opens the configured input stream. The returned size is the
// stream length in bytes, or -1 when the input is not seekable.
func openInput(cfg config.IOConfig) (io.Reader, *os.File, int64, error) {
	if cfg.Input == "-" {
		return bufio.NewReaderSize(os.Stdin, cfg.ReadBuffer), nil, -1, nil
	}
	f, err := os.Open(cfg.Input)
	if err != nil {
		return nil, nil, 0, err
	}
	size := int64(-1)
	if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
		size = fi.Size()
	}
	return bufio.NewReaderSize(f, cfg.ReadBuffer), f, size, nil
}

// openOutput opens the configured output stream behind a write buffer.
func openOutput(cfg config.IOConfig) (*bufio.Writer, *os.File, error) {
	if cfg.Output == "-" {
		return bufio.NewWriterSize(os.Stdout, cfg.WriteBuffer), nil, nil
	}
	f, err := os.Create(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	return bufio.NewWriterSize(f, cfg.WriteBuffer), f, nil
}

// newProgressBar sizes a stderr progress bar from the input stream length
// when it is known. Pipes get a spinner.
func newProgressBar(reader *y4m.Reader, inSize int64, target video.Rational) *progressbar.ProgressBar {
	total := int64(-1)
	if inSize > 0 {
		inFrames := (inSize - reader.HeaderBytes()) / reader.FrameRecordSize()
		src := reader.Header().FrameRate
		if inFrames > 0 && src.IsValid() {
			total = int64(float64(inFrames) * target.Float64() / src.Float64())
		}
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("fps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
