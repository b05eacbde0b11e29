// Example bench runs the pipeline over a synthetic video stream and reports
// the frame rate, latency and resource use against the configured targets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/engine/rknn"
	"github.com/swdee/go-rtvideo/monitor"
	"github.com/swdee/go-rtvideo/pipeline"
	"github.com/swdee/go-rtvideo/preprocess/cv"
	"github.com/swdee/go-rtvideo/synthetic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	cfgFile := flag.String("c", "", "YAML configuration file, defaults are used if not set")
	frames := flag.Int("n", 600, "Number of frames to generate")
	objects := flag.Int("o", 4, "Number of moving objects in each frame, at most 8")
	width := flag.Int("width", 1280, "Width of generated frames")
	height := flag.Int("height", 720, "Height of generated frames")
	fps := flag.Float64("fps", 0, "Frame rate of the generated stream, 0 to generate as fast as possible")
	latency := flag.Duration("latency", 5*time.Millisecond, "Simulated inference time per frame")
	metricsAddr := flag.String("a", "", "HTTP address to serve Prometheus metrics on, overrides the config file")
	useCV := flag.Bool("cv", false, "Preprocess frames with OpenCV instead of the pure Go converter")
	dev := flag.Bool("dev", false, "Use development logging")
	modelFile := flag.String("m", "", "RKNN compiled YOLO model to run on the NPU instead of the synthetic detector, requires -tags rknn")
	npuCores := flag.Int("cores", 3, "Number of NPU cores to spread engines across")

	flag.Parse()

	cfg := rtvideo.DefaultConfig()

	if *cfgFile != "" {
		var err error
		if cfg, err = rtvideo.LoadConfig(*cfgFile); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}

	engine := synthetic.Factory(synthetic.EngineOptions{Latency: *latency})
	labels := synthetic.Labels()

	if *modelFile != "" {
		// a real model takes its classes, layout and labels from the config
		engine = rknn.NewFactory(rknn.Options{ModelFile: *modelFile, Cores: *npuCores})
		labels = nil
	} else {
		// the synthetic engine outputs one transposed column per palette colour
		cfg.ClassCount = len(synthetic.Palette)
		cfg.TensorLayout = "xywh_cls_transposed"
	}

	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, err := rtvideo.NewLogger(cfg.LogLevel, *dev)

	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}

	defer logger.Sync()

	opts := pipeline.Options{
		Config: cfg,
		Source: synthetic.NewSource(synthetic.SourceOptions{
			Width:   *width,
			Height:  *height,
			Objects: *objects,
			Frames:  *frames,
			FPS:     *fps,
			Seed:    time.Now().UnixNano(),
		}),
		Engine: engine,
		Labels: labels,
		Logger: logger,
	}

	if *useCV {
		resizer := cv.NewResizer(*width, *height, cfg.InputWidth, cfg.InputHeight)
		defer resizer.Close()
		opts.Preprocessor = resizer
	}

	p, err := pipeline.New(opts)

	if err != nil {
		log.Fatalf("Error creating pipeline: %v", err)
	}

	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		registry, err := monitor.NewRegistry(p.Monitor(), "rtvideo", p.Collector("rtvideo"))

		if err != nil {
			log.Fatalf("Error creating metrics registry: %v", err)
		}

		g.Go(func() error {
			return monitor.Serve(gctx, cfg.MetricsAddr, registry, logger)
		})
	}

	if sampler, err := monitor.NewProcessSampler(p.Monitor()); err != nil {
		logger.Warn("process sampling unavailable", zap.Error(err))
	} else {
		g.Go(func() error {
			sampler.Run(gctx, time.Second)
			return nil
		})
	}

	start := time.Now()

	if err := p.Start(); err != nil {
		log.Fatalf("Error starting pipeline: %v", err)
	}

	g.Go(func() error {
		defer stop()

		err := p.Flush(gctx)
		p.Stop()

		if gctx.Err() != nil {
			return nil
		}

		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("benchmark failed", zap.Error(err))
	}

	stats := p.Stats()
	mon := p.Monitor()

	log.Printf("Completed %d frames in %s, %d dropped\n", stats.Frames,
		time.Since(start).String(), stats.Dropped())

	for _, name := range []string{"input", "preprocess", "detect", "track"} {
		s := stats.Stages[name]
		log.Printf("  %-10s processed=%d dropped=%d errors=%d\n", name,
			s.Processed, s.Dropped, s.Errors)
	}

	log.Printf("Buffer pool: %d slots, %.2fMB, exhausted %d times\n",
		stats.Pool.TotalSlots, float64(stats.Pool.TotalBytes)/(1024*1024),
		stats.Pool.Exhausted)

	fmt.Println(mon.Summary())

	maxLatency := time.Duration(cfg.MaxLatencyMs * float64(time.Millisecond))

	if mon.CheckPerformanceTargets(cfg.TargetFPS, maxLatency) {
		log.Printf("Performance targets met: %.0f FPS, %s latency\n", cfg.TargetFPS, maxLatency)
	} else {
		log.Printf("Performance targets missed: %.0f FPS, %s latency\n", cfg.TargetFPS, maxLatency)
	}

}
