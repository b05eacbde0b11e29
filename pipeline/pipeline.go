// Package pipeline runs video frames through preprocessing, inference,
// detection decoding and tracking as concurrent stages.  Stages are joined
// by bounded queues, a stage never waits on a full downstream queue and
// drops the frame instead.  The most recent result is published for readers
// that must not hold up frame production.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/bufpool"
	"github.com/swdee/go-rtvideo/monitor"
	"github.com/swdee/go-rtvideo/postprocess"
	"github.com/swdee/go-rtvideo/preprocess"
	"github.com/swdee/go-rtvideo/tracker"
	"go.uber.org/zap"
)

var (
	// ErrNotInitialized is returned when a pipeline is created without a
	// required collaborator
	ErrNotInitialized = errors.New("pipeline not initialized")
	// ErrRunning is returned by ProcessFrame while the stages are running
	ErrRunning = errors.New("pipeline is running")
	// ErrClosed is returned when using a closed pipeline
	ErrClosed = errors.New("pipeline closed")
)

// Preprocessor converts a frame into the detector input tensor.  Each
// pipeline owns one and calls it from a single goroutine.
type Preprocessor interface {
	Preprocess(img image.Image, dst []float32) (preprocess.Letterbox, error)
}

// Options are the collaborators and configuration of a Pipeline
type Options struct {
	Config rtvideo.Config
	// Source supplies frames to the input stage, it is only required by
	// Start
	Source Source
	// Engine creates the inference engines, Config.EnginePoolSize are
	// created and run as parallel detect workers
	Engine rtvideo.EngineFactory
	// Preprocessor defaults to a preprocess.Converter for the configured
	// input size
	Preprocessor Preprocessor
	// Labels are the class names, when nil they are loaded from
	// Config.LabelsFile if set
	Labels []string
	// Monitor receives frame and stage timings, one is created if nil
	Monitor *monitor.Monitor
	// AcceleratorAllocator provides memory for input tensors, defaults to
	// the heap
	AcceleratorAllocator bufpool.Allocator
	Logger               *zap.Logger
}

// Timings are the per stage processing times of one frame
type Timings struct {
	Preprocess time.Duration
	Inference  time.Duration
	Decode     time.Duration
	Track      time.Duration
	// Total is from the frame entering the pipeline until publication
	Total time.Duration
}

// Result is the published outcome of one frame.  A Result is never modified
// after publication.
type Result struct {
	// RunID identifies the Start/Stop cycle the frame belongs to
	RunID string
	// FrameID is assigned by the input stage, starting at 1 each run
	FrameID uint64
	// Frame is the image as supplied by the Source, not a copy.  A Source
	// must not modify it while results referencing it are still read.
	Frame     image.Image
	Timestamp time.Time
	// Detections are the decoded detections in frame pixels
	Detections []postprocess.Detection
	// Tracks are the confirmed tracks after this frame
	Tracks  []tracker.TrackedObject
	Timings Timings
}

// Pipeline schedules frames through its stages
type Pipeline struct {
	cfg     rtvideo.Config
	source  Source
	engines *rtvideo.EnginePool
	pre     Preprocessor
	decoder *postprocess.YOLO
	tracker *tracker.Tracker
	pool    *bufpool.Pool
	mon     *monitor.Monitor
	log     *zap.Logger

	tensorShape []int
	tensorLen   int
	affinity    uintptr

	conf atomic.Uint32
	nms  atomic.Uint32

	latest  atomic.Pointer[Result]
	updates chan struct{}

	activeTracks atomic.Int64
	counters     [numStages]stageCounters

	// mu guards run and closed, it is held for the whole of Start, Stop and
	// ProcessFrame
	mu     sync.Mutex
	run    *run
	closed bool
	// lastRun is the current or most recently stopped run
	lastRun atomic.Pointer[run]
	// syncID and syncFrames identify frames passed to ProcessFrame
	syncID     string
	syncFrames uint64
}

// New creates a Pipeline.  Invalid configuration or a failure creating the
// inference engines is returned here, once created per frame failures are
// only logged and counted.
func New(opts Options) (*Pipeline, error) {

	cfg := opts.Config

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: no inference engine", ErrNotInitialized)
	}

	log := rtvideo.LoggerOrNop(opts.Logger)

	layout, err := postprocess.ParseLayout(cfg.TensorLayout)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", rtvideo.ErrInvalidConfig, err)
	}

	association, err := tracker.ParseAssociation(cfg.Association)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", rtvideo.ErrInvalidConfig, err)
	}

	motion, err := tracker.ParseMotionModel(cfg.MotionModel)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", rtvideo.ErrInvalidConfig, err)
	}

	labels := opts.Labels

	if labels == nil && cfg.LabelsFile != "" {
		if labels, err = rtvideo.LoadLabels(cfg.LabelsFile); err != nil {
			return nil, err
		}
	}

	pre := opts.Preprocessor

	if pre == nil {
		pre = preprocess.NewConverter(cfg.InputWidth, cfg.InputHeight)
	}

	mon := opts.Monitor

	if mon == nil {
		mon = monitor.New(monitor.Options{Logger: log})
	}

	accSlots := cfg.BufferPoolSlots / 2
	if accSlots < 1 {
		accSlots = 1
	}

	pool, err := bufpool.New(bufpool.Options{
		MaxCPUSlots:          cfg.BufferPoolSlots,
		MaxAcceleratorSlots:  accSlots,
		SlotSize:             cfg.BufferSlotBytes,
		PreallocCPU:          2,
		PreallocAccelerator:  2,
		AcceleratorAllocator: opts.AcceleratorAllocator,
		Logger:               log,
	})

	if err != nil {
		return nil, fmt.Errorf("error creating buffer pool: %w", err)
	}

	engines, err := rtvideo.NewEnginePool(cfg.EnginePoolSize, opts.Engine)

	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error creating inference engines: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		source:  opts.Source,
		engines: engines,
		pre:     pre,
		decoder: postprocess.NewYOLO(postprocess.YOLOParams{
			ObjectClassNum:  cfg.ClassCount,
			MaxObjectNumber: cfg.MaxDetections,
			Layout:          layout,
			InputWidth:      cfg.InputWidth,
			InputHeight:     cfg.InputHeight,
			Labels:          labels,
		}),
		tracker: tracker.New(tracker.Params{
			IOUThreshold:   cfg.IOUThreshold,
			MinHits:        cfg.MinHits,
			MaxDisappeared: cfg.MaxDisappeared,
			MaxTracks:      cfg.MaxTracks,
			Association:    association,
			Motion:         motion,
			ClassAware:     cfg.ClassAware,
			TrailLength:    cfg.TrailLength,
		}, log.Named("tracker")),
		pool:        pool,
		mon:         mon,
		log:         log,
		tensorShape: []int{1, 3, cfg.InputHeight, cfg.InputWidth},
		tensorLen:   3 * cfg.InputWidth * cfg.InputHeight,
		updates:     make(chan struct{}, 1),
		syncID:      uuid.NewString(),
	}

	if len(cfg.CPUAffinity) > 0 {
		p.affinity = rtvideo.CPUCoreMask(cfg.CPUAffinity)
	}

	p.conf.Store(math.Float32bits(cfg.ConfidenceThreshold))
	p.nms.Store(math.Float32bits(cfg.NMSThreshold))

	return p, nil
}

// Start launches the stage goroutines.  Starting a running pipeline does
// nothing.  Each start numbers frames from 1 again and begins with no
// tracks.
func (p *Pipeline) Start() error {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if p.run != nil {
		return nil
	}

	if p.source == nil {
		return fmt.Errorf("%w: no frame source", ErrNotInitialized)
	}

	p.tracker.Reset()
	p.activeTracks.Store(0)
	p.latest.Store(nil)

	select {
	case <-p.updates:
	default:
	}

	r := newRun(p.cfg.QueueCapacity)
	p.run = r
	p.lastRun.Store(r)

	p.spawn(r, stageInput, func() { p.inputStage(r) })
	p.spawn(r, stagePreprocess, func() { p.preprocessStage(r) })

	for i := 0; i < p.engines.Size(); i++ {
		p.spawn(r, stageDetect, func() { p.detectStage(r) })
	}

	p.spawn(r, stageTrack, func() { p.trackStage(r) })

	p.log.Info("pipeline started", zap.String("run_id", r.id),
		zap.Int("detect_workers", p.engines.Size()))

	return nil
}

// Stop signals every stage to finish and waits for them to exit.  Frames
// still queued are discarded.  Stopping a stopped pipeline does nothing.
func (p *Pipeline) Stop() {

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
}

func (p *Pipeline) stopLocked() {

	r := p.run

	if r == nil {
		return
	}

	r.cancel()
	r.wg.Wait()

	discarded := r.drain(p.release)
	p.run = nil

	p.log.Info("pipeline stopped", zap.String("run_id", r.id),
		zap.Uint64("frames", r.frames.Load()), zap.Int("discarded", discarded))
}

// Close stops the pipeline and releases the engines and buffer pool
func (p *Pipeline) Close() error {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.stopLocked()
	p.closed = true

	err := p.engines.Close()
	p.pool.Close()

	return err
}

// Running reports whether the stages are running
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil
}

// Latest returns the most recently published result, nil if none has been
// published since Start
func (p *Pipeline) Latest() *Result {
	return p.latest.Load()
}

// Updates returns a channel that receives after a new result is published.
// Notifications are coalesced, a slow reader sees only that something new
// is available and should call Latest.
func (p *Pipeline) Updates() <-chan struct{} {
	return p.updates
}

// Monitor returns the performance monitor
func (p *Pipeline) Monitor() *monitor.Monitor {
	return p.mon
}

// UpdateThresholds changes the detection confidence and NMS thresholds,
// taking effect from the next decoded frame
func (p *Pipeline) UpdateThresholds(conf, nms float32) error {

	if !(conf >= 0 && conf <= 1) || !(nms >= 0 && nms <= 1) {
		return fmt.Errorf("%w: thresholds %v, %v not in [0,1]", rtvideo.ErrInvalidConfig, conf, nms)
	}

	p.conf.Store(math.Float32bits(conf))
	p.nms.Store(math.Float32bits(nms))

	p.log.Info("detection thresholds updated", zap.Float32("confidence", conf),
		zap.Float32("nms", nms))

	return nil
}

// thresholds returns the current confidence and NMS thresholds
func (p *Pipeline) thresholds() (float32, float32) {
	return math.Float32frombits(p.conf.Load()), math.Float32frombits(p.nms.Load())
}

// Flush waits until the source has ended and every frame read from it has
// been published or dropped
func (p *Pipeline) Flush(ctx context.Context) error {

	p.mu.Lock()
	r := p.run
	p.mu.Unlock()

	if r == nil {
		return nil
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.inputDone:
			if r.inflight.Load() == 0 {
				return nil
			}
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.ctx.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
}

// publish makes res the latest result and notifies readers
func (p *Pipeline) publish(res *Result) {

	p.latest.Store(res)

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// run is the state of one Start/Stop cycle
type run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	toPreprocess chan *item
	toDetect     chan *item
	toTrack      chan *item

	// frames is the last assigned frame ID
	frames atomic.Uint64
	// inflight counts frames read but not yet published or dropped
	inflight  atomic.Int64
	inputDone chan struct{}
	// lastTracked is the newest frame ID seen by the track stage
	lastTracked uint64
}

func newRun(queueCap int) *run {

	ctx, cancel := context.WithCancel(context.Background())

	return &run{
		id:           uuid.NewString(),
		ctx:          ctx,
		cancel:       cancel,
		toPreprocess: make(chan *item, queueCap),
		toDetect:     make(chan *item, queueCap),
		toTrack:      make(chan *item, queueCap),
		inputDone:    make(chan struct{}),
	}
}

// drain empties the queues of a stopped run passing each frame to release
func (r *run) drain(release func(*item)) int {

	n := 0

	for _, ch := range []chan *item{r.toPreprocess, r.toDetect, r.toTrack} {
	loop:
		for {
			select {
			case it := <-ch:
				release(it)
				r.inflight.Add(-1)
				n++
			default:
				break loop
			}
		}
	}

	return n
}
