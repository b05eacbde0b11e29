package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/bufpool"
	"github.com/swdee/go-rtvideo/postprocess"
	"github.com/swdee/go-rtvideo/preprocess"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// item carries one frame between stages.  Buffers it holds are owned by the
// stage currently processing it.
type item struct {
	id    uint64
	frame Frame
	start time.Time
	// staged is the pooled copy of the frame pixels viewed through img
	staged *bufpool.Buffer
	img    image.Image
	// tensor is the pooled detector input tensor
	tensor *bufpool.Buffer
	lb     preprocess.Letterbox
	dets   []postprocess.Detection
	// failed marks a frame that continues with no detections
	failed  bool
	timings Timings
}

// isDrop reports whether err means the frame cannot continue and must be
// dropped rather than passed on with an empty result
func isDrop(err error) bool {
	return errors.Is(err, bufpool.ErrNoBuffer) || errors.Is(err, bufpool.ErrClosed)
}

// stageFrame copies the frame pixels into a pooled RGBA buffer for the
// preprocess stage.  The published Result still references the source image,
// so the copy does not free the source to reuse that image.
func (p *Pipeline) stageFrame(it *item) error {

	img := it.frame.Image
	it.img = img

	if img == nil {
		return nil
	}

	b := img.Bounds()

	// empty frames are reported by the preprocessor
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil
	}

	buf, err := p.pool.Acquire(b.Dx() * b.Dy() * 4)

	if err != nil {
		return err
	}

	rgba := &image.RGBA{
		Pix:    buf.Bytes(),
		Stride: 4 * b.Dx(),
		Rect:   image.Rect(0, 0, b.Dx(), b.Dy()),
	}

	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)

	it.staged = buf
	it.img = rgba

	return nil
}

// preprocessFrame letterboxes the staged frame into a pooled input tensor
// and releases the staged pixels
func (p *Pipeline) preprocessFrame(it *item, pre Preprocessor) error {

	buf, err := p.pool.AcquireKind(bufpool.Accelerator, p.tensorLen*4)

	if err != nil {
		return err
	}

	start := time.Now()
	lb, err := pre.Preprocess(it.img, buf.Float32s(p.tensorLen))
	it.timings.Preprocess = time.Since(start)

	p.mon.RecordStage(stagePreprocess.String(), it.timings.Preprocess)
	p.releaseBuffer(&it.staged)

	if err != nil {
		p.releaseBuffer(&buf)
		it.failed = true
		return fmt.Errorf("frame %d: %w", it.id, err)
	}

	it.tensor = buf
	it.lb = lb

	return nil
}

// detectFrame runs inference on the input tensor and decodes the output
func (p *Pipeline) detectFrame(it *item, engine rtvideo.Engine) error {

	if it.failed || it.tensor == nil {
		return nil
	}

	input := rtvideo.NewFloat32Tensor(p.tensorShape, it.tensor.Float32s(p.tensorLen))
	input.Fmt = rtvideo.TensorNCHW

	start := time.Now()
	out, err := engine.Infer(input)
	it.timings.Inference = time.Since(start)

	p.releaseBuffer(&it.tensor)
	p.mon.RecordStage("inference", it.timings.Inference)

	if err != nil {
		it.failed = true
		return fmt.Errorf("inference failed on frame %d: %w", it.id, err)
	}

	conf, nms := p.thresholds()

	start = time.Now()
	dets, err := p.decoder.DetectObjectsLetterbox(out, it.lb, conf, nms)
	it.timings.Decode = time.Since(start)

	p.mon.RecordStage("decode", it.timings.Decode)

	if err != nil {
		it.failed = true
		return fmt.Errorf("decoding frame %d: %w", it.id, err)
	}

	it.dets = dets

	return nil
}

// trackFrame updates the tracker with the frame's detections and builds its
// result.  Only the goroutine owning the tracker may call it.
func (p *Pipeline) trackFrame(runID string, it *item) *Result {

	start := time.Now()
	tracks := p.tracker.Update(it.dets)
	it.timings.Track = time.Since(start)

	p.activeTracks.Store(int64(p.tracker.ActiveCount()))

	it.timings.Total = time.Since(it.start)

	p.mon.RecordStage(stageTrack.String(), it.timings.Track)
	p.mon.Record(it.timings.Total)

	ts := it.frame.Timestamp

	if ts.IsZero() {
		ts = it.start
	}

	return &Result{
		RunID:      runID,
		FrameID:    it.id,
		Frame:      it.frame.Image,
		Timestamp:  ts,
		Detections: it.dets,
		Tracks:     tracks,
		Timings:    it.timings,
	}
}

// release returns every buffer held by it to the pool
func (p *Pipeline) release(it *item) {
	p.releaseBuffer(&it.staged)
	p.releaseBuffer(&it.tensor)
}

func (p *Pipeline) releaseBuffer(b **bufpool.Buffer) {

	if *b == nil {
		return
	}

	if err := p.pool.Release(*b); err != nil {
		p.log.Warn("failed to release buffer", zap.Error(err))
	}

	*b = nil
}

// ProcessFrame runs one frame through every stage on the calling goroutine.
// It is for callers driving frames themselves and cannot be used while the
// pipeline is running.  As in the running pipeline, a frame that fails to
// preprocess or decode yields a result with no detections, an error is only
// returned when the frame could not be processed at all.
func (p *Pipeline) ProcessFrame(img image.Image) (*Result, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	if p.run != nil {
		return nil, ErrRunning
	}

	p.syncFrames++

	now := time.Now()
	it := &item{
		id:    p.syncFrames,
		frame: Frame{Image: img, Timestamp: now},
		start: now,
	}

	if err := p.stageFrame(it); err != nil {
		p.counters[stageInput].dropped.Add(1)
		return nil, err
	}

	if err := p.preprocessFrame(it, p.pre); err != nil {
		if isDrop(err) {
			p.release(it)
			p.counters[stagePreprocess].dropped.Add(1)
			return nil, err
		}

		p.counters[stagePreprocess].errors.Add(1)
		p.log.Debug("preprocess failed", zap.Error(err))
	}

	engine := p.engines.Get()
	err := p.detectFrame(it, engine)
	p.engines.Return(engine)

	if err != nil {
		p.counters[stageDetect].errors.Add(1)
		p.log.Debug("detection failed", zap.Error(err))
	}

	res := p.trackFrame(p.syncID, it)
	p.counters[stageTrack].processed.Add(1)
	p.publish(res)

	return res, nil
}
