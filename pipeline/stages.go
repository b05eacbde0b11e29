package pipeline

import (
	"errors"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/swdee/go-rtvideo"
	"go.uber.org/zap"
)

// sourceRetry is the pause after a Source reports no frame or an error
const sourceRetry = 2 * time.Millisecond

// stage identifies a pipeline stage
type stage int

const (
	stageInput stage = iota
	stagePreprocess
	stageDetect
	stageTrack
	numStages
)

var stageNames = [numStages]string{"input", "preprocess", "detect", "track"}

// String returns the stage name
func (s stage) String() string {
	return stageNames[s]
}

// stageCounters are lifetime counters of a stage
type stageCounters struct {
	// processed frames passed on by the stage
	processed atomic.Uint64
	// dropped frames discarded due to a full queue, exhausted buffer pool
	// or arriving out of order
	dropped atomic.Uint64
	// errors are per frame failures that continued with an empty result
	errors atomic.Uint64
}

// spawn runs fn on its own locked OS thread, pinned to the configured CPU
// cores.  The thread is never unlocked so it exits with the goroutine and
// its affinity is not inherited by other goroutines.
func (p *Pipeline) spawn(r *run, s stage, fn func()) {

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		runtime.LockOSThread()

		if p.affinity != 0 {
			if err := rtvideo.SetCPUAffinity(p.affinity); err != nil {
				p.log.Warn("failed to pin stage thread", zap.Stringer("stage", s),
					zap.Error(err))
			}
		}

		fn()
	}()
}

// forward hands it to the next stage queue, dropping it if the queue is full
func (p *Pipeline) forward(r *run, from stage, ch chan<- *item, it *item) {

	select {
	case ch <- it:
		p.counters[from].processed.Add(1)
	default:
		p.drop(r, from, it, "queue full")
	}
}

// drop discards a frame, returning its buffers to the pool
func (p *Pipeline) drop(r *run, s stage, it *item, reason string) {

	p.release(it)
	r.inflight.Add(-1)
	p.counters[s].dropped.Add(1)

	p.log.Warn("frame dropped", zap.Uint64("frame_id", it.id),
		zap.Stringer("stage", s), zap.String("reason", reason))
}

// inputStage reads frames from the source and stages their pixels into
// pooled memory
func (p *Pipeline) inputStage(r *run) {

	defer close(r.inputDone)

	for r.ctx.Err() == nil {

		f, err := p.source.Next(r.ctx)

		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Info("frame source ended", zap.Uint64("frames", r.frames.Load()))
				return
			}

			if r.ctx.Err() != nil {
				return
			}

			if !errors.Is(err, ErrNoFrame) {
				p.counters[stageInput].errors.Add(1)
				p.log.Warn("frame source error", zap.Error(err))
			}

			select {
			case <-r.ctx.Done():
				return
			case <-time.After(sourceRetry):
			}

			continue
		}

		it := &item{
			id:    r.frames.Add(1),
			frame: f,
			start: time.Now(),
		}

		r.inflight.Add(1)

		if err := p.stageFrame(it); err != nil {
			p.drop(r, stageInput, it, err.Error())
			continue
		}

		p.forward(r, stageInput, r.toPreprocess, it)
	}
}

// preprocessStage converts staged frames into input tensors
func (p *Pipeline) preprocessStage(r *run) {

	for {
		select {
		case <-r.ctx.Done():
			return

		case it := <-r.toPreprocess:
			if err := p.preprocessFrame(it, p.pre); err != nil {
				if isDrop(err) {
					p.drop(r, stagePreprocess, it, err.Error())
					continue
				}

				p.counters[stagePreprocess].errors.Add(1)
				p.log.Warn("preprocess failed", zap.Uint64("frame_id", it.id),
					zap.Error(err))
			}

			p.forward(r, stagePreprocess, r.toDetect, it)
		}
	}
}

// detectStage runs inference and decodes detections with an engine held
// for the life of the stage
func (p *Pipeline) detectStage(r *run) {

	engine := p.engines.Get()
	defer p.engines.Return(engine)

	for {
		select {
		case <-r.ctx.Done():
			return

		case it := <-r.toDetect:
			if err := p.detectFrame(it, engine); err != nil {
				p.counters[stageDetect].errors.Add(1)
				p.log.Warn("detection failed", zap.Uint64("frame_id", it.id),
					zap.Error(err))
			}

			p.forward(r, stageDetect, r.toTrack, it)
		}
	}
}

// trackStage owns the tracker, it updates tracks in frame order and
// publishes the result
func (p *Pipeline) trackStage(r *run) {

	for {
		select {
		case <-r.ctx.Done():
			return

		case it := <-r.toTrack:
			// parallel detect workers can complete frames out of order
			if it.id <= r.lastTracked {
				p.drop(r, stageTrack, it, "stale frame")
				continue
			}

			r.lastTracked = it.id

			p.publish(p.trackFrame(r.id, it))
			r.inflight.Add(-1)
			p.counters[stageTrack].processed.Add(1)
		}
	}
}
