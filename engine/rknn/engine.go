//go:build rknn

package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/swdee/go-rtvideo"
)

// Engine runs a single input detection model on one NPU core.  It is used by
// one goroutine at a time.
type Engine struct {
	rt         *Runtime
	floatInput bool
	// h, w and c are the model input image dimensions
	h, w, c int
	// scratch holds the interleaved input pixels
	scratch   []byte
	scratchF  []float32
	outShapes [][]int
}

// NewEngine loads the model onto the given core
func NewEngine(modelFile string, core CoreMask, floatInput bool) (*Engine, error) {

	rt, err := NewRuntime(modelFile, core)

	if err != nil {
		return nil, err
	}

	if len(rt.inputAttrs) != 1 || len(rt.outputAttrs) == 0 {
		rt.Close()
		return nil, fmt.Errorf("model has %d inputs and %d outputs, want 1 input",
			len(rt.inputAttrs), len(rt.outputAttrs))
	}

	e := &Engine{rt: rt, floatInput: floatInput}
	e.h, e.w, e.c = rt.inputAttrs[0].HWC()

	for _, a := range rt.outputAttrs {
		e.outShapes = append(e.outShapes, a.Shape())
	}

	return e, nil
}

// NewFactory returns an engine factory spreading engines across NPU cores
func NewFactory(opts Options) rtvideo.EngineFactory {
	return func(i int) (rtvideo.Engine, error) {

		core := NPUCoreAuto

		switch {
		case opts.Cores < 0:
			core = NPUSkipSetCore
		case opts.Cores > 0:
			core = singleCores[i%min(opts.Cores, len(singleCores))]
		}

		return NewEngine(opts.ModelFile, core, opts.FloatInput)
	}
}

// Runtime returns the underlying model runtime
func (e *Engine) Runtime() *Runtime {
	return e.rt
}

// Infer runs the model on a planar [1, C, H, W] float32 tensor normalised to
// [0,1] and returns the first model output as float32
func (e *Engine) Infer(input *rtvideo.Tensor) (*rtvideo.Tensor, error) {

	if e.rt == nil {
		return nil, rtvideo.ErrEngineClosed
	}

	if input.Type != rtvideo.TensorFloat32 || len(input.Shape) != 4 ||
		input.Shape[1] != e.c || input.Shape[2] != e.h || input.Shape[3] != e.w {
		return nil, fmt.Errorf("input %s does not match model input %dx%dx%d",
			input, e.c, e.h, e.w)
	}

	var cInput C.rknn_input
	cInput.index = 0
	cInput.pass_through = 0
	cInput.fmt = C.RKNN_TENSOR_NHWC

	var err error

	if e.floatInput {
		e.scratchF, err = nchwToNHWCFloat32(input.Float, e.c, e.h, e.w, e.scratchF)

		if err != nil {
			return nil, err
		}

		cInput._type = C.RKNN_TENSOR_FLOAT32
		cInput.size = C.uint32_t(len(e.scratchF) * 4)
		cInput.buf = unsafe.Pointer(&e.scratchF[0])

	} else {
		e.scratch, err = nchwToNHWCUint8(input.Float, e.c, e.h, e.w, e.scratch)

		if err != nil {
			return nil, err
		}

		cInput._type = C.RKNN_TENSOR_UINT8
		cInput.size = C.uint32_t(len(e.scratch))
		cInput.buf = unsafe.Pointer(&e.scratch[0])
	}

	if ret := C.rknn_inputs_set(e.rt.ctx, 1, &cInput); ret != C.RKNN_SUCC {
		return nil, callError("rknn_inputs_set", ret)
	}

	if ret := C.rknn_run(e.rt.ctx, nil); ret < 0 {
		return nil, callError("rknn_run", ret)
	}

	return e.output()
}

// output copies the first model output out of C memory as float32
func (e *Engine) output() (*rtvideo.Tensor, error) {

	n := len(e.rt.outputAttrs)
	cOutputs := make([]C.rknn_output, n)

	for i := range cOutputs {
		cOutputs[i].index = C.uint32_t(i)
		cOutputs[i].want_float = 1
	}

	ret := C.rknn_outputs_get(e.rt.ctx, C.uint32_t(n), &cOutputs[0], nil)

	if ret < 0 {
		return nil, callError("rknn_outputs_get", ret)
	}

	count := int(cOutputs[0].size) / 4
	data := unsafe.Slice((*float32)(cOutputs[0].buf), count)

	out := rtvideo.NewFloat32Tensor(e.outShapes[0], nil)

	if len(out.Float) != count {
		out.Float = make([]float32, count)
	}

	copy(out.Float, data)
	out.Fmt = e.rt.outputAttrs[0].Fmt.rtvideoFormat()

	if ret := C.rknn_outputs_release(e.rt.ctx, C.uint32_t(n), &cOutputs[0]); ret != C.RKNN_SUCC {
		return nil, callError("rknn_outputs_release", ret)
	}

	return out, nil
}

// Close unloads the model
func (e *Engine) Close() error {

	if e.rt == nil {
		return nil
	}

	err := e.rt.Close()
	e.rt = nil

	return err
}
