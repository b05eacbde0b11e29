package rtvideo

import "errors"

// ErrEngineClosed is returned by an Engine used after Close
var ErrEngineClosed = errors.New("engine closed")

// Engine is the external inference engine.  It maps a normalized image
// tensor to the raw detection tensor of the model.  An Engine is used by
// one goroutine at a time, use an EnginePool to run several in parallel.
type Engine interface {
	// Infer runs the model on the input tensor.  The input memory is reused
	// once Infer returns so must not be retained, the returned tensor is
	// owned by the caller.
	Infer(input *Tensor) (*Tensor, error)
	// Close releases the engine resources
	Close() error
}

// EngineFactory creates the i'th Engine of a pool
type EngineFactory func(i int) (Engine, error)
