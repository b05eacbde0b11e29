package rtvideo

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EnginePool is a simple pool of inference engines so the same model can be
// run in parallel across accelerator cores
type EnginePool struct {
	// pool of engines
	engines chan Engine
	// size of pool
	size  int
	close sync.Once
}

// NewEnginePool creates a new engine pool of the given size, engines are
// created in parallel by the factory.  Any engine failing to initialise
// fails the whole pool.
func NewEnginePool(size int, factory EngineFactory) (*EnginePool, error) {

	if size < 1 {
		return nil, fmt.Errorf("%w: engine pool size %d", ErrInvalidConfig, size)
	}

	if factory == nil {
		return nil, fmt.Errorf("%w: nil engine factory", ErrInvalidConfig)
	}

	p := &EnginePool{
		engines: make(chan Engine, size),
		size:    size,
	}

	created := make([]Engine, size)

	var g errgroup.Group

	for i := 0; i < size; i++ {
		i := i
		g.Go(func() error {
			e, err := factory(i)

			if err != nil {
				return fmt.Errorf("error creating engine %d: %w", i, err)
			}

			created[i] = e
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// close any instances that may have been created before receiving
		// the error
		for _, e := range created {
			if e != nil {
				_ = e.Close()
			}
		}

		return nil, err
	}

	for _, e := range created {
		p.Return(e)
	}

	return p, nil
}

// Get an engine from the pool, blocks until one is available
func (p *EnginePool) Get() Engine {
	return <-p.engines
}

// Return an engine to the pool
func (p *EnginePool) Return(e Engine) {
	select {
	case p.engines <- e:
	default:
		// pool is full
	}
}

// Size returns the number of engines in the pool
func (p *EnginePool) Size() int {
	return p.size
}

// Infer borrows an engine from the pool to run inference on the input
func (p *EnginePool) Infer(input *Tensor) (*Tensor, error) {
	e := p.Get()
	defer p.Return(e)

	return e.Infer(input)
}

// Close the pool and all engines in it.  Engines still borrowed at the time
// of Close are not closed.
func (p *EnginePool) Close() error {

	var errs []error

	p.close.Do(func() {
		for {
			select {
			case e := <-p.engines:
				if err := e.Close(); err != nil {
					errs = append(errs, err)
				}
			default:
				return
			}
		}
	})

	return errors.Join(errs...)
}
