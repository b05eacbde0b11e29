package rtvideo

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEngine struct {
	id     int
	closed atomic.Bool
	err    error
}

func (e *countingEngine) Infer(in *Tensor) (*Tensor, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return NewFloat32Tensor([]int{1}, []float32{float32(e.id)}), nil
}

func (e *countingEngine) Close() error {
	e.closed.Store(true)
	return e.err
}

func TestEnginePool(t *testing.T) {

	var mu sync.Mutex
	var created []*countingEngine

	pool, err := NewEnginePool(3, func(i int) (Engine, error) {
		e := &countingEngine{id: i}
		mu.Lock()
		created = append(created, e)
		mu.Unlock()
		return e, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())

	// every engine can be borrowed at once
	held := []Engine{pool.Get(), pool.Get(), pool.Get()}
	ids := map[float32]bool{}

	for _, e := range held {
		out, err := e.Infer(nil)
		require.NoError(t, err)
		ids[out.Float[0]] = true
		pool.Return(e)
	}

	assert.Len(t, ids, 3)

	_, err = pool.Infer(nil)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	for _, e := range created {
		assert.True(t, e.closed.Load())
	}
}

func TestEnginePoolErrors(t *testing.T) {

	_, err := NewEnginePool(0, func(int) (Engine, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEnginePool(1, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var mu sync.Mutex
	var created []*countingEngine

	_, err = NewEnginePool(4, func(i int) (Engine, error) {
		if i == 2 {
			return nil, errors.New("device busy")
		}
		e := &countingEngine{id: i}
		mu.Lock()
		created = append(created, e)
		mu.Unlock()
		return e, nil
	})
	assert.ErrorContains(t, err, "error creating engine 2: device busy")

	// engines created before the failure are closed
	for _, e := range created {
		assert.True(t, e.closed.Load())
	}

	pool, err := NewEnginePool(1, func(i int) (Engine, error) {
		return &countingEngine{err: errors.New("close failed")}, nil
	})
	require.NoError(t, err)
	assert.ErrorContains(t, pool.Close(), "close failed")
}
