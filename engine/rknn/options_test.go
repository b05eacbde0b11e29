package rknn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNCHWToNHWCUint8(t *testing.T) {

	// 2x2 image, planes R then G then B
	src := []float32{
		0, 0.5, 1, 2,
		0.2, 0.2, 0.2, 0.2,
		-1, 1, 0, 0.004,
	}

	dst, err := nchwToNHWCUint8(src, 3, 2, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0, 51, 0,
		128, 51, 255,
		255, 51, 0,
		255, 51, 1,
	}, dst)

	// dst is reused
	again, err := nchwToNHWCUint8(src, 3, 2, 2, dst)
	require.NoError(t, err)
	assert.Same(t, &dst[0], &again[0])

	_, err = nchwToNHWCUint8(src[:11], 3, 2, 2, nil)
	assert.Error(t, err)

	_, err = nchwToNHWCUint8(src, 3, 0, 2, nil)
	assert.Error(t, err)
}

func TestNCHWToNHWCFloat32(t *testing.T) {

	src := []float32{0, 1, 0.5, 0.25}

	dst, err := nchwToNHWCFloat32(src, 2, 1, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 127.5, 255, 63.75}, dst)
}
