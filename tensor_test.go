package rtvideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFloat32Tensor(t *testing.T) {

	tensor := NewFloat32Tensor([]int{1, 84, 8400}, nil)
	assert.Equal(t, 84*8400, tensor.Len())
	assert.Equal(t, TensorFloat32, tensor.Type)
	assert.Equal(t, "Tensor(shape=[1, 84, 8400], type=FP32, len=705600)", tensor.String())

	// shape is copied
	shape := []int{2, 3}
	tensor = NewFloat32Tensor(shape, []float32{1, 2, 3, 4, 5, 6})
	shape[0] = 9
	assert.Equal(t, []int{2, 3}, tensor.Shape)

	assert.Equal(t, 0, NewFloat32Tensor([]int{1, 0, 5}, nil).Len())

	var nilTensor *Tensor
	assert.Equal(t, 0, nilTensor.Len())
	assert.Equal(t, "Tensor(nil)", nilTensor.String())
}

func TestTensorFloat32Conversion(t *testing.T) {

	values := []float32{0, 1, -2.5, 0.333251953125, 65504}

	half := &Tensor{Shape: []int{5}, Type: TensorFloat16, Half: Float32ToFloat16(values)}
	assert.Equal(t, 5, half.Len())
	assert.Equal(t, values, half.Float32(nil))

	// dst is reused when large enough
	dst := make([]float32, 0, 16)
	out := half.Float32(dst)
	assert.Same(t, &dst[:1][0], &out[0])

	quant := &Tensor{Shape: []int{3}, Type: TensorInt8, Int: []int8{-128, 0, 127}, ZP: -128, Scale: 0.5}
	assert.Equal(t, []float32{0, 64, 127.5}, quant.Float32(nil))

	f := NewFloat32Tensor([]int{2}, []float32{1, 2})
	assert.Equal(t, f.Float, f.Float32(nil))
}

func TestQuantization(t *testing.T) {

	assert.Equal(t, int8(10), QntF32ToAffine(5, 0, 0.5))
	assert.Equal(t, int8(127), QntF32ToAffine(1000, 0, 0.5))
	assert.Equal(t, int8(-128), QntF32ToAffine(-1000, 0, 0.5))

	q := QntF32ToAffine(3.5, 4, 0.25)
	assert.InDelta(t, 3.5, DeqntAffineToF32(q, 4, 0.25), 0.25)
}

func TestFloat16RoundTrip(t *testing.T) {

	src := []float32{0.1, 0.5, 320, -7.25}
	got := Float16ToFloat32(Float32ToFloat16(src), nil)
	require.Len(t, got, len(src))

	for i := range src {
		assert.InEpsilon(t, src[i], got[i], 1e-3)
	}
}

func TestTensorTypeString(t *testing.T) {
	assert.Equal(t, "FP16", TensorFloat16.String())
	assert.Equal(t, "INT8", TensorInt8.String())
	assert.Equal(t, "UNKNOWN", TensorType(9).String())
}
