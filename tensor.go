package rtvideo

import (
	"fmt"
	"strings"
)

// TensorType is the element type of a tensor payload
type TensorType int

const (
	TensorFloat32 TensorType = 0
	TensorFloat16 TensorType = 1
	TensorInt8    TensorType = 2
)

// String returns a readable name of the tensor type
func (t TensorType) String() string {
	switch t {
	case TensorFloat32:
		return "FP32"
	case TensorFloat16:
		return "FP16"
	case TensorInt8:
		return "INT8"
	}
	return "UNKNOWN"
}

// TensorFormat is the memory layout of an image tensor
type TensorFormat int

const (
	TensorNCHW TensorFormat = 0
	TensorNHWC TensorFormat = 1
)

// Tensor is a dense n-dimensional array passed to and returned from the
// inference engine.  Only the payload matching Type is populated.
type Tensor struct {
	// Shape are the dimensions of the tensor, eg: [1, 84, 8400]
	Shape []int
	// Type is the element type of the payload
	Type TensorType
	// Fmt is the memory layout for image tensors
	Fmt TensorFormat
	// Float is the payload for TensorFloat32
	Float []float32
	// Half is the payload for TensorFloat16 in IEEE 754 half precision bits
	Half []uint16
	// Int is the payload for TensorInt8
	Int []int8
	// ZP and Scale are the affine quantization parameters for TensorInt8
	ZP    int32
	Scale float32
}

// NewFloat32Tensor returns a float32 tensor of the given shape backed by data.
// If data is nil a zeroed buffer is allocated.
func NewFloat32Tensor(shape []int, data []float32) *Tensor {

	if data == nil {
		data = make([]float32, shapeElems(shape))
	}

	return &Tensor{
		Shape: append([]int(nil), shape...),
		Type:  TensorFloat32,
		Float: data,
	}
}

// Elems returns the number of elements described by the tensor shape
func (t *Tensor) Elems() int {
	if t == nil {
		return 0
	}
	return shapeElems(t.Shape)
}

// Len returns the number of elements held in the payload
func (t *Tensor) Len() int {

	if t == nil {
		return 0
	}

	switch t.Type {
	case TensorFloat16:
		return len(t.Half)
	case TensorInt8:
		return len(t.Int)
	}

	return len(t.Float)
}

// Float32 returns the payload as float32 values, converting half precision
// and dequantizing int8 payloads into dst when needed.  For float32 tensors
// the payload is returned directly without copying.
func (t *Tensor) Float32(dst []float32) []float32 {

	if t == nil {
		return dst[:0]
	}

	switch t.Type {
	case TensorFloat16:
		return Float16ToFloat32(t.Half, dst)

	case TensorInt8:
		if cap(dst) < len(t.Int) {
			dst = make([]float32, len(t.Int))
		}

		dst = dst[:len(t.Int)]

		for i, q := range t.Int {
			dst[i] = DeqntAffineToF32(q, t.ZP, t.Scale)
		}

		return dst
	}

	return t.Float
}

// String returns a readable description of the tensor
func (t *Tensor) String() string {

	if t == nil {
		return "Tensor(nil)"
	}

	dims := make([]string, len(t.Shape))

	for i, d := range t.Shape {
		dims[i] = fmt.Sprintf("%d", d)
	}

	return fmt.Sprintf("Tensor(shape=[%s], type=%s, len=%d)",
		strings.Join(dims, ", "), t.Type, t.Len())
}

// DeqntAffineToF32 converts a quantized int8 value back to a float32 using
// the provided zero point and scale
func DeqntAffineToF32(qnt int8, zp int32, scale float32) float32 {
	return (float32(qnt) - float32(zp)) * scale
}

// QntF32ToAffine converts a float32 value to an int8 using quantization
// parameters: zero point and scale
func QntF32ToAffine(f32 float32, zp int32, scale float32) int8 {

	dstVal := (f32 / scale) + float32(zp)

	switch {
	case dstVal <= -128:
		return -128
	case dstVal >= 127:
		return 127
	}

	return int8(dstVal)
}

func shapeElems(shape []int) int {

	if len(shape) == 0 {
		return 0
	}

	n := 1

	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= d
	}

	return n
}
