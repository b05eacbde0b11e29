package rtvideo

import "github.com/x448/float16"

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// Float16ToFloat32 converts a buffer of IEEE 754 half precision values into
// dst, which is grown if needed, and returns it
func Float16ToFloat32(src []uint16, dst []float32) []float32 {

	if cap(dst) < len(src) {
		dst = make([]float32, len(src))
	}

	dst = dst[:len(src)]

	for i, v := range src {
		dst[i] = f16LookupTable[v]
	}

	return dst
}

// Float32ToFloat16 converts float32 values into half precision bits
func Float32ToFloat16(src []float32) []uint16 {

	dst := make([]uint16, len(src))

	for i, v := range src {
		dst[i] = float16.Fromfloat32(v).Bits()
	}

	return dst
}
