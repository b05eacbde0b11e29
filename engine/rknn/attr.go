//go:build rknn

package rknn

/*
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/swdee/go-rtvideo"
)

// TensorFormat wraps C.rknn_tensor_format
type TensorFormat int

const (
	TensorNCHW      TensorFormat = C.RKNN_TENSOR_NCHW
	TensorNHWC      TensorFormat = C.RKNN_TENSOR_NHWC
	TensorNC1HWC2   TensorFormat = C.RKNN_TENSOR_NC1HWC2
	TensorUndefined TensorFormat = C.RKNN_TENSOR_UNDEFINED
)

// TensorType wraps C.rknn_tensor_type
type TensorType int

const (
	TensorFloat32 TensorType = C.RKNN_TENSOR_FLOAT32
	TensorFloat16 TensorType = C.RKNN_TENSOR_FLOAT16
	TensorInt8    TensorType = C.RKNN_TENSOR_INT8
	TensorUint8   TensorType = C.RKNN_TENSOR_UINT8
)

// TensorQntType wraps C.rknn_tensor_qnt_type
type TensorQntType int

const (
	TensorQntNone   TensorQntType = C.RKNN_TENSOR_QNT_NONE
	TensorQntDFP    TensorQntType = C.RKNN_TENSOR_QNT_DFP
	TensorQntAffine TensorQntType = C.RKNN_TENSOR_QNT_AFFINE_ASYMMETRIC
)

// maximum field lengths of the C tensor attribute struct
const (
	attrMaxDimension  = C.RKNN_MAX_DIMS
	attrMaxNameLength = C.RKNN_MAX_NAME_LEN
)

// TensorAttr represents the C.rknn_tensor_attr structure
type TensorAttr struct {
	Index   uint32
	NDims   uint32
	Dims    [attrMaxDimension]uint32
	Name    string
	NElems  uint32
	Size    uint32
	Fmt     TensorFormat
	Type    TensorType
	QntType TensorQntType
	ZP      int32
	Scale   float32
}

// Shape returns the used dimensions of the tensor
func (a TensorAttr) Shape() []int {

	shape := make([]int, a.NDims)

	for i := range shape {
		shape[i] = int(a.Dims[i])
	}

	return shape
}

// HWC returns the image dimensions of an input tensor
func (a TensorAttr) HWC() (h, w, c int) {

	if a.Fmt == TensorNHWC {
		return int(a.Dims[1]), int(a.Dims[2]), int(a.Dims[3])
	}

	return int(a.Dims[2]), int(a.Dims[3]), int(a.Dims[1])
}

// convertTensorAttr converts a C.rknn_tensor_attr to a Go TensorAttr
func convertTensorAttr(cAttr *C.rknn_tensor_attr) TensorAttr {

	name := string(C.GoBytes(unsafe.Pointer(&cAttr.name[0]), C.int(attrMaxNameLength)))

	// trim at the first null byte
	if i := strings.IndexByte(name, 0); i != -1 {
		name = name[:i]
	}

	return TensorAttr{
		Index:   uint32(cAttr.index),
		NDims:   uint32(cAttr.n_dims),
		Dims:    *(*[attrMaxDimension]uint32)(unsafe.Pointer(&cAttr.dims)),
		Name:    name,
		NElems:  uint32(cAttr.n_elems),
		Size:    uint32(cAttr.size),
		Fmt:     TensorFormat(cAttr.fmt),
		Type:    TensorType(cAttr._type),
		QntType: TensorQntType(cAttr.qnt_type),
		ZP:      int32(cAttr.zp),
		Scale:   float32(cAttr.scale),
	}
}

// queryTensors queries the attributes of n tensors of the given kind
func (r *Runtime) queryTensors(cmd C.rknn_query_cmd, n uint32) ([]TensorAttr, error) {

	attrs := make([]TensorAttr, n)

	for i := uint32(0); i < n; i++ {
		var cAttr C.rknn_tensor_attr
		cAttr.index = C.uint32_t(i)

		ret := C.rknn_query(r.ctx, cmd, unsafe.Pointer(&cAttr), C.uint(unsafe.Sizeof(cAttr)))

		if ret != C.RKNN_SUCC {
			return nil, callError("rknn_query", ret)
		}

		attrs[i] = convertTensorAttr(&cAttr)
	}

	return attrs, nil
}

// QueryInputTensors gets the model input tensor attributes
func (r *Runtime) QueryInputTensors() ([]TensorAttr, error) {
	return r.queryTensors(C.RKNN_QUERY_INPUT_ATTR, r.ioNum.NumberInput)
}

// QueryOutputTensors gets the model output tensor attributes
func (r *Runtime) QueryOutputTensors() ([]TensorAttr, error) {
	return r.queryTensors(C.RKNN_QUERY_OUTPUT_ATTR, r.ioNum.NumberOutput)
}

// String returns the TensorAttr's attributes formatted as a string
func (a TensorAttr) String() string {
	return fmt.Sprintf("index=%d, name=%s, n_dims=%d, dims=%v, n_elems=%d, "+
		"size=%d, fmt=%s, type=%s, qnt_type=%s, zp=%d, scale=%f",
		a.Index, a.Name, a.NDims, a.Shape(), a.NElems, a.Size, a.Fmt, a.Type,
		a.QntType, a.ZP, a.Scale,
	)
}

// String returns a readable description of the TensorType
func (t TensorType) String() string {
	switch t {
	case TensorFloat32:
		return "FP32"
	case TensorFloat16:
		return "FP16"
	case TensorInt8:
		return "INT8"
	case TensorUint8:
		return "UINT8"
	default:
		return fmt.Sprintf("TYPE(%d)", int(t))
	}
}

// String returns a readable description of the TensorQntType
func (t TensorQntType) String() string {
	switch t {
	case TensorQntNone:
		return "NONE"
	case TensorQntDFP:
		return "DFP"
	case TensorQntAffine:
		return "AFFINE"
	default:
		return "UNKNOWN"
	}
}

// String returns a readable description of the TensorFormat
func (t TensorFormat) String() string {
	switch t {
	case TensorNCHW:
		return "NCHW"
	case TensorNHWC:
		return "NHWC"
	case TensorNC1HWC2:
		return "NC1HWC2"
	default:
		return "UNDEFINED"
	}
}

// rtvideoFormat maps the tensor format onto the engine tensor format
func (t TensorFormat) rtvideoFormat() rtvideo.TensorFormat {
	if t == TensorNHWC {
		return rtvideo.TensorNHWC
	}
	return rtvideo.TensorNCHW
}
