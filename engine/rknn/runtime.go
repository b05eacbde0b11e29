//go:build rknn

package rknn

/*
#cgo LDFLAGS: -lrknnrt
#include "rknn_api.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"os"
	"unsafe"
)

// CoreMask wraps C.rknn_core_mask
type CoreMask int

// rknn_core_mask values used to target which cores on the NPU the model is run
// on.  Auto picks an idle core, the others pin the model to a specific core
// or combination of cores.
const (
	NPUCoreAuto    CoreMask = C.RKNN_NPU_CORE_AUTO
	NPUCore0       CoreMask = C.RKNN_NPU_CORE_0
	NPUCore1       CoreMask = C.RKNN_NPU_CORE_1
	NPUCore2       CoreMask = C.RKNN_NPU_CORE_2
	NPUCore01      CoreMask = C.RKNN_NPU_CORE_0_1
	NPUCore012     CoreMask = C.RKNN_NPU_CORE_0_1_2
	NPUSkipSetCore CoreMask = 9999
)

// singleCores are the masks engines are spread across
var singleCores = []CoreMask{NPUCore0, NPUCore1, NPUCore2}

// ErrorCodes
type ErrorCodes int

// error code values returned by the C API
const (
	Success                ErrorCodes = C.RKNN_SUCC
	ErrFail                ErrorCodes = C.RKNN_ERR_FAIL
	ErrTimeout             ErrorCodes = C.RKNN_ERR_TIMEOUT
	ErrDeviceUnavailable   ErrorCodes = C.RKNN_ERR_DEVICE_UNAVAILABLE
	ErrMallocFail          ErrorCodes = C.RKNN_ERR_MALLOC_FAIL
	ErrParamInvalid        ErrorCodes = C.RKNN_ERR_PARAM_INVALID
	ErrModelInvalid        ErrorCodes = C.RKNN_ERR_MODEL_INVALID
	ErrCtxInvalid          ErrorCodes = C.RKNN_ERR_CTX_INVALID
	ErrInputInvalid        ErrorCodes = C.RKNN_ERR_INPUT_INVALID
	ErrOutputInvalid       ErrorCodes = C.RKNN_ERR_OUTPUT_INVALID
	ErrDeviceMismatch      ErrorCodes = C.RKNN_ERR_DEVICE_UNMATCH
	ErrPreCompiledModel    ErrorCodes = C.RKNN_ERR_INCOMPATILE_PRE_COMPILE_MODEL
	ErrOptimizationVersion ErrorCodes = C.RKNN_ERR_INCOMPATILE_OPTIMIZATION_LEVEL_VERSION
	ErrPlatformMismatch    ErrorCodes = C.RKNN_ERR_TARGET_PLATFORM_UNMATCH
)

var errorText = map[ErrorCodes]string{
	Success:                "execution successful",
	ErrFail:                "execution failed",
	ErrTimeout:             "execution timed out",
	ErrDeviceUnavailable:   "device is unavailable",
	ErrMallocFail:          "C memory allocation failed",
	ErrParamInvalid:        "parameter is invalid",
	ErrModelInvalid:        "model file is invalid",
	ErrCtxInvalid:          "context is invalid",
	ErrInputInvalid:        "input is invalid",
	ErrOutputInvalid:       "output is invalid",
	ErrDeviceMismatch:      "device mismatch, update the rknn sdk and npu driver",
	ErrPreCompiledModel:    "pre_compile model is not compatible with the driver",
	ErrOptimizationVersion: "model optimization level is not compatible with the driver",
	ErrPlatformMismatch:    "model target platform does not match this SoC",
}

// String returns a readable description of the error code
func (e ErrorCodes) String() string {
	if s, ok := errorText[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %d", int(e))
}

// callError formats a failed C call
func callError(call string, ret C.int) error {
	return fmt.Errorf("C.%s failed with code %d, error: %s", call, int(ret),
		ErrorCodes(ret).String())
}

// Runtime is a loaded RKNN model context
type Runtime struct {
	// ctx is the C runtime context
	ctx C.rknn_context
	// ioNum caches the number of model input and output tensors
	ioNum IONumber
	// inputAttrs and outputAttrs cache the model tensor attributes
	inputAttrs  []TensorAttr
	outputAttrs []TensorAttr
}

// NewRuntime loads the RKNN compiled model file and pins it to the given NPU
// core
func NewRuntime(modelFile string, core CoreMask) (*Runtime, error) {

	r := &Runtime{}

	if err := r.init(modelFile); err != nil {
		return nil, err
	}

	// setting the core mask is only supported on multi core NPUs
	if core != NPUSkipSetCore {
		if err := r.setCoreMask(core); err != nil {
			r.Close()
			return nil, err
		}
	}

	var err error

	if r.ioNum, err = r.QueryModelIONumber(); err != nil {
		r.Close()
		return nil, err
	}

	if r.inputAttrs, err = r.QueryInputTensors(); err != nil {
		r.Close()
		return nil, err
	}

	if r.outputAttrs, err = r.QueryOutputTensors(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// init wraps C.rknn_init
func (r *Runtime) init(modelFile string) error {

	// check file exists in Go, before passing to C
	info, err := os.Stat(modelFile)

	if err != nil {
		return fmt.Errorf("model file does not exist at %s, error: %w",
			modelFile, err)
	}

	if info.IsDir() {
		return fmt.Errorf("model file is a directory")
	}

	cModelFile := C.CString(modelFile)
	defer C.free(unsafe.Pointer(cModelFile))

	ret := C.rknn_init(&r.ctx, unsafe.Pointer(cModelFile), 0, 0, nil)

	if ret != C.RKNN_SUCC {
		return callError("rknn_init", ret)
	}

	return nil
}

// setCoreMask wraps C.rknn_set_core_mask
func (r *Runtime) setCoreMask(mask CoreMask) error {

	ret := C.rknn_set_core_mask(r.ctx, C.rknn_core_mask(mask))

	if ret != C.RKNN_SUCC {
		return callError("rknn_set_core_mask", ret)
	}

	return nil
}

// Close wraps C.rknn_destroy which unloads the model and releases all C
// resources
func (r *Runtime) Close() error {

	ret := C.rknn_destroy(r.ctx)

	if ret != C.RKNN_SUCC {
		return callError("rknn_destroy", ret)
	}

	return nil
}

// SDKVersion represents the C.rknn_sdk_version struct
type SDKVersion struct {
	DriverVersion string
	APIVersion    string
}

// SDKVersion returns the RKNN API and Driver versions
func (r *Runtime) SDKVersion() (SDKVersion, error) {

	var cSdkVer C.rknn_sdk_version

	ret := C.rknn_query(
		r.ctx,
		C.RKNN_QUERY_SDK_VERSION,
		unsafe.Pointer(&cSdkVer),
		C.uint(C.sizeof_rknn_sdk_version),
	)

	if ret != C.RKNN_SUCC {
		return SDKVersion{}, callError("rknn_query", ret)
	}

	return SDKVersion{
		DriverVersion: C.GoString(&(cSdkVer.drv_version[0])),
		APIVersion:    C.GoString(&(cSdkVer.api_version[0])),
	}, nil
}

// InputAttrs returns the loaded model's input tensor attributes
func (r *Runtime) InputAttrs() []TensorAttr {
	return r.inputAttrs
}

// OutputAttrs returns the loaded model's output tensor attributes
func (r *Runtime) OutputAttrs() []TensorAttr {
	return r.outputAttrs
}
