package postprocess

import (
	"errors"
	"fmt"
	"strings"
)

// ErrShapeMismatch is returned when a detector output tensor shape does not
// fit the declared layout
var ErrShapeMismatch = errors.New("output shape does not match layout")

// Layout is the arrangement of a YOLO detector output tensor
type Layout int

const (
	// LayoutAuto derives the layout from the tensor shape
	LayoutAuto Layout = iota
	// LayoutXYWHObjCls is [N, 4+1+C], box then objectness then class scores
	// per row as exported by YOLOv5
	LayoutXYWHObjCls
	// LayoutXYWHCls is [N, 4+C], box then class scores per row
	LayoutXYWHCls
	// LayoutXYWHClsTransposed is [4+C, N] as exported by YOLOv8 and YOLO11
	LayoutXYWHClsTransposed
)

// String returns the configuration name of the layout
func (l Layout) String() string {
	switch l {
	case LayoutXYWHObjCls:
		return "xywh_obj_cls"
	case LayoutXYWHCls:
		return "xywh_cls"
	case LayoutXYWHClsTransposed:
		return "xywh_cls_transposed"
	}
	return "auto"
}

// ParseLayout returns the Layout for its configuration name
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return LayoutAuto, nil
	case "xywh_obj_cls":
		return LayoutXYWHObjCls, nil
	case "xywh_cls":
		return LayoutXYWHCls, nil
	case "xywh_cls_transposed":
		return LayoutXYWHClsTransposed, nil
	}
	return LayoutAuto, fmt.Errorf("unknown tensor layout %q", s)
}

// tensorView indexes candidate rows of a flat output tensor regardless of
// whether it is stored row major or transposed
type tensorView struct {
	data    []float32
	rows    int
	stride  int
	classes int
	// objectness is set when column 4 is a separate objectness score
	objectness bool
	transposed bool
}

// at returns value k of candidate row i
func (v *tensorView) at(i, k int) float32 {
	if v.transposed {
		return v.data[k*v.rows+i]
	}
	return v.data[i*v.stride+k]
}

// squeeze drops leading unit dimensions, keeping at least one dimension
func squeeze(shape []int) []int {

	for len(shape) > 1 && shape[0] == 1 {
		shape = shape[1:]
	}

	return shape
}

// resolveView works out the candidate row arrangement of data with the
// given shape.  A single detection may arrive as a 1-D tensor or as a
// [stride, 1] column, both are handled as one row.
func resolveView(layout Layout, shape []int, classNum int, data []float32) (*tensorView, error) {

	dims := squeeze(shape)

	if len(dims) == 0 || len(dims) > 2 {
		return nil, fmt.Errorf("%w: shape %v", ErrShapeMismatch, shape)
	}

	// flatten a 1-D tensor into a single row
	a, b := 1, dims[0]

	if len(dims) == 2 {
		a, b = dims[0], dims[1]
	}

	if a <= 0 || b <= 0 || a*b != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values", ErrShapeMismatch,
			shape, len(data))
	}

	if layout == LayoutAuto {
		layout = sniffLayout(a, b, classNum)
	}

	v := &tensorView{data: data}

	switch layout {
	case LayoutXYWHObjCls, LayoutXYWHCls:
		extra := 4
		if layout == LayoutXYWHObjCls {
			extra = 5
			v.objectness = true
		}

		stride := b
		rows := a

		if b == 1 && a > 1 {
			// transposed single detection, same memory as one row
			stride, rows = a, 1
		}

		if classNum > 0 && stride != extra+classNum {
			return nil, fmt.Errorf("%w: row width %d, want %d for %s", ErrShapeMismatch,
				stride, extra+classNum, layout)
		}

		if stride <= extra {
			return nil, fmt.Errorf("%w: row width %d has no class scores",
				ErrShapeMismatch, stride)
		}

		v.rows, v.stride, v.classes = rows, stride, stride-extra

	case LayoutXYWHClsTransposed:
		stride, rows := a, b

		if len(dims) == 1 {
			// a lone 1-D column is a single detection
			stride, rows = b, 1
		}

		if classNum > 0 && stride != 4+classNum {
			return nil, fmt.Errorf("%w: channel count %d, want %d for %s",
				ErrShapeMismatch, stride, 4+classNum, layout)
		}

		if stride <= 4 {
			return nil, fmt.Errorf("%w: channel count %d has no class scores",
				ErrShapeMismatch, stride)
		}

		v.rows, v.stride, v.classes = rows, stride, stride-4
		v.transposed = rows > 1

	default:
		return nil, fmt.Errorf("%w: no layout fits shape %v with %d classes",
			ErrShapeMismatch, shape, classNum)
	}

	return v, nil
}

// sniffLayout guesses the layout of an [a, b] tensor.  With a known class
// count the dimension matching 4+C or 5+C decides, row major winning ties.
// Without one a wide tensor is taken as transposed and a tall one as rows
// without objectness.
func sniffLayout(a, b, classNum int) Layout {

	if classNum <= 0 {
		if a < b && a > 4 {
			return LayoutXYWHClsTransposed
		}
		return LayoutXYWHCls
	}

	switch {
	case b == 5+classNum:
		return LayoutXYWHObjCls
	case b == 4+classNum:
		return LayoutXYWHCls
	case a == 4+classNum:
		return LayoutXYWHClsTransposed
	case a == 5+classNum && b == 1:
		return LayoutXYWHObjCls
	}

	return Layout(-1)
}
