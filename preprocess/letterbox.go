package preprocess

// Letterbox holds the geometry of an aspect preserving resize of a source
// frame into a destination tensor, with the unused border split evenly on
// both sides
type Letterbox struct {
	// SrcWidth and SrcHeight are the dimensions of the source frame
	SrcWidth  int
	SrcHeight int
	// DstWidth and DstHeight are the dimensions of the tensor
	DstWidth  int
	DstHeight int
	// ResizeWidth and ResizeHeight are the dimensions of the scaled frame
	// inside the tensor
	ResizeWidth  int
	ResizeHeight int
	// XPad and YPad are the left and top padding
	XPad int
	YPad int
	// Scale is the factor applied to the source frame
	Scale float32
}

// NewLetterbox precalculates the scaling factor and padding for resizing a
// srcWidth x srcHeight frame into a dstWidth x dstHeight tensor.  A zero sized
// source or destination yields an invalid Letterbox with a zero Scale.
func NewLetterbox(srcWidth, srcHeight, dstWidth, dstHeight int) Letterbox {

	l := Letterbox{
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		DstWidth:  dstWidth,
		DstHeight: dstHeight,
	}

	if srcWidth <= 0 || srcHeight <= 0 || dstWidth <= 0 || dstHeight <= 0 {
		return l
	}

	l.ResizeWidth = dstWidth
	l.ResizeHeight = dstHeight

	scaleW := float32(dstWidth) / float32(srcWidth)
	scaleH := float32(dstHeight) / float32(srcHeight)
	l.Scale = scaleH

	if scaleW < scaleH {
		l.Scale = scaleW
		l.ResizeHeight = int(float32(srcHeight) * l.Scale)
	} else {
		l.ResizeWidth = int(float32(srcWidth) * l.Scale)
	}

	l.YPad = (dstHeight - l.ResizeHeight) / 2
	l.XPad = (dstWidth - l.ResizeWidth) / 2

	return l
}

// Valid reports whether the letterbox maps a non empty frame
func (l Letterbox) Valid() bool {
	return l.Scale > 0
}

// ToSource maps a point in tensor space back to source frame pixels
func (l Letterbox) ToSource(x, y float32) (float32, float32) {

	if l.Scale <= 0 {
		return 0, 0
	}

	return (x - float32(l.XPad)) / l.Scale, (y - float32(l.YPad)) / l.Scale
}

// ToTensor maps a point in source frame pixels to tensor space
func (l Letterbox) ToTensor(x, y float32) (float32, float32) {
	return x*l.Scale + float32(l.XPad), y*l.Scale + float32(l.YPad)
}

// Contains reports whether tensor pixel x,y lies inside the scaled frame
// rather than the padding
func (l Letterbox) Contains(x, y int) bool {
	return x >= l.XPad && x < l.XPad+l.ResizeWidth &&
		y >= l.YPad && y < l.YPad+l.ResizeHeight
}
