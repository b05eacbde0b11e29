package postprocess

// Detection defines the attributes of a single object detected in a frame.
// It is produced fresh every frame and must not be mutated once returned.
type Detection struct {
	// ID is a unique ID assigned to the detection
	ID int64
	// Box is the bounding box in pixels of the original frame
	Box Box
	// Confidence is the combined detection score in [0,1]
	Confidence float32
	// ClassID is the line number in the labels file the Model was trained on
	// defining the Class of the detected object
	ClassID int
	// ClassName is the label of ClassID, empty if no labels were provided
	ClassName string
}
