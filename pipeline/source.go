package pipeline

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrNoFrame is returned by a Source that has no frame ready yet, the input
// stage retries after a short pause
var ErrNoFrame = errors.New("no frame available")

// Frame is one decoded video frame
type Frame struct {
	Image image.Image
	// Timestamp is the capture time of the frame
	Timestamp time.Time
}

// Source supplies decoded frames to the pipeline.  Next should block until a
// frame is available or ctx is done.  Returning io.EOF ends the stream.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// SourceFunc adapts a function to a Source
type SourceFunc func(ctx context.Context) (Frame, error)

// Next calls f
func (f SourceFunc) Next(ctx context.Context) (Frame, error) {
	return f(ctx)
}
