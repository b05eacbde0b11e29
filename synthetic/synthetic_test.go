package synthetic

import (
	"context"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/pipeline"
	"github.com/swdee/go-rtvideo/postprocess"
	"github.com/swdee/go-rtvideo/preprocess"
)

func decode(t *testing.T, out *rtvideo.Tensor, lb preprocess.Letterbox) []postprocess.Detection {

	yolo := postprocess.NewYOLO(postprocess.YOLOParams{
		ObjectClassNum:  len(Palette),
		MaxObjectNumber: 100,
		Layout:          postprocess.LayoutXYWHClsTransposed,
		InputWidth:      lb.DstWidth,
		InputHeight:     lb.DstHeight,
		Labels:          Labels(),
	})

	dets, err := yolo.DetectObjectsLetterbox(out, lb, 0.5, 0.4)
	require.NoError(t, err)

	return dets
}

func TestSourceFrames(t *testing.T) {

	src := NewSource(SourceOptions{Width: 320, Height: 240, Objects: 3, Frames: 2})

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 320, f.Image.Bounds().Dx())
	assert.Len(t, src.Boxes(), 3)

	// object pixels carry their palette colour
	r := src.Boxes()[1]
	assert.Equal(t, Palette[1], f.Image.(*image.RGBA).RGBAAt(r.Min.X+1, r.Min.Y+1))

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestEngineFindsObjects(t *testing.T) {

	src := NewSource(SourceOptions{Width: 1280, Height: 720, Objects: 4, Seed: 7})
	f, err := src.Next(context.Background())
	require.NoError(t, err)

	conv := preprocess.NewConverter(640, 640)
	tensor := make([]float32, conv.TensorLen())

	lb, err := conv.Preprocess(f.Image, tensor)
	require.NoError(t, err)

	for _, output := range []rtvideo.TensorType{rtvideo.TensorFloat32, rtvideo.TensorFloat16} {

		e := NewEngine(EngineOptions{Output: output})

		out, err := e.Infer(rtvideo.NewFloat32Tensor([]int{1, 3, 640, 640}, tensor))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4 + len(Palette), len(Palette)}, out.Shape)
		assert.Equal(t, output, out.Type)

		dets := decode(t, out, lb)
		require.Len(t, dets, 4, output.String())

		boxes := src.Boxes()

		for _, d := range dets {
			want := boxes[d.ClassID]
			assert.InDelta(t, want.Min.X, d.Box.X, 4, "class %d", d.ClassID)
			assert.InDelta(t, want.Min.Y, d.Box.Y, 4, "class %d", d.ClassID)
			assert.InDelta(t, want.Dx(), d.Box.W, 6, "class %d", d.ClassID)
			assert.InDelta(t, want.Dy(), d.Box.H, 6, "class %d", d.ClassID)
			assert.Equal(t, Labels()[d.ClassID], d.ClassName)
		}
	}
}

func TestEngineErrors(t *testing.T) {

	e := NewEngine(EngineOptions{})

	_, err := e.Infer(rtvideo.NewFloat32Tensor([]int{1, 640, 640, 3}, nil))
	assert.Error(t, err)

	require.NoError(t, e.Close())

	_, err = e.Infer(rtvideo.NewFloat32Tensor([]int{1, 3, 8, 8}, nil))
	assert.ErrorIs(t, err, rtvideo.ErrEngineClosed)
}

func TestPipelineTracksSyntheticObjects(t *testing.T) {

	cfg := rtvideo.DefaultConfig()
	cfg.InputWidth = 320
	cfg.InputHeight = 320
	cfg.ClassCount = len(Palette)
	cfg.TensorLayout = "xywh_cls_transposed"
	cfg.BufferPoolSlots = 32
	cfg.BufferSlotBytes = 320 * 320 * 3 * 4
	cfg.QueueCapacity = 16

	src := NewSource(SourceOptions{
		Width:    320,
		Height:   240,
		Objects:  3,
		Frames:   30,
		FPS:      200,
		MaxSpeed: 1,
		Seed:     3,
	})

	p, err := pipeline.New(pipeline.Options{
		Config: cfg,
		Source: src,
		Engine: Factory(EngineOptions{}),
		Labels: Labels(),
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, p.Flush(ctx))
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, uint64(30), stats.Frames)
	assert.Equal(t, int64(0), stats.InFlight)
	assert.Equal(t, stats.Frames, stats.Stages["track"].Processed+stats.Dropped())

	res := p.Latest()
	require.NotNil(t, res)
	assert.Len(t, res.Detections, 3)
	assert.GreaterOrEqual(t, len(res.Tracks), 3)

	if stats.Dropped() == 0 {
		require.Len(t, res.Tracks, 3)

		for _, trk := range res.Tracks {
			assert.LessOrEqual(t, trk.ID, int64(3), "identity switch on track %d", trk.ID)
		}
	}

	assert.Equal(t, 0, stats.Pool.ActiveSlots)
}
