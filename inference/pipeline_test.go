package inference

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingExecutor struct {
	shape InputShape
	pool  *Pool
	err   error
	input []float32
}

func (e *recordingExecutor) InputShape() InputShape { return e.shape }

func (e *recordingExecutor) Execute(_ context.Context, input *Tensor) ([]*Tensor, error) {
	e.input = append([]float32(nil), input.Data...)
	if e.err != nil {
		return nil, e.err
	}
	out, err := e.pool.Acquire(1, 6, 10)
	if err != nil {
		return nil, err
	}
	return []*Tensor{out}, nil
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func newTestPipeline(t *testing.T, pool *Pool) *Pipeline {
	return NewPipeline(DefaultPreprocessConfig(), pool, zaptest.NewLogger(t).Sugar())
}

func TestInferReleasesInput(t *testing.T) {
	pool := NewPool(0)
	exec := &recordingExecutor{
		shape: InputShape{Batch: 1, Height: 64, Width: 64, Channels: 3, Layout: LayoutNCHW},
		pool:  pool,
	}

	before := pool.Live()
	raw, err := newTestPipeline(t, pool).Infer(context.Background(), exec, gradient(64, 48))
	require.NoError(t, err)

	assert.Equal(t, before+1, pool.Live(), "only the output may be outstanding")
	assert.Equal(t, 64, raw.FrameWidth)
	assert.Equal(t, 48, raw.FrameHeight)
	assert.Equal(t, float64(8), raw.Letterbox.PadY)

	raw.Release()
	raw.Release()
	assert.Equal(t, before, pool.Live())
}

func TestInferExecuteFailure(t *testing.T) {
	pool := NewPool(0)
	exec := &recordingExecutor{
		shape: InputShape{Batch: 1, Height: 32, Width: 32, Channels: 3, Layout: LayoutNHWC},
		pool:  pool,
		err:   errors.New("device lost"),
	}

	_, err := newTestPipeline(t, pool).Infer(context.Background(), exec, gradient(32, 32))
	require.Error(t, err)

	var inferErr *Error
	require.ErrorAs(t, err, &inferErr)
	assert.Equal(t, "execute", inferErr.Op)
	assert.Equal(t, int64(0), pool.Live())
}

func TestInferCancelled(t *testing.T) {
	pool := NewPool(0)
	exec := &recordingExecutor{shape: InputShape{Batch: 1, Height: 32, Width: 32, Channels: 3}, pool: pool}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, pool).Infer(ctx, exec, gradient(32, 32))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), pool.Live())
}

func TestInferPoolExhausted(t *testing.T) {
	pool := NewPool(1)
	held, err := pool.Acquire(1)
	require.NoError(t, err)
	defer held.Release()

	exec := &recordingExecutor{shape: InputShape{Batch: 1, Height: 32, Width: 32, Channels: 3}, pool: pool}
	_, err = newTestPipeline(t, pool).Infer(context.Background(), exec, gradient(32, 32))
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestInferIsDeterministic(t *testing.T) {
	pool := NewPool(0)
	exec := &recordingExecutor{
		shape: InputShape{Batch: 1, Height: 40, Width: 40, Channels: 3, Layout: LayoutNCHW},
		pool:  pool,
	}
	p := newTestPipeline(t, pool)
	frame := gradient(57, 31)

	raw, err := p.Infer(context.Background(), exec, frame)
	require.NoError(t, err)
	first := exec.input
	raw.Release()

	raw, err = p.Infer(context.Background(), exec, frame)
	require.NoError(t, err)
	raw.Release()

	assert.Equal(t, first, exec.input)
}

func TestPreprocessLayouts(t *testing.T) {
	pool := NewPool(0)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 4; i++ {
		img.Pix[i*4+0] = 255
		img.Pix[i*4+1] = 0
		img.Pix[i*4+2] = 51
		img.Pix[i*4+3] = 255
	}

	nchw, _, err := NewPreprocessor(DefaultPreprocessConfig(), pool).
		Preprocess(img, InputShape{Batch: 1, Height: 2, Width: 2, Channels: 3, Layout: LayoutNCHW})
	require.NoError(t, err)
	defer nchw.Release()
	assert.Equal(t, []int64{1, 3, 2, 2}, nchw.Shape)
	assert.InDelta(t, 1.0, nchw.Data[0], 1e-6)
	assert.InDelta(t, 0.0, nchw.Data[4], 1e-6)
	assert.InDelta(t, 0.2, nchw.Data[8], 1e-6)

	cfg := DefaultPreprocessConfig()
	cfg.ColorMode = ColorModeBGR
	cfg.Normalization = NormalizeNone
	nhwc, _, err := NewPreprocessor(cfg, pool).
		Preprocess(img, InputShape{Batch: 1, Height: 2, Width: 2, Channels: 3, Layout: LayoutNHWC})
	require.NoError(t, err)
	defer nhwc.Release()
	assert.Equal(t, []int64{1, 2, 2, 3}, nhwc.Shape)
	assert.Equal(t, []float32{51, 0, 255}, nhwc.Data[0:3])
}
