package test

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
)

// SyntheticDetection is an object the fake backend reports on every call.
type SyntheticDetection struct {
	// Box is in model input pixels.
	Box images.Box
	// Class is the class index.
	Class int
	// Score is the class score.
	Score float32
	// MaskLogit is written to every prototype pixel of the detection's mask
	// channel. Positive values produce a mask covering the whole box.
	MaskLogit float32
}

// SegmentationOptions shapes the outputs of a fake YOLO segmentation model.
type SegmentationOptions struct {
	InputSize  int
	Classes    int
	MaskCoeffs int
	Anchors    int
	ProtoSize  int
	Layout     inference.Layout
	// Transposed emits detections as [1, anchors, features] instead of
	// [1, features, anchors].
	Transposed bool
	// ProtosNHWC emits prototypes as [1, h, w, coeffs] instead of [1, coeffs, h, w].
	ProtosNHWC bool
}

// DefaultSegmentationOptions mirrors a YOLO11n-seg export at 640x640.
func DefaultSegmentationOptions() SegmentationOptions {
	return SegmentationOptions{
		InputSize:  640,
		Classes:    80,
		MaskCoeffs: 32,
		Anchors:    8400,
		ProtoSize:  160,
		Layout:     inference.LayoutNCHW,
	}
}

// FakeBackend is an in-memory inference.Backend that encodes synthetic
// detections the way YOLO segmentation exports lay out their outputs.
type FakeBackend struct {
	Opts       SegmentationOptions
	Pool       *inference.Pool
	Detections []SyntheticDetection

	// ExecuteErr makes every Execute call fail.
	ExecuteErr error
	// OnExecute runs at the start of every Execute call.
	OnExecute func(ctx context.Context)
	// InputsOverride replaces the declared inputs when set.
	InputsOverride []inference.TensorInfo
	// OutputsOverride replaces the declared outputs when set.
	OutputsOverride []inference.TensorInfo

	Calls  atomic.Int64
	Closed atomic.Bool

	mu         sync.Mutex
	lastInputs [][]float32
}

// NewFakeBackend creates a fake backend that allocates from pool.
func NewFakeBackend(pool *inference.Pool, opts SegmentationOptions, detections ...SyntheticDetection) *FakeBackend {
	return &FakeBackend{Opts: opts, Pool: pool, Detections: detections}
}

// Features returns the per-anchor feature count.
func (b *FakeBackend) Features() int {
	return 4 + b.Opts.Classes + b.Opts.MaskCoeffs
}

// Inputs implements inference.Backend.
func (b *FakeBackend) Inputs() []inference.TensorInfo {
	if b.InputsOverride != nil {
		return b.InputsOverride
	}
	shape := inference.InputShape{
		Batch:    1,
		Height:   b.Opts.InputSize,
		Width:    b.Opts.InputSize,
		Channels: 3,
		Layout:   b.Opts.Layout,
	}
	return []inference.TensorInfo{{Name: "images", Dims: shape.Dims()}}
}

// Outputs implements inference.Backend.
func (b *FakeBackend) Outputs() []inference.TensorInfo {
	if b.OutputsOverride != nil {
		return b.OutputsOverride
	}
	return []inference.TensorInfo{
		{Name: "output0", Dims: b.detectionShape()},
		{Name: "output1", Dims: b.protoShape()},
	}
}

func (b *FakeBackend) detectionShape() []int64 {
	if b.Opts.Transposed {
		return []int64{1, int64(b.Opts.Anchors), int64(b.Features())}
	}
	return []int64{1, int64(b.Features()), int64(b.Opts.Anchors)}
}

func (b *FakeBackend) protoShape() []int64 {
	p, m := int64(b.Opts.ProtoSize), int64(b.Opts.MaskCoeffs)
	if b.Opts.ProtosNHWC {
		return []int64{1, p, p, m}
	}
	return []int64{1, m, p, p}
}

// Execute implements inference.Backend.
func (b *FakeBackend) Execute(ctx context.Context, input *inference.Tensor) ([]*inference.Tensor, error) {
	b.Calls.Inc()
	if b.OnExecute != nil {
		b.OnExecute(ctx)
	}
	if b.Closed.Load() {
		return nil, errors.New("backend closed")
	}
	if input == nil || input.Released() {
		return nil, errors.New("input tensor is not live")
	}

	b.mu.Lock()
	b.lastInputs = append(b.lastInputs, append([]float32(nil), input.Data...))
	b.mu.Unlock()

	if b.ExecuteErr != nil {
		return nil, b.ExecuteErr
	}
	if len(b.Detections) > b.Opts.Anchors {
		return nil, errors.Errorf("%d detections exceed %d anchors", len(b.Detections), b.Opts.Anchors)
	}
	if len(b.Detections) > b.Opts.MaskCoeffs && b.Opts.MaskCoeffs > 0 {
		return nil, errors.Errorf("%d detections exceed %d mask channels", len(b.Detections), b.Opts.MaskCoeffs)
	}

	det, err := b.Pool.Acquire(b.detectionShape()...)
	if err != nil {
		return nil, err
	}
	protos, err := b.Pool.Acquire(b.protoShape()...)
	if err != nil {
		det.Release()
		return nil, err
	}

	b.encodeDetections(det.Data)
	b.encodeProtos(protos.Data)

	return []*inference.Tensor{det, protos}, nil
}

// LastInputs returns a copy of every input seen so far.
func (b *FakeBackend) LastInputs() [][]float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]float32(nil), b.lastInputs...)
}

// Close implements inference.Backend.
func (b *FakeBackend) Close() error {
	b.Closed.Store(true)
	return nil
}

func (b *FakeBackend) encodeDetections(data []float32) {
	features, anchors := b.Features(), b.Opts.Anchors
	set := func(anchor, feature int, v float32) {
		if b.Opts.Transposed {
			data[anchor*features+feature] = v
		} else {
			data[feature*anchors+anchor] = v
		}
	}

	for i, d := range b.Detections {
		set(i, 0, (d.Box.X1+d.Box.X2)/2)
		set(i, 1, (d.Box.Y1+d.Box.Y2)/2)
		set(i, 2, d.Box.Width())
		set(i, 3, d.Box.Height())
		set(i, 4+d.Class, d.Score)
		if b.Opts.MaskCoeffs > 0 {
			// Detection i selects prototype channel i.
			set(i, 4+b.Opts.Classes+i, 1)
		}
	}
}

func (b *FakeBackend) encodeProtos(data []float32) {
	p, m := b.Opts.ProtoSize, b.Opts.MaskCoeffs
	for i, d := range b.Detections {
		if i >= m {
			break
		}
		for y := 0; y < p; y++ {
			for x := 0; x < p; x++ {
				if b.Opts.ProtosNHWC {
					data[(y*p+x)*m+i] = d.MaskLogit
				} else {
					data[i*p*p+y*p+x] = d.MaskLogit
				}
			}
		}
	}
}
