// Package inference - Tensor buffers, preprocessing and the per-frame inference pipeline.
package inference

import (
	"fmt"

	"go.uber.org/atomic"
)

// Layout is the memory ordering a backend expects for its image input.
type Layout int

const (
	// LayoutNHWC is batch-height-width-channel ordering (TensorFlow style exports).
	LayoutNHWC Layout = iota
	// LayoutNCHW is batch-channel-height-width ordering (common for ONNX).
	LayoutNCHW
)

// String returns the conventional name of the layout.
func (l Layout) String() string {
	switch l {
	case LayoutNCHW:
		return "NCHW"
	case LayoutNHWC:
		return "NHWC"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// InputShape is the canonical description of an image input.
//
// Dimensions are always stored as (batch, height, width, channels) regardless of
// the layout the backend uses.
type InputShape struct {
	Batch    int
	Height   int
	Width    int
	Channels int
	Layout   Layout
}

// ParseInputShape validates a rank-4 backend input declaration and converts it
// to canonical form.
//
// A dynamic batch dimension (-1 or 0) is treated as 1. Spatial dimensions must be
// fixed. Exactly one of dims[1] and dims[3] must be 3 to decide the layout.
//
// Arguments:
//   - dims: The dimensions as declared by the backend.
//
// Returns:
//   - InputShape: The canonical shape.
//   - error: An error if the declaration is not an image input.
func ParseInputShape(dims []int64) (InputShape, error) {
	if len(dims) != 4 {
		return InputShape{}, fmt.Errorf("input must have rank 4, got %d (%v)", len(dims), dims)
	}

	batch := int(dims[0])
	if batch <= 0 {
		batch = 1
	}

	var shape InputShape
	switch {
	case dims[1] == 3:
		shape = InputShape{Batch: batch, Channels: 3, Height: int(dims[2]), Width: int(dims[3]), Layout: LayoutNCHW}
	case dims[3] == 3:
		shape = InputShape{Batch: batch, Height: int(dims[1]), Width: int(dims[2]), Channels: 3, Layout: LayoutNHWC}
	default:
		return InputShape{}, fmt.Errorf("input must have 3 channels, got %v", dims)
	}

	if shape.Height <= 0 || shape.Width <= 0 {
		return InputShape{}, fmt.Errorf("input spatial dimensions must be fixed, got %v", dims)
	}

	return shape, nil
}

// Canonical returns the shape as (batch, height, width, channels).
func (s InputShape) Canonical() []int64 {
	return []int64{int64(s.Batch), int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Dims returns the shape in the order the backend expects.
func (s InputShape) Dims() []int64 {
	if s.Layout == LayoutNCHW {
		return []int64{int64(s.Batch), int64(s.Channels), int64(s.Height), int64(s.Width)}
	}
	return s.Canonical()
}

// Tensor is a float32 buffer borrowed from a Pool.
//
// Every Tensor must be released exactly once; further calls to Release are no-ops.
type Tensor struct {
	// Shape holds the tensor dimensions.
	Shape []int64
	// Data holds the elements in row-major order.
	Data []float32

	pool     *Pool
	released atomic.Bool
}

// Size returns the number of elements described by the shape.
func (t *Tensor) Size() int {
	return ShapeSize(t.Shape)
}

// Released reports whether the tensor has been returned to its pool.
func (t *Tensor) Released() bool {
	return t.released.Load()
}

// Release returns the buffer to its pool. The tensor must not be used afterwards.
func (t *Tensor) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.pool != nil {
		t.pool.put(t.Data)
	}
	t.Data = nil
}

// ReleaseAll releases every tensor in ts, skipping nil entries.
func ReleaseAll(ts []*Tensor) {
	for _, t := range ts {
		t.Release()
	}
}

// ShapeSize returns the element count of a shape. Non-positive dimensions count as zero.
func ShapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}

	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= int(d)
	}
	return n
}
