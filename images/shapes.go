// Package images - Geometry, letterboxing and decoding utilities for frames.
package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned bounding box in pixel coordinates.
//
// X2 and Y2 are exclusive, matching image.Rectangle.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// BoxFromCenter builds a Box from a center point and a size.
//
// Arguments:
//   - cx: The x coordinate of the box center.
//   - cy: The y coordinate of the box center.
//   - w: The width of the box.
//   - h: The height of the box.
//
// Returns:
//   - Box: The corner-form box.
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Width returns the width of the box, or zero when the box is inverted.
func (b Box) Width() float32 {
	return math32.Max(0, b.X2-b.X1)
}

// Height returns the height of the box, or zero when the box is inverted.
func (b Box) Height() float32 {
	return math32.Max(0, b.Y2-b.Y1)
}

// Area returns the area of the box.
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Clamp limits every coordinate of the box to [0, width] x [0, height].
//
// Arguments:
//   - width: The frame width.
//   - height: The frame height.
//
// Returns:
//   - Box: The clamped box.
func (b Box) Clamp(width, height int) Box {
	w, h := float32(width), float32(height)

	return Box{
		X1: clamp(b.X1, 0, w),
		Y1: clamp(b.Y1, 0, h),
		X2: clamp(b.X2, 0, w),
		Y2: clamp(b.Y2, 0, h),
	}
}

// Bounds returns the smallest integer rectangle that covers the box.
func (b Box) Bounds() image.Rectangle {
	return image.Rect(
		int(math32.Floor(b.X1)),
		int(math32.Floor(b.Y1)),
		int(math32.Ceil(b.X2)),
		int(math32.Ceil(b.Y2)),
	)
}

// CalculateIoU measures the overlap between two boxes as the area of their
// intersection divided by the area of their union.
//
// Boxes that only touch along an edge have an IoU of zero. Two empty boxes also
// yield zero so callers never divide by zero.
//
// Arguments:
//   - r: The first box.
//   - o: The box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Box) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	// Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}

	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}
