// Package postprocess - Postprocessing utilities for segmentation models.
package postprocess

import (
	"image"

	"github.com/nvr-ai/go-seg/images"
)

// Detection is one object found in a frame.
type Detection struct {
	// Class is the predicted class index.
	Class int
	// Label is the human-readable class name.
	Label string
	// Score is the confidence in [0, 1].
	Score float32
	// Box is in original frame pixels and always inside the frame.
	Box images.Box
	// Mask covers Box.Bounds() clipped to the frame. Opaque pixels belong to the
	// object. Nil when the model has no mask output.
	Mask *image.Alpha
}

// Candidate is a decoded anchor that passed the confidence threshold.
type Candidate struct {
	// Index is the anchor position in the model output.
	Index int
	// Class is the best scoring class.
	Class int
	// Score is the confidence.
	Score float32
	// Box is in model input pixels.
	Box images.Box
	// Coeffs are the mask coefficients.
	Coeffs []float32
}
