package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/inference"
)

// ValidateBackend checks the declared inputs and outputs of a backend before it
// is trusted with frames.
//
// The first input must be a 3-channel rank-4 image. The first output must be
// rank 3 (detections) and a second output, when present, rank 4 (mask prototypes).
//
// Arguments:
//   - backend: The opened backend.
//
// Returns:
//   - inference.InputShape: The canonical input shape.
//   - error: An error describing the first mismatch.
func ValidateBackend(backend inference.Backend) (inference.InputShape, error) {
	inputs := backend.Inputs()
	if len(inputs) == 0 {
		return inference.InputShape{}, errors.New("model declares no inputs")
	}

	shape, err := inference.ParseInputShape(inputs[0].Dims)
	if err != nil {
		return inference.InputShape{}, errors.Wrapf(err, "input %q", inputs[0].Name)
	}

	outputs := backend.Outputs()
	if len(outputs) == 0 {
		return inference.InputShape{}, errors.New("model declares no outputs")
	}

	dims := make([][]int64, len(outputs))
	for i, o := range outputs {
		dims[i] = o.Dims
	}
	if err := ValidateOutputShapes(dims); err != nil {
		return inference.InputShape{}, err
	}

	return shape, nil
}

// ValidateOutputShapes checks the ranks of the detection and prototype outputs.
func ValidateOutputShapes(shapes [][]int64) error {
	if len(shapes) == 0 {
		return errors.New("model produced no outputs")
	}
	if len(shapes[0]) != 3 {
		return errors.Errorf("detection output must have rank 3, got %v", shapes[0])
	}
	if len(shapes) > 1 && len(shapes[1]) != 4 {
		return errors.Errorf("mask prototype output must have rank 4, got %v", shapes[1])
	}
	return nil
}
