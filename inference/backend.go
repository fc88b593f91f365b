package inference

import "context"

// TensorInfo describes one named input or output of a backend.
type TensorInfo struct {
	// Name is the graph node name.
	Name string
	// Dims are the declared dimensions. Dynamic dimensions are -1.
	Dims []int64
}

// Backend is the tensor-execution library as seen by the pipeline.
//
// Implementations must allocate every output tensor from the pool they were
// built with, so the caller can release them through the same accounting.
type Backend interface {
	// Inputs returns the declared model inputs.
	Inputs() []TensorInfo
	// Outputs returns the declared model outputs.
	Outputs() []TensorInfo
	// Execute runs the model on a single input tensor.
	Execute(ctx context.Context, input *Tensor) ([]*Tensor, error)
	// Close releases native resources.
	Close() error
}

// Executor is a loaded model ready to run frames.
type Executor interface {
	// InputShape returns the canonical input shape the model was validated against.
	InputShape() InputShape
	// Execute runs the model on a preprocessed input.
	Execute(ctx context.Context, input *Tensor) ([]*Tensor, error)
}
