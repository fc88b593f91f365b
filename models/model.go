// Package models - Loading, validating and holding the segmentation model.
package models

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/nvr-ai/go-seg/inference"
)

// LoadError reports a model that could not be fetched, opened, validated or
// warmed up. It is fatal for the application.
type LoadError struct {
	// URI is the model location as requested.
	URI string
	// Stage is the loading step that failed.
	Stage string
	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %s: %v", e.URI, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Model is a loaded, validated and warmed up model.
//
// A Model is immutable once Load returns it. Only one model is active at a time
// and it is never reloaded.
type Model struct {
	uri          string
	backend      inference.Backend
	input        inference.InputShape
	outputShapes [][]int64
	labels       *OutputClassSet
	closed       atomic.Bool
}

// URI returns the location the model was loaded from.
func (m *Model) URI() string {
	return m.uri
}

// InputShape returns the validated input shape as (batch, height, width, channels).
func (m *Model) InputShape() inference.InputShape {
	return m.input
}

// OutputShapes returns the concrete output shapes observed during warm-up.
func (m *Model) OutputShapes() [][]int64 {
	shapes := make([][]int64, len(m.outputShapes))
	for i, s := range m.outputShapes {
		shapes[i] = append([]int64(nil), s...)
	}
	return shapes
}

// Labels returns the class labels.
func (m *Model) Labels() *OutputClassSet {
	return m.labels
}

// Execute runs the backend on a preprocessed input tensor.
func (m *Model) Execute(ctx context.Context, input *inference.Tensor) ([]*inference.Tensor, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("model %s is closed", m.uri)
	}
	return m.backend.Execute(ctx, input)
}

// Close releases the backend. Further calls to Execute fail.
func (m *Model) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.backend.Close()
}
