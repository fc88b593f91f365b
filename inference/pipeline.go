package inference

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-seg/images"
)

// RawOutputs are the untouched backend outputs for one frame plus what is needed
// to map them back onto it.
type RawOutputs struct {
	// Tensors are the backend outputs in declaration order.
	Tensors []*Tensor
	// Letterbox is the placement of the frame in model space.
	Letterbox images.LetterboxParams
	// FrameWidth is the original frame width.
	FrameWidth int
	// FrameHeight is the original frame height.
	FrameHeight int
}

// Release returns every output buffer to its pool. Safe to call more than once.
func (r *RawOutputs) Release() {
	if r == nil {
		return
	}
	ReleaseAll(r.Tensors)
}

// Pipeline runs frames through a model.
type Pipeline struct {
	pre    *Preprocessor
	logger *zap.SugaredLogger
}

// NewPipeline creates a new inference pipeline.
//
// Arguments:
//   - config: The preprocessing configuration.
//   - pool: The pool input tensors are borrowed from.
//   - logger: The logger.
//
// Returns:
//   - *Pipeline: The pipeline.
func NewPipeline(config PreprocessConfig, pool *Pool, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		pre:    NewPreprocessor(config, pool),
		logger: logger,
	}
}

// Infer letterboxes a frame, runs it through the model and returns the raw outputs.
//
// The input tensor is released as soon as the backend returns, on success and
// failure alike. The caller owns the returned outputs and must Release them.
//
// Arguments:
//   - ctx: Cancels the call before the backend is invoked.
//   - model: The loaded model.
//   - frame: The frame pixels.
//
// Returns:
//   - *RawOutputs: The backend outputs.
//   - error: An *Error if any stage fails.
func (p *Pipeline) Infer(ctx context.Context, model Executor, frame image.Image) (*RawOutputs, error) {
	if model == nil {
		return nil, NewError("infer", errors.New("model not loaded"))
	}
	if frame == nil {
		return nil, NewError("preprocess", errors.New("nil frame"))
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError("infer", err)
	}

	input, params, err := p.pre.Preprocess(frame, model.InputShape())
	if err != nil {
		return nil, NewError("preprocess", err)
	}

	outputs, err := model.Execute(ctx, input)
	input.Release()
	if err != nil {
		ReleaseAll(outputs)
		return nil, NewError("execute", err)
	}

	bounds := frame.Bounds()
	p.logger.Debugw("inference complete",
		"frame", bounds.Size(),
		"scale", params.Scale,
		"outputs", len(outputs),
	)

	return &RawOutputs{
		Tensors:     outputs,
		Letterbox:   params,
		FrameWidth:  bounds.Dx(),
		FrameHeight: bounds.Dy(),
	}, nil
}
