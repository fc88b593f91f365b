// Package onnx - ONNX Runtime implementation of the inference backend.
package onnx

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
)

// Backend runs an ONNX model through a dynamic ONNX Runtime session. Input and
// output tensors are created per call, so any shape the model accepts can be
// executed.
type Backend struct {
	path    string
	pool    *inference.Pool
	inputs  []inference.TensorInfo
	outputs []inference.TensorInfo

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// Describe reads the declared inputs and outputs of a model file without
// creating a session.
//
// Arguments:
//   - path: The .onnx file.
//   - libPath: The ONNX Runtime shared library. Empty uses the platform default.
//
// Returns:
//   - []inference.TensorInfo: The inputs.
//   - []inference.TensorInfo: The outputs.
//   - error: An error if the runtime cannot be loaded or the model cannot be read.
func Describe(path, libPath string) ([]inference.TensorInfo, []inference.TensorInfo, error) {
	if err := providers.Initialize(libPath); err != nil {
		return nil, nil, err
	}

	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read model info from %s", path)
	}
	return tensorInfos(ins), tensorInfos(outs), nil
}

// Open creates a session for the model at path.
//
// Arguments:
//   - path: The .onnx file.
//   - pool: The pool outputs are allocated from.
//   - config: The execution provider configuration.
//
// Returns:
//   - *Backend: The backend. The caller must Close it.
//   - error: An error if the runtime, the model or the provider cannot be loaded.
func Open(path string, pool *inference.Pool, config providers.Config) (*Backend, error) {
	if pool == nil {
		return nil, errors.New("onnx backend requires a tensor pool")
	}

	inputs, outputs, err := Describe(path, config.LibraryPath)
	if err != nil {
		return nil, err
	}
	if len(inputs) != 1 {
		return nil, errors.Errorf("model has %d inputs, want exactly 1", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, errors.New("model declares no outputs")
	}

	options, err := providers.NewSessionOptions(config)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), options)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating ORT session for %s", path)
	}

	return &Backend{
		path:    path,
		pool:    pool,
		inputs:  inputs,
		outputs: outputs,
		session: session,
	}, nil
}

// Factory adapts Open to the loader's backend constructor.
//
// @example
// loader, err := models.NewLoader(models.LoaderOptions{Pool: pool, Open: onnx.Factory(pool, cfg)})
func Factory(pool *inference.Pool, config providers.Config) func(path string) (inference.Backend, error) {
	return func(path string) (inference.Backend, error) {
		return Open(path, pool, config)
	}
}

// Inputs implements inference.Backend.
func (b *Backend) Inputs() []inference.TensorInfo { return b.inputs }

// Outputs implements inference.Backend.
func (b *Backend) Outputs() []inference.TensorInfo { return b.outputs }

// Execute runs the model. Native tensors live only for the duration of the
// call; results are copied into pooled tensors.
func (b *Backend) Execute(ctx context.Context, input *inference.Tensor) ([]*inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil || input.Released() {
		return nil, errors.New("input tensor is not live")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, errors.New("session is closed")
	}

	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer in.Destroy()

	values := make([]ort.Value, len(b.outputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := b.session.Run([]ort.Value{in}, values); err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	results := make([]*inference.Tensor, 0, len(values))
	for i, v := range values {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			inference.ReleaseAll(results)
			return nil, errors.Errorf("output %s has unsupported type %T", b.outputs[i].Name, v)
		}

		out, err := b.pool.Acquire([]int64(t.GetShape())...)
		if err != nil {
			inference.ReleaseAll(results)
			return nil, err
		}
		copy(out.Data, t.GetData())
		results = append(results, out)
	}

	return results, nil
}

// Close destroys the session. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return errors.Wrapf(err, "error destroying session for %s", b.path)
}

func tensorInfos(infos []ort.InputOutputInfo) []inference.TensorInfo {
	out := make([]inference.TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = inference.TensorInfo{
			Name: info.Name,
			Dims: append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}

func names(infos []inference.TensorInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
