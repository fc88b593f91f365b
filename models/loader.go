package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-seg/inference"
)

const (
	// fetchWeight is the share of overall progress spent downloading artifacts.
	fetchWeight = 0.9
	// openedProgress is reported once the backend has parsed the model.
	openedProgress = 0.95
	// progressBuffer holds every distinct 1% step plus the initial zero.
	progressBuffer = 128
)

// BackendFactory opens a backend for a model file on the local filesystem.
type BackendFactory func(path string) (inference.Backend, error)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// BaseURL is the origin relative model URIs are resolved against.
	BaseURL string
	// Weights are extra files (external tensor data) fetched next to the model,
	// relative to its URI.
	Weights []string
	// CacheDir receives downloaded artifacts.
	CacheDir string
	// Client performs HTTP fetches.
	Client *http.Client
	// Pool lends warm-up tensors. It must be the pool the backend allocates from.
	Pool *inference.Pool
	// Open creates the backend.
	Open BackendFactory
	// Labels are the class names. Defaults to the YOLO COCO set.
	Labels *OutputClassSet
	// WarmupSeed seeds the random warm-up input.
	WarmupSeed uint64
	// Logger receives loading events.
	Logger *zap.SugaredLogger
}

// Loader fetches, opens, validates and warms up models.
type Loader struct {
	opts    LoaderOptions
	fetcher *fetcher
}

// NewLoader creates a new model loader.
//
// Arguments:
//   - opts: The loader options. Pool and Open are required.
//
// Returns:
//   - *Loader: The loader.
//   - error: An error if a required option is missing.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Open == nil {
		return nil, errors.New("loader requires a backend factory")
	}
	if opts.Pool == nil {
		return nil, errors.New("loader requires a tensor pool")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "go-seg", "models")
	}
	if opts.Labels == nil {
		opts.Labels = YOLOClasses()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &Loader{
		opts:    opts,
		fetcher: &fetcher{client: opts.Client, cacheDir: opts.CacheDir},
	}, nil
}

// LoadTask is an in-flight model load.
//
// Progress yields fractions in [0, 1] that never decrease. On success the last
// value is exactly 1.0 and is sent only after warm-up completed. The channel is
// closed when loading ends, successfully or not, and is never restarted.
type LoadTask struct {
	progress chan float64
	done     chan struct{}

	// last and reported are only touched by the loading goroutine.
	last     float64
	reported bool

	model *Model
	err   error
}

func newLoadTask() *LoadTask {
	return &LoadTask{
		progress: make(chan float64, progressBuffer),
		done:     make(chan struct{}),
	}
}

// Progress returns the progress sequence.
func (t *LoadTask) Progress() <-chan float64 {
	return t.progress
}

// Done is closed once loading has finished.
func (t *LoadTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until loading finishes or ctx is cancelled.
//
// Returns:
//   - *Model: The ready model.
//   - error: A *LoadError when loading failed, or the context error.
func (t *LoadTask) Wait(ctx context.Context) (*Model, error) {
	select {
	case <-t.done:
		return t.model, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *LoadTask) report(fraction float64) {
	q := math.Floor(math.Min(math.Max(fraction, 0), 1)*100+1e-9) / 100
	if t.reported && q <= t.last {
		return
	}
	t.last, t.reported = q, true

	select {
	case t.progress <- q:
	default:
	}
}

func (t *LoadTask) finish(model *Model, err error) {
	t.model, t.err = model, err
	close(t.progress)
	close(t.done)
}

// FormatProgress renders a fraction as the loader overlay text, e.g. "42.00%".
func FormatProgress(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}

// Load starts loading the model at uri in the background.
//
// Arguments:
//   - ctx: Cancels fetching and warm-up.
//   - uri: The model location, resolved against BaseURL.
//
// Returns:
//   - *LoadTask: The in-flight load.
//
// @example
//
//	task := loader.Load(ctx, "yolo11n-seg.onnx")
//	for p := range task.Progress() {
//	    fmt.Printf("\rLoading model... %s", models.FormatProgress(p))
//	}
//	model, err := task.Wait(ctx)
func (l *Loader) Load(ctx context.Context, uri string) *LoadTask {
	task := newLoadTask()

	go func() {
		model, err := l.load(ctx, uri, task)
		task.finish(model, err)
	}()

	return task
}

func (l *Loader) load(ctx context.Context, uri string, task *LoadTask) (*Model, error) {
	fail := func(stage string, err error) (*Model, error) {
		l.opts.Logger.Errorw("model load failed", "uri", uri, "stage", stage, "error", err)
		return nil, &LoadError{URI: uri, Stage: stage, Err: err}
	}

	task.report(0)

	files, err := l.artifacts(uri)
	if err != nil {
		return fail("resolve", err)
	}

	modelPath, err := l.fetchAll(ctx, files, task)
	if err != nil {
		return fail("fetch", err)
	}

	backend, err := l.opts.Open(modelPath)
	if err != nil {
		return fail("open", err)
	}
	task.report(openedProgress)

	shape, err := ValidateBackend(backend)
	if err != nil {
		backend.Close()
		return fail("handshake", err)
	}

	outputShapes, err := l.warmup(ctx, backend, shape)
	if err != nil {
		backend.Close()
		return fail("warmup", err)
	}

	model := &Model{
		uri:          uri,
		backend:      backend,
		input:        shape,
		outputShapes: outputShapes,
		labels:       l.opts.Labels,
	}

	l.opts.Logger.Infow("model ready",
		"uri", uri,
		"path", modelPath,
		"input", shape.Canonical(),
		"layout", shape.Layout.String(),
		"outputs", outputShapes,
		"classes", l.opts.Labels.Len(),
	)
	task.report(1)

	return model, nil
}

// artifacts returns the resolved model URI followed by its weight files.
func (l *Loader) artifacts(uri string) ([]string, error) {
	resolved, err := ResolveURI(l.opts.BaseURL, uri)
	if err != nil {
		return nil, err
	}

	files := []string{resolved}
	for _, w := range l.opts.Weights {
		var sibling string
		if isRemote(resolved) {
			sibling, err = ResolveURI(resolved, w)
			if err != nil {
				return nil, err
			}
		} else {
			sibling = filepath.Join(filepath.Dir(localPath(resolved)), filepath.FromSlash(w))
		}
		files = append(files, sibling)
	}

	return files, nil
}

// fetchAll downloads every artifact, spreading progress evenly across files.
func (l *Loader) fetchAll(ctx context.Context, files []string, task *LoadTask) (string, error) {
	n := float64(len(files))
	var modelPath string

	for i, f := range files {
		p, err := l.fetcher.fetch(ctx, f, func(done, total int64) {
			frac := 0.0
			if total > 0 {
				frac = math.Min(float64(done)/float64(total), 1)
			}
			task.report(fetchWeight * (float64(i) + frac) / n)
		})
		if err != nil {
			return "", err
		}
		if i == 0 {
			modelPath = p
		}
		l.opts.Logger.Debugw("model artifact fetched", "uri", f, "path", p)
	}
	task.report(fetchWeight)

	return modelPath, nil
}

// warmup runs one inference with a random input so the first real frame does not
// pay for lazy initialization. Every tensor it touches is released before return.
func (l *Loader) warmup(ctx context.Context, backend inference.Backend, shape inference.InputShape) ([][]int64, error) {
	input, err := l.opts.Pool.Acquire(shape.Dims()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire warm-up input")
	}

	rng := rand.New(rand.NewPCG(l.opts.WarmupSeed, l.opts.WarmupSeed^0x9e3779b97f4a7c15))
	for i := range input.Data {
		input.Data[i] = rng.Float32()
	}

	outputs, err := backend.Execute(ctx, input)
	input.Release()
	defer inference.ReleaseAll(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "warm-up inference failed")
	}

	shapes := lo.Map(outputs, func(t *inference.Tensor, _ int) []int64 {
		return append([]int64(nil), t.Shape...)
	})
	if err := ValidateOutputShapes(shapes); err != nil {
		return nil, err
	}

	return shapes, nil
}
