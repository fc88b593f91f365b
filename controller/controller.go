// Package controller - Drives model loading and the frame loop from source to display.
package controller

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models"
	"github.com/nvr-ai/go-seg/models/postprocess"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/nvr-ai/go-seg/render"
	"github.com/nvr-ai/go-seg/source"
)

// State is the lifecycle stage of a Controller.
type State int

const (
	// StateIdle means no model has been requested.
	StateIdle State = iota
	// StateLoading means the model is being fetched and warmed up.
	StateLoading
	// StateReady means the model is loaded and no source is running.
	StateReady
	// StateRunning means a source is being processed.
	StateRunning
	// StateStopped means a stream ended or was stopped.
	StateStopped
	// StateError means the model failed to load. It is terminal.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrTerminal is returned by every operation once loading has failed.
	ErrTerminal = errors.New("controller is in a terminal error state")
	// ErrNotReady is returned when a source is started before the model is loaded.
	ErrNotReady = errors.New("model is not ready")
	// ErrAlreadyLoaded is returned when a second model load is requested.
	ErrAlreadyLoaded = errors.New("a model is already loaded or loading")
)

// Sink receives every rendered frame, e.g. a window or an output file.
type Sink interface {
	Present(frame *source.Frame, surface *render.Surface, detections []postprocess.Detection) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame *source.Frame, surface *render.Surface, detections []postprocess.Detection) error

// Present implements Sink.
func (f SinkFunc) Present(frame *source.Frame, surface *render.Surface, detections []postprocess.Detection) error {
	return f(frame, surface, detections)
}

// Options wires a Controller. Loader, Pipeline, Decoder and Renderer are required.
type Options struct {
	Loader   *models.Loader
	Pipeline *inference.Pipeline
	Decoder  *postprocess.Decoder
	Renderer *render.Renderer
	// Surface is painted by the renderer. Defaults to a new surface.
	Surface *render.Surface
	// Sink receives rendered frames. Optional.
	Sink Sink
	// Clock paces streaming sources. Defaults to the wall clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.SugaredLogger
	// Profiler records stage timings. Optional.
	Profiler *profiler.RuntimeProfiler
	// OnProgress receives model loading progress in [0, 1].
	OnProgress func(fraction float64)
	// OnNotice receives source failures meant for the user.
	OnNotice func(err error)
}

// Controller owns the loaded model and runs at most one source at a time.
//
// Starting a new source cancels the current run and waits for it to exit
// before the new run begins, so frames of different sources never interleave
// on the surface.
type Controller struct {
	opts Options

	mu      sync.Mutex
	state   State
	model   *models.Model
	loadErr error
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a controller in the Idle state.
//
// Arguments:
//   - opts: The collaborators.
//
// Returns:
//   - *Controller: The controller.
//   - error: An error if a required collaborator is missing.
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Loader == nil:
		return nil, errors.New("controller requires a loader")
	case opts.Pipeline == nil:
		return nil, errors.New("controller requires a pipeline")
	case opts.Decoder == nil:
		return nil, errors.New("controller requires a decoder")
	case opts.Renderer == nil:
		return nil, errors.New("controller requires a renderer")
	}
	if opts.Surface == nil {
		opts.Surface = render.NewSurface()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Controller{opts: opts}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Model returns the loaded model, or nil before Ready.
func (c *Controller) Model() *models.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Err returns the load failure once the controller is in StateError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

// Surface returns the display surface.
func (c *Controller) Surface() *render.Surface {
	return c.opts.Surface
}

// Load fetches and warms up the model, blocking until it is ready. Progress
// is forwarded to OnProgress. A failure is terminal.
//
// Arguments:
//   - ctx: Cancels the load.
//   - uri: The model location.
//
// Returns:
//   - error: A *models.LoadError on failure, ErrTerminal after an earlier
//     failure, or ErrAlreadyLoaded if a model was already requested.
func (c *Controller) Load(ctx context.Context, uri string) error {
	c.mu.Lock()
	switch c.state {
	case StateError:
		c.mu.Unlock()
		return ErrTerminal
	case StateIdle:
	default:
		c.mu.Unlock()
		return ErrAlreadyLoaded
	}
	c.state = StateLoading
	c.mu.Unlock()

	c.opts.Logger.Infow("loading model", "uri", uri)
	task := c.opts.Loader.Load(ctx, uri)
	for p := range task.Progress() {
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(p)
		}
	}

	// The progress channel closes only after the task has finished.
	model, err := task.Wait(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateError
		c.loadErr = err
		return err
	}

	c.model = model
	c.state = StateReady
	c.opts.Logger.Infow("controller ready", "uri", uri)
	return nil
}

// Start runs src, replacing any current run. Still images run a single cycle
// and return to Ready; streams run one cycle per tick at src.FPS() until they
// end or are stopped. The controller closes src when the run ends.
//
// Arguments:
//   - ctx: Bounds the run.
//   - src: The frame source.
//
// Returns:
//   - error: ErrNotReady before the model is loaded, ErrTerminal after a failed load.
func (c *Controller) Start(ctx context.Context, src source.Source) error {
	c.mu.Lock()
	switch c.state {
	case StateError:
		c.mu.Unlock()
		return ErrTerminal
	case StateIdle, StateLoading:
		c.mu.Unlock()
		return ErrNotReady
	}

	prevCancel, prevDone := c.cancel, c.done

	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.state = StateRunning
	model := c.model
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	c.opts.Logger.Infow("starting source", "source", src.ID(), "kind", src.Kind(), "fps", src.FPS())
	go c.run(runCtx, gen, model, src, done)
	return nil
}

// Stop cancels the current run and waits for it to exit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateError {
		c.mu.Unlock()
		return ErrTerminal
	}

	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen++
	if c.state == StateRunning {
		c.state = StateStopped
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Wait blocks until the current run ends or ctx is cancelled.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any run and releases the model.
func (c *Controller) Close() error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrTerminal) {
		return err
	}

	c.mu.Lock()
	model := c.model
	c.model = nil
	c.mu.Unlock()

	if model == nil {
		return nil
	}
	return model.Close()
}

func (c *Controller) run(ctx context.Context, gen uint64, model *models.Model, src source.Source, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := src.Close(); err != nil {
			c.opts.Logger.Warnw("failed to close source", "source", src.ID(), "error", err)
		}
	}()

	if !src.Kind().Streaming() || src.FPS() <= 0 {
		c.finish(gen, src, c.cycle(ctx, gen, model, src))
		return
	}

	ticker := c.opts.Clock.Ticker(time.Duration(float64(time.Second) / src.FPS()))
	defer ticker.Stop()

	for {
		if err := c.cycle(ctx, gen, model, src); err != nil {
			c.finish(gen, src, err)
			return
		}

		select {
		case <-ctx.Done():
			c.finish(gen, src, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// cycle processes one frame. It returns an error only when the run must end.
func (c *Controller) cycle(ctx context.Context, gen uint64, model *models.Model, src source.Source) error {
	defer c.opts.Profiler.StartOperation("cycle")()

	frame, err := src.Next(ctx)
	if err != nil {
		return err
	}

	done := c.opts.Profiler.StartOperation("infer")
	raw, err := c.opts.Pipeline.Infer(ctx, model, frame.Image)
	done()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.opts.Logger.Warnw("inference failed, skipping frame", "source", frame.Source, "seq", frame.Seq, "error", err)
		return nil
	}

	done = c.opts.Profiler.StartOperation("decode")
	detections, err := c.opts.Decoder.Decode(raw)
	done()
	raw.Release()
	if err != nil {
		c.opts.Logger.Warnw("decode failed, skipping frame", "source", frame.Source, "seq", frame.Seq, "error", err)
		return nil
	}
	c.opts.Profiler.RecordMetric("detections", float64(len(detections)))

	c.mu.Lock()
	defer c.mu.Unlock()

	// A newer Start or Stop owns the surface now.
	if gen != c.gen || ctx.Err() != nil {
		return context.Canceled
	}

	done = c.opts.Profiler.StartOperation("render")
	err = c.opts.Renderer.Render(c.opts.Surface, frame.Image, detections)
	done()
	if err != nil {
		c.opts.Logger.Warnw("render failed", "source", frame.Source, "seq", frame.Seq, "error", err)
		return nil
	}

	if c.opts.Sink != nil {
		if err := c.opts.Sink.Present(frame, c.opts.Surface, detections); err != nil {
			c.opts.Logger.Warnw("sink failed", "source", frame.Source, "seq", frame.Seq, "error", err)
		}
	}
	return nil
}

func (c *Controller) finish(gen uint64, src source.Source, err error) {
	var notice error

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	var srcErr *source.Error
	switch {
	case err == nil:
		c.state = StateReady
	case errors.Is(err, io.EOF):
		c.opts.Logger.Infow("source ended", "source", src.ID())
		if src.Kind().Streaming() {
			c.state = StateStopped
		} else {
			c.state = StateReady
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.state = StateStopped
	case errors.As(err, &srcErr):
		c.opts.Logger.Warnw("source failed", "source", src.ID(), "error", err)
		c.state = StateReady
		notice = err
	default:
		c.opts.Logger.Errorw("run failed", "source", src.ID(), "error", err)
		c.state = StateReady
		notice = err
	}
	c.mu.Unlock()

	if notice != nil && c.opts.OnNotice != nil {
		c.opts.OnNotice(notice)
	}
}
