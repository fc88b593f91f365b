package benchmark

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/postprocess"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/nvr-ai/go-seg/render"
)

// PerformanceMetrics captures the outcome of one scenario. Stage durations
// are averages over the measured iterations.
type PerformanceMetrics struct {
	Scenario            Scenario      `json:"scenario"`
	Timestamp           time.Time     `json:"timestamp"`
	TotalDuration       time.Duration `json:"total_duration"`
	DecodeDuration      time.Duration `json:"decode_duration"`
	InferenceDuration   time.Duration `json:"inference_duration"`
	PostProcessDuration time.Duration `json:"post_process_duration"`
	RenderDuration      time.Duration `json:"render_duration"`
	FramesPerSecond     float64       `json:"frames_per_second"`
	MemoryStats         MemoryMetrics `json:"memory_stats"`
	NumCPU              int           `json:"num_cpu"`
	DetectionCount      int           `json:"detection_count"`
	ErrorRate           float64       `json:"error_rate"`
	// LiveTensors is the pool balance after the scenario. Anything but zero is a leak.
	LiveTensors int64 `json:"live_tensors"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// SuiteOptions wires a Suite.
type SuiteOptions struct {
	// Model is the loaded model every scenario runs against.
	Model inference.Executor
	// Pool is the pool the pipeline and the model allocate from.
	Pool     *inference.Pool
	Pipeline *inference.Pipeline
	Decoder  *postprocess.Decoder
	// Renderer draws overlays for scenarios with Render set. Optional.
	Renderer *render.Renderer
	// OutputDir receives SaveResults files.
	OutputDir string
	// Clock times the stages. Defaults to the wall clock.
	Clock clock.Clock
	// Profiler also receives the stage timings. Optional.
	Profiler *profiler.RuntimeProfiler
	Logger   *zap.SugaredLogger
}

// Suite manages and executes benchmark scenarios.
type Suite struct {
	opts SuiteOptions

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - opts: The collaborators. Model, Pool, Pipeline and Decoder are required.
//
// Returns:
//   - *Suite: The benchmark suite.
//   - error: An error if a required collaborator is missing.
func NewSuite(opts SuiteOptions) (*Suite, error) {
	switch {
	case opts.Model == nil:
		return nil, errors.New("benchmark suite requires a model")
	case opts.Pool == nil:
		return nil, errors.New("benchmark suite requires a tensor pool")
	case opts.Pipeline == nil:
		return nil, errors.New("benchmark suite requires a pipeline")
	case opts.Decoder == nil:
		return nil, errors.New("benchmark suite requires a decoder")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Suite{opts: opts}, nil
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// Scenarios returns the configured scenarios.
func (s *Suite) Scenarios() []Scenario {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Scenario(nil), s.scenarios...)
}

// Results returns every completed scenario.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// stageTimes accumulates per-stage durations over measured iterations.
type stageTimes struct {
	decode, infer, post, render time.Duration
}

// RunScenario encodes a synthetic frame in the scenario's format and runs it
// through decode, inference, postprocessing and optionally rendering.
//
// Arguments:
//   - ctx: Cancels the scenario between iterations.
//   - scenario: The scenario.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid or ctx is cancelled.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	data, err := Encode(SyntheticFrame(scenario.Resolution.Width, scenario.Resolution.Height), scenario.ImageFormat)
	if err != nil {
		return nil, err
	}

	var surface *render.Surface
	if scenario.Render && s.opts.Renderer != nil {
		surface = render.NewSurface()
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := s.iterate(ctx, data, surface, nil); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	var (
		times      stageTimes
		detections int
		failures   int
	)
	start := s.opts.Clock.Now()
	for i := 0; i < scenario.Iterations; i++ {
		n, err := s.iterate(ctx, data, surface, &times)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			s.opts.Logger.Debugw("iteration failed", "scenario", scenario.Name, "iteration", i, "error", err)
			continue
		}
		detections += n
	}
	total := s.opts.Clock.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	iterations := time.Duration(scenario.Iterations)
	metrics := &PerformanceMetrics{
		Scenario:            scenario,
		Timestamp:           s.opts.Clock.Now(),
		TotalDuration:       total,
		DecodeDuration:      times.decode / iterations,
		InferenceDuration:   times.infer / iterations,
		PostProcessDuration: times.post / iterations,
		RenderDuration:      times.render / iterations,
		NumCPU:              runtime.NumCPU(),
		DetectionCount:      detections,
		ErrorRate:           float64(failures) / float64(scenario.Iterations),
		LiveTensors:         s.opts.Pool.Live(),
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			SysBytes:        endMem.Sys,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAlloc,
			HeapSysBytes:    endMem.HeapSys,
		},
	}
	if total > 0 {
		metrics.FramesPerSecond = float64(scenario.Iterations-failures) / total.Seconds()
	}

	s.opts.Logger.Infow("scenario complete",
		"scenario", scenario.Name,
		"fps", metrics.FramesPerSecond,
		"infer", metrics.InferenceDuration,
		"detections", detections,
		"error_rate", metrics.ErrorRate,
	)
	return metrics, nil
}

// iterate processes one encoded frame and returns the detection count. Stage
// durations are added to times, and reported to the profiler, when times is not nil.
func (s *Suite) iterate(ctx context.Context, data []byte, surface *render.Surface, times *stageTimes) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	measured := times != nil
	if !measured {
		times = &stageTimes{}
	}
	track := func(name string, dst *time.Duration) func() {
		start := s.opts.Clock.Now()
		return func() {
			d := s.opts.Clock.Since(start)
			*dst += d
			if measured {
				s.opts.Profiler.RecordOperation(name, d)
			}
		}
	}

	done := track("decode", &times.decode)
	frame, _, err := images.Decode(data)
	done()
	if err != nil {
		return 0, err
	}

	done = track("infer", &times.infer)
	raw, err := s.opts.Pipeline.Infer(ctx, s.opts.Model, frame)
	done()
	if err != nil {
		return 0, err
	}

	done = track("postprocess", &times.post)
	detections, err := s.opts.Decoder.Decode(raw)
	raw.Release()
	done()
	if err != nil {
		return 0, err
	}

	if surface != nil {
		done = track("render", &times.render)
		err = s.opts.Renderer.Render(surface, frame, detections)
		done()
		if err != nil {
			return 0, err
		}
	}

	return len(detections), nil
}

// RunAllScenarios executes every configured scenario. A failing scenario is
// logged and skipped.
//
// Returns:
//   - error: ctx.Err() if the run was cancelled.
func (s *Suite) RunAllScenarios(ctx context.Context) error {
	for _, scenario := range s.Scenarios() {
		metrics, err := s.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.opts.Logger.Warnw("scenario failed", "scenario", scenario.Name, "error", err)
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *metrics)
		s.mu.Unlock()
	}
	return nil
}
