package main

import (
	"go.uber.org/zap"

	"github.com/nvr-ai/go-seg/config"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models"
	"github.com/nvr-ai/go-seg/models/postprocess"
	"github.com/nvr-ai/go-seg/onnx"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/nvr-ai/go-seg/render"
)

// stack holds the components every command builds from the configuration.
type stack struct {
	pool     *inference.Pool
	loader   *models.Loader
	pipeline *inference.Pipeline
	decoder  *postprocess.Decoder
	renderer *render.Renderer
	profiler *profiler.RuntimeProfiler
}

func newStack(cfg config.Config, logger *zap.SugaredLogger) (*stack, error) {
	labels := models.YOLOClasses()
	if cfg.Model.Labels != "" {
		var err error
		if labels, err = models.LoadLabels(cfg.Model.Labels); err != nil {
			return nil, err
		}
	}

	pool := inference.NewPool(cfg.Model.PoolCapacity)
	loader, err := models.NewLoader(models.LoaderOptions{
		BaseURL:    cfg.Model.BaseURL,
		Weights:    cfg.Model.Weights,
		CacheDir:   cfg.Model.CacheDir,
		Pool:       pool,
		Open:       onnx.Factory(pool, cfg.Provider),
		Labels:     labels,
		WarmupSeed: cfg.Model.WarmupSeed,
		Logger:     logger.Named("loader"),
	})
	if err != nil {
		return nil, err
	}

	post := cfg.Postprocess
	post.Labels = labels.Names()
	decoder, err := postprocess.NewDecoder(post)
	if err != nil {
		return nil, err
	}

	renderer, err := render.NewRenderer(cfg.Render)
	if err != nil {
		return nil, err
	}

	s := &stack{
		pool:     pool,
		loader:   loader,
		pipeline: inference.NewPipeline(cfg.Preprocess, pool, logger.Named("pipeline")),
		decoder:  decoder,
		renderer: renderer,
	}

	if cfg.Profiler.Enabled {
		s.profiler = profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
			ReportInterval: cfg.Profiler.ReportInterval,
			SampleInterval: cfg.Profiler.SampleInterval,
			Logger:         logger.Named("profiler"),
		})
		s.profiler.AddMetricsCollector(pool)
	}
	return s, nil
}
