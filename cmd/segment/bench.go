package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-seg/benchmark"
	"github.com/nvr-ai/go-seg/logging"
)

func benchAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New("bench", cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := newStack(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := st.loader.Load(ctx, cfg.Model.URI)
	report := progressPrinter(c)
	for p := range task.Progress() {
		report(p)
	}
	model, err := task.Wait(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, model.Close()) }()

	st.profiler.Start()
	defer st.profiler.Stop()

	suite, err := benchmark.NewSuite(benchmark.SuiteOptions{
		Model:     model,
		Pool:      st.pool,
		Pipeline:  st.pipeline,
		Decoder:   st.decoder,
		Renderer:  st.renderer,
		OutputDir: c.String(flagOutput),
		Profiler:  st.profiler,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	scenarios := benchmark.QuickScenarios(c.Int(flagIterations))
	if c.Bool(flagFormats) {
		scenarios = benchmark.FormatScenarios(benchmark.CommonResolutions[1], c.Int(flagIterations))
	}
	for _, s := range scenarios {
		suite.AddScenario(s)
	}

	if err := suite.RunAllScenarios(ctx); err != nil {
		return err
	}
	if err := benchmark.WriteSummary(c.App.Writer, suite.Results()); err != nil {
		return err
	}

	if c.String(flagOutput) != "" {
		if _, err := suite.SaveResults(); err != nil {
			return err
		}
	}
	return nil
}
