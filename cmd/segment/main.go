// Package main is the segment command: it loads a YOLO segmentation model and
// overlays its detections on images, frame directories, videos or a camera.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-seg/config"
	"github.com/nvr-ai/go-seg/controller"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/logging"
	"github.com/nvr-ai/go-seg/models"
	"github.com/nvr-ai/go-seg/onnx"
	"github.com/nvr-ai/go-seg/source"
)

const (
	// Flags.
	flagConfig     = "config"
	flagModel      = "model"
	flagImage      = "image"
	flagUpload     = "upload"
	flagCamera     = "camera"
	flagVideo      = "video"
	flagFrames     = "frames"
	flagFPS        = "fps"
	flagOutput     = "output"
	flagShowWindow = "show-window"
	flagConfidence = "confidence"
	flagIoU        = "iou"
	flagLogLevel   = "log-level"
	flagLibrary    = "onnxruntime-lib"
	flagIterations = "iterations"
	flagFormats    = "formats"
)

func main() {
	app := &cli.App{
		Name:  "segment",
		Usage: "run YOLO instance segmentation on images, videos and cameras",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    flagLibrary,
				Usage:   "path to the ONNX Runtime shared library",
				EnvVars: []string{"ONNXRUNTIME_SHARED_LIBRARY_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "segment a single source and render the results",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "model `URI`, overrides model.uri"},
					&cli.StringFlag{Name: flagImage, Usage: "segment the image at `PATH`"},
					&cli.StringFlag{Name: flagUpload, Usage: "segment the uploaded image bytes at `PATH`"},
					&cli.IntFlag{Name: flagCamera, Value: -1, Usage: "segment the camera with device `ID`"},
					&cli.StringFlag{Name: flagVideo, Usage: "segment the video file at `PATH`"},
					&cli.StringFlag{Name: flagFrames, Usage: "segment the numbered frames in `DIR`"},
					&cli.Float64Flag{Name: flagFPS, Usage: "stream rate, overrides source.fps"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write rendered frames to `PATH`"},
					&cli.BoolFlag{Name: flagShowWindow, Usage: "show rendered frames in a window"},
					&cli.Float64Flag{Name: flagConfidence, Usage: "confidence threshold, overrides postprocess.confidence_threshold"},
					&cli.Float64Flag{Name: flagIoU, Usage: "NMS IoU threshold, overrides postprocess.iou_threshold"},
				},
				Action: runAction,
			},
			{
				Name:  "bench",
				Usage: "measure segmentation throughput at common camera resolutions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "model `URI`, overrides model.uri"},
					&cli.IntFlag{Name: flagIterations, Value: 50, Usage: "measured iterations per scenario"},
					&cli.BoolFlag{Name: flagFormats, Usage: "compare JPEG, PNG and WebP at VGA instead of sweeping resolutions"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write JSON and CSV results to `DIR`"},
				},
				Action: benchAction,
			},
			{
				Name:  "inspect",
				Usage: "print the inputs and outputs a model declares",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Required: true, Usage: "local model `PATH`"},
				},
				Action: inspectAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagLibrary) {
		cfg.Provider.LibraryPath = c.String(flagLibrary)
	}
	if c.IsSet(flagModel) {
		cfg.Model.URI = c.String(flagModel)
	}
	if c.IsSet(flagFPS) {
		cfg.Source.FPS = c.Float64(flagFPS)
	}
	if c.IsSet(flagConfidence) {
		cfg.Postprocess.ConfidenceThreshold = float32(c.Float64(flagConfidence))
	}
	if c.IsSet(flagIoU) {
		cfg.Postprocess.IoUThreshold = float32(c.Float64(flagIoU))
	}

	return cfg, cfg.Validate()
}

func inspectAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	inputs, outputs, err := onnx.Describe(c.String(flagModel), cfg.Provider.LibraryPath)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "model: %s\n", c.String(flagModel))
	for _, in := range inputs {
		fmt.Fprintf(w, "  input  %-12s %v\n", in.Name, in.Dims)
	}
	for _, out := range outputs {
		fmt.Fprintf(w, "  output %-12s %v\n", out.Name, out.Dims)
	}

	if len(inputs) != 1 {
		return errors.Errorf("model has %d inputs, want exactly 1", len(inputs))
	}
	shape, err := inference.ParseInputShape(inputs[0].Dims)
	if err != nil {
		return errors.Wrap(err, "model input is not an image")
	}
	fmt.Fprintf(w, "  layout %s, canonical %v\n", shape.Layout, shape.Canonical())
	return nil
}

func runAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New("segment", cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := newStack(cfg, logger)
	if err != nil {
		return err
	}

	src, err := openSource(c, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st.profiler.Start()
	defer st.profiler.Stop()

	sink := newSinks(c.String(flagOutput), c.Bool(flagShowWindow), src, logger)
	defer func() { err = multierr.Append(err, sink.Close()) }()

	ctrl, err := controller.New(controller.Options{
		Loader:     st.loader,
		Pipeline:   st.pipeline,
		Decoder:    st.decoder,
		Renderer:   st.renderer,
		Sink:       sink,
		Logger:     logger.Named("controller"),
		Profiler:   st.profiler,
		OnProgress: progressPrinter(c),
		OnNotice: func(notice error) {
			fmt.Fprintf(c.App.ErrWriter, "error: %v\n", notice)
		},
	})
	if err != nil {
		_ = src.Close()
		return err
	}
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	if err := ctrl.Load(ctx, cfg.Model.URI); err != nil {
		_ = src.Close()
		return err
	}

	// From here on the controller owns src.
	if err := ctrl.Start(ctx, src); err != nil {
		_ = src.Close()
		return err
	}
	if err := ctrl.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Infow("done", "state", ctrl.State())
	return nil
}

// openSource builds the single source selected by the flags.
func openSource(c *cli.Context, cfg config.Config) (source.Source, error) {
	selected := 0
	for _, name := range []string{flagImage, flagUpload, flagCamera, flagVideo, flagFrames} {
		if c.IsSet(name) {
			selected++
		}
	}
	if selected != 1 {
		return nil, errors.Errorf("select exactly one of --%s, --%s, --%s, --%s or --%s",
			flagImage, flagUpload, flagCamera, flagVideo, flagFrames)
	}

	switch {
	case c.IsSet(flagImage):
		return source.OpenImage(c.String(flagImage))
	case c.IsSet(flagUpload):
		path := c.String(flagUpload)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read upload %s", path)
		}
		return source.NewUpload(filepath.Base(path), data)
	case c.IsSet(flagCamera):
		return source.OpenCamera(c.Int(flagCamera), cfg.Source.FPS)
	case c.IsSet(flagVideo):
		return source.OpenVideo(c.String(flagVideo), cfg.Source.FPS)
	default:
		return source.OpenDirectory(c.String(flagFrames), cfg.Source.FPS)
	}
}

// progressPrinter renders "Loading model... NN.NN%" on a single terminal line.
func progressPrinter(c *cli.Context) func(float64) {
	return func(p float64) {
		fmt.Fprintf(c.App.ErrWriter, "\rLoading model... %s", models.FormatProgress(p))
		if p >= 1 {
			fmt.Fprintln(c.App.ErrWriter)
		}
	}
}
