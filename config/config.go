// Package config - Application configuration loaded from YAML.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/models/postprocess"
	"github.com/nvr-ai/go-seg/render"
)

// Config is the complete application configuration.
type Config struct {
	// Model selects and fetches the model.
	Model ModelConfig `yaml:"model"`
	// Provider selects the execution provider.
	Provider providers.Config `yaml:"provider"`
	// Preprocess controls frame normalization.
	Preprocess inference.PreprocessConfig `yaml:"preprocess"`
	// Postprocess controls decoding thresholds.
	Postprocess postprocess.Config `yaml:"postprocess"`
	// Render controls the overlay style.
	Render render.Options `yaml:"render"`
	// Source controls frame sources.
	Source SourceConfig `yaml:"source"`
	// Profiler controls runtime reporting.
	Profiler ProfilerConfig `yaml:"profiler"`
	// Log controls logging.
	Log LogConfig `yaml:"log"`
}

// ModelConfig locates the model artifacts.
type ModelConfig struct {
	// URI is the model description, absolute or relative to BaseURL.
	URI string `yaml:"uri"`
	// BaseURL is the origin relative URIs resolve against.
	BaseURL string `yaml:"base_url"`
	// Weights are external weight shards fetched beside the model.
	Weights []string `yaml:"weights"`
	// CacheDir receives downloaded artifacts.
	CacheDir string `yaml:"cache_dir"`
	// Labels is an optional class names file. Empty uses the COCO classes.
	Labels string `yaml:"labels"`
	// WarmupSeed seeds the warm-up input.
	WarmupSeed uint64 `yaml:"warmup_seed"`
	// PoolCapacity caps live tensors. Zero means no limit.
	PoolCapacity int `yaml:"pool_capacity"`
}

// SourceConfig tunes frame sources.
type SourceConfig struct {
	// FPS overrides the stream rate. Zero uses the source's own rate.
	FPS float64 `yaml:"fps"`
}

// ProfilerConfig tunes the runtime profiler.
type ProfilerConfig struct {
	// Enabled turns periodic reports on.
	Enabled bool `yaml:"enabled"`
	// ReportInterval is the time between reports.
	ReportInterval time.Duration `yaml:"report_interval"`
	// SampleInterval is the time between resource samples.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// LogConfig tunes logging.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration that runs yolo11n-seg.onnx from the
// working directory on the default provider.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			URI:        "yolo11n-seg.onnx",
			CacheDir:   filepath.Join(os.TempDir(), "go-seg"),
			WarmupSeed: 1,
		},
		Provider:    providers.DefaultConfig(),
		Preprocess:  inference.DefaultPreprocessConfig(),
		Postprocess: postprocess.DefaultConfig(),
		Render:      render.DefaultOptions(),
		Profiler: ProfilerConfig{
			ReportInterval: 10 * time.Second,
			SampleInterval: time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid section at once.
func (c Config) Validate() error {
	var err error
	if c.Model.URI == "" {
		err = multierr.Append(err, errors.New("model.uri is required"))
	}
	if c.Model.PoolCapacity < 0 {
		err = multierr.Append(err, errors.New("model.pool_capacity must not be negative"))
	}
	if c.Source.FPS < 0 {
		err = multierr.Append(err, errors.New("source.fps must not be negative"))
	}
	if _, lerr := zapcore.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, errors.Wrap(lerr, "log.level"))
	}
	if perr := c.Provider.Validate(); perr != nil {
		err = multierr.Append(err, errors.Wrap(perr, "provider"))
	}
	if perr := c.Postprocess.Validate(); perr != nil {
		err = multierr.Append(err, errors.Wrap(perr, "postprocess"))
	}
	if rerr := c.Render.Validate(); rerr != nil {
		err = multierr.Append(err, errors.Wrap(rerr, "render"))
	}
	return err
}
