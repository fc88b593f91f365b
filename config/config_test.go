package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, float32(0.25), cfg.Postprocess.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), cfg.Postprocess.IoUThreshold)
	assert.Equal(t, float32(0.5), cfg.Postprocess.MaskThreshold)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
model:
  uri: models/yolo11s-seg.onnx
  base_url: https://example.com/assets/
  weights: [yolo11s-seg.onnx.data]
provider:
  backend: cuda
  intraOpNumThreads: 4
  cuda:
    deviceID: 1
preprocess:
  normalization: minus_one_to_one
  color_mode: bgr
postprocess:
  confidence_threshold: 0.4
  relevant_classes: [person, car]
render:
  mask_opacity: 0.3
profiler:
  enabled: true
  report_interval: 30s
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "models/yolo11s-seg.onnx", cfg.Model.URI)
	assert.Equal(t, []string{"yolo11s-seg.onnx.data"}, cfg.Model.Weights)
	assert.Equal(t, uint64(1), cfg.Model.WarmupSeed, "unset fields keep defaults")
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Provider.Backend)
	assert.Equal(t, 4, cfg.Provider.IntraOpNumThreads)
	assert.Equal(t, 1, cfg.Provider.CUDA.DeviceID)
	assert.Equal(t, inference.NormalizeMinusOneToOne, cfg.Preprocess.Normalization)
	assert.Equal(t, inference.ColorModeBGR, cfg.Preprocess.ColorMode)
	assert.Equal(t, float32(0.4), cfg.Postprocess.ConfidenceThreshold)
	assert.Equal(t, float32(0.45), cfg.Postprocess.IoUThreshold)
	assert.Equal(t, []string{"person", "car"}, cfg.Postprocess.RelevantClasses)
	assert.Equal(t, 0.3, cfg.Render.MaskOpacity)
	assert.Equal(t, 2.0, cfg.Render.LineWidth)
	assert.True(t, cfg.Profiler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Profiler.ReportInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("model: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("preprocess:\n  normalization: sideways\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
model:
  uri: ""
postprocess:
  iou_threshold: 2
log:
  level: loud
`))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  fps: 12\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12.0, cfg.Source.FPS)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
