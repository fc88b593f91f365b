package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/models"
	"github.com/nvr-ai/go-seg/test"
)

// modelEnv points at a YOLO11-seg export for tests that need a real runtime.
const modelEnv = "SEG_TEST_MODEL"

func requireRuntime(t *testing.T) string {
	t.Helper()
	model := os.Getenv(modelEnv)
	if model == "" {
		t.Skipf("%s not set", modelEnv)
	}
	if err := providers.Initialize(""); err != nil {
		t.Skipf("ONNX Runtime unavailable: %v", err)
	}
	return model
}

func TestOpenRequiresPool(t *testing.T) {
	_, err := Open("model.onnx", nil, providers.DefaultConfig())
	assert.Error(t, err)
}

func TestOpenMissingModel(t *testing.T) {
	requireRuntime(t)
	_, err := Open(filepath.Join(t.TempDir(), "missing.onnx"), inference.NewPool(0), providers.DefaultConfig())
	assert.Error(t, err)
}

func TestLoadAndInfer(t *testing.T) {
	model := requireRuntime(t)

	cfg := providers.DefaultConfig()
	cfg.Backend = providers.CPUProviderBackend
	pool := inference.NewPool(0)

	loader, err := models.NewLoader(models.LoaderOptions{
		Pool:     pool,
		Open:     Factory(pool, cfg),
		CacheDir: t.TempDir(),
		Logger:   zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)

	task := loader.Load(context.Background(), model)
	m, err := task.Wait(context.Background())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []int64{1, 640, 640, 3}, m.InputShape().Canonical())
	require.Len(t, m.OutputShapes(), 2)
	assert.Equal(t, []int64{1, 116, 8400}, m.OutputShapes()[0])

	pipeline := inference.NewPipeline(inference.DefaultPreprocessConfig(), pool, zaptest.NewLogger(t).Sugar())
	frame := test.NewMockFrameGenerator(640, 480).GenerateStaticFrame()
	raw, err := pipeline.Infer(context.Background(), m, frame)
	require.NoError(t, err)
	raw.Release()

	assert.Equal(t, int64(0), pool.Live())
}
