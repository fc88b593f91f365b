package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/test"
)

func writeModelFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o600))
	return p
}

func newTestLoader(t *testing.T, pool *inference.Pool, backend *test.FakeBackend, opts LoaderOptions) *Loader {
	t.Helper()
	opts.Pool = pool
	opts.Logger = zaptest.NewLogger(t).Sugar()
	if opts.CacheDir == "" {
		opts.CacheDir = t.TempDir()
	}
	opts.Open = func(path string) (inference.Backend, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return backend, nil
	}
	loader, err := NewLoader(opts)
	require.NoError(t, err)
	return loader
}

func collect(t *testing.T, task *LoadTask) []float64 {
	t.Helper()
	var values []float64
	timeout := time.After(10 * time.Second)
	for {
		select {
		case p, ok := <-task.Progress():
			if !ok {
				return values
			}
			values = append(values, p)
		case <-timeout:
			t.Fatal("progress channel was never closed")
		}
	}
}

func assertMonotonic(t *testing.T, values []float64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased at %d: %v", i, values)
	}
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestLoadLocalModel(t *testing.T) {
	pool := inference.NewPool(0)
	backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())
	path := writeModelFile(t, t.TempDir(), "yolo11n-seg.onnx", 1024)

	task := newTestLoader(t, pool, backend, LoaderOptions{}).Load(context.Background(), path)
	values := collect(t, task)

	model, err := task.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)

	require.NotEmpty(t, values)
	assertMonotonic(t, values)
	assert.Equal(t, 1.0, values[len(values)-1])

	assert.Equal(t, []int64{1, 640, 640, 3}, model.InputShape().Canonical())
	assert.Equal(t, inference.LayoutNCHW, model.InputShape().Layout)
	assert.Equal(t, [][]int64{{1, 116, 8400}, {1, 32, 160, 160}}, model.OutputShapes())
	assert.Equal(t, 80, model.Labels().Len())

	assert.Equal(t, int64(1), backend.Calls.Load(), "exactly one warm-up inference")
	assert.Equal(t, int64(0), pool.Live(), "warm-up tensors must be released")

	require.NoError(t, model.Close())
	assert.True(t, backend.Closed.Load())
	_, err = model.Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestLoadRemoteModelWithWeights(t *testing.T) {
	payload := make([]byte, 256*1024)
	var (
		mu     sync.Mutex
		served []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served = append(served, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/models/yolo11n-seg/model.onnx", "/models/yolo11n-seg/model.onnx.data":
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	pool := inference.NewPool(0)
	backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())
	cache := t.TempDir()
	loader := newTestLoader(t, pool, backend, LoaderOptions{
		BaseURL:  srv.URL + "/models/",
		Weights:  []string{"model.onnx.data"},
		CacheDir: cache,
		Client:   srv.Client(),
	})

	task := loader.Load(context.Background(), "yolo11n-seg/model.onnx")
	values := collect(t, task)

	_, err := task.Wait(context.Background())
	require.NoError(t, err)

	assertMonotonic(t, values)
	assert.Equal(t, 1.0, values[len(values)-1])
	assert.Greater(t, len(values), 2, "fetch must report intermediate progress")
	mu.Lock()
	assert.Equal(t, []string{"/models/yolo11n-seg/model.onnx", "/models/yolo11n-seg/model.onnx.data"}, served)
	mu.Unlock()
	assert.FileExists(t, filepath.Join(cache, "model.onnx"))
	assert.FileExists(t, filepath.Join(cache, "model.onnx.data"))
}

func TestLoadFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	pool := inference.NewPool(0)
	backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())
	loader := newTestLoader(t, pool, backend, LoaderOptions{Client: srv.Client()})

	task := loader.Load(context.Background(), srv.URL+"/missing.onnx")
	values := collect(t, task)

	_, err := task.Wait(context.Background())
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "fetch", loadErr.Stage)
	assert.NotContains(t, values, 1.0)
	assert.Equal(t, int64(0), backend.Calls.Load())
}

func TestLoadHandshakeFailure(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []inference.TensorInfo
		outputs []inference.TensorInfo
	}{
		{
			name:   "rank 3 input",
			inputs: []inference.TensorInfo{{Name: "images", Dims: []int64{3, 640, 640}}},
		},
		{
			name:   "single channel input",
			inputs: []inference.TensorInfo{{Name: "images", Dims: []int64{1, 1, 640, 640}}},
		},
		{
			name:    "rank 2 detections",
			outputs: []inference.TensorInfo{{Name: "output0", Dims: []int64{116, 8400}}},
		},
		{
			name: "rank 3 prototypes",
			outputs: []inference.TensorInfo{
				{Name: "output0", Dims: []int64{1, 116, 8400}},
				{Name: "output1", Dims: []int64{32, 160, 160}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := inference.NewPool(0)
			backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())
			backend.InputsOverride = tt.inputs
			backend.OutputsOverride = tt.outputs
			path := writeModelFile(t, t.TempDir(), "model.onnx", 8)

			task := newTestLoader(t, pool, backend, LoaderOptions{}).Load(context.Background(), path)
			_, err := task.Wait(context.Background())

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, "handshake", loadErr.Stage)
			assert.True(t, backend.Closed.Load())
			assert.Equal(t, int64(0), backend.Calls.Load())
		})
	}
}

func TestLoadWarmupFailure(t *testing.T) {
	pool := inference.NewPool(0)
	backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())
	backend.ExecuteErr = errors.New("unsupported operator")
	path := writeModelFile(t, t.TempDir(), "model.onnx", 8)

	task := newTestLoader(t, pool, backend, LoaderOptions{}).Load(context.Background(), path)
	_, err := task.Wait(context.Background())

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "warmup", loadErr.Stage)
	assert.Contains(t, err.Error(), "unsupported operator")
	assert.Equal(t, int64(0), pool.Live())
	assert.True(t, backend.Closed.Load())
}

func TestLoadMissingFile(t *testing.T) {
	pool := inference.NewPool(0)
	backend := test.NewFakeBackend(pool, test.DefaultSegmentationOptions())

	task := newTestLoader(t, pool, backend, LoaderOptions{}).
		Load(context.Background(), filepath.Join(t.TempDir(), "nope.onnx"))
	_, err := task.Wait(context.Background())

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "fetch", loadErr.Stage)
}

func TestNewLoaderValidation(t *testing.T) {
	_, err := NewLoader(LoaderOptions{Pool: inference.NewPool(0)})
	assert.Error(t, err)

	_, err = NewLoader(LoaderOptions{Open: func(string) (inference.Backend, error) { return nil, nil }})
	assert.Error(t, err)
}

func TestResolveURI(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{name: "absolute http", base: "https://a.example/", ref: "https://b.example/m.onnx", want: "https://b.example/m.onnx"},
		{name: "relative to origin", base: "https://a.example/models/", ref: "yolo/model.onnx", want: "https://a.example/models/yolo/model.onnx"},
		{name: "rooted path on origin", base: "https://a.example/models/", ref: "/yolo11n-seg_web_model/model.json", want: "https://a.example/yolo11n-seg_web_model/model.json"},
		{name: "no base", base: "", ref: "models/m.onnx", want: "models/m.onnx"},
		{name: "local base", base: "/srv/models", ref: "m.onnx", want: filepath.Join("/srv/models", "m.onnx")},
		{name: "file url", base: "https://a.example/", ref: "file:///tmp/m.onnx", want: "file:///tmp/m.onnx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURI(tt.base, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveURI("https://a.example/", "")
	assert.Error(t, err)
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "0.00%", FormatProgress(0))
	assert.Equal(t, "42.50%", FormatProgress(0.425))
	assert.Equal(t, "100.00%", FormatProgress(1))
}

func TestProgressQuantization(t *testing.T) {
	task := newLoadTask()
	for i := 0; i <= 10000; i++ {
		task.report(float64(i) / 10000)
	}
	task.report(0.5)
	task.finish(nil, nil)

	var values []float64
	for v := range task.Progress() {
		values = append(values, v)
	}
	assert.Len(t, values, 101)
	assertMonotonic(t, values)
	assert.Equal(t, 1.0, values[len(values)-1])
}
