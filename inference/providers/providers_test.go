package providers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for _, backend := range []ProviderBackend{CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend} {
		cfg := DefaultConfig()
		cfg.Backend = backend
		assert.NoError(t, cfg.Validate(), backend)
	}

	cfg := DefaultConfig()
	cfg.Backend = "tpu"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IntraOpNumThreads = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.GraphOptimization = "aggressive"
	assert.Error(t, cfg.Validate())
}

func TestGraphOptimizationLevel(t *testing.T) {
	cases := map[GraphOptimization]ort.GraphOptimizationLevel{
		GraphOptimizationDisabled: ort.GraphOptimizationLevelDisableAll,
		GraphOptimizationBasic:    ort.GraphOptimizationLevelEnableBasic,
		GraphOptimizationExtended: ort.GraphOptimizationLevelEnableExtended,
		GraphOptimizationAll:      ort.GraphOptimizationLevelEnableAll,
		"":                        ort.GraphOptimizationLevelEnableExtended,
	}
	for name, want := range cases {
		got, err := name.level()
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestCoreMLFlags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{MLComputeUnits: "ALL"}.Flags())
	assert.Equal(t, uint32(0x001), CoreMLOptions{MLComputeUnits: "CPUOnly"}.Flags())
	assert.Equal(t, uint32(0x004), CoreMLOptions{MLComputeUnits: "CPUAndNeuralEngine"}.Flags())
	assert.Equal(t, uint32(0x018), CoreMLOptions{ModelFormat: "MLProgram", RequireStaticInputShapes: 1}.Flags())
	assert.Equal(t, uint32(0x022), CoreMLOptions{MLComputeUnits: "CPUAndGPU", EnableOnSubgraphs: 1}.Flags())
}

func TestCUDAOptionsToMap(t *testing.T) {
	m := CUDAOptions{DeviceID: 1, DoCopyInDefaultStream: true, CudnnConvAlgoSearch: 1}.ToMap()
	assert.Equal(t, "1", m["device_id"])
	assert.Equal(t, "1", m["do_copy_in_default_stream"])
	assert.Equal(t, "HEURISTIC", m["cudnn_conv_algo_search"])
	assert.Equal(t, "kNextPowerOfTwo", m["arena_extend_strategy"])
	assert.NotContains(t, m, "gpu_mem_limit")
	assert.NotContains(t, m, "user_compute_stream")

	m = CUDAOptions{GPUMemLimit: 1 << 30, ArenaExtendStrategy: 7}.ToMap()
	assert.Equal(t, "1073741824", m["gpu_mem_limit"])
	assert.NotContains(t, m, "arena_extend_strategy")
}

func TestOpenVINOOptionsToMap(t *testing.T) {
	m := OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 4}.ToMap()
	assert.Equal(t, map[string]string{
		"device_type":            "GPU",
		"precision":              "FP16",
		"disable_dynamic_shapes": "false",
		"num_of_threads":         "4",
	}, m)
}

func TestGetSharedLibPath(t *testing.T) {
	assert.NotEmpty(t, GetSharedLibPath())

	t.Setenv(LibraryPathEnv, "/opt/onnxruntime/lib/libonnxruntime.so")
	assert.Equal(t, "/opt/onnxruntime/lib/libonnxruntime.so", GetSharedLibPath())
}

func TestInitializeMissingLibrary(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("runtime already initialized")
	}
	err := Initialize(filepath.Join(t.TempDir(), "libonnxruntime.so"))
	assert.Error(t, err)
}
