// Package providers - CUDA execution provider.
package providers

import (
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"                      yaml:"deviceID"`
	// Defines the compute stream for the inference to run on. It implicitly sets the
	// has_user_compute_stream option. This cannot be used in combination with an external allocator.
	UserComputeStream string `json:"userComputeStream"             yaml:"userComputeStream"`
	// Whether to do copies in the default stream or use separate streams. The recommended setting is
	// true. If false, there are race conditions and possibly better performance.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream"         yaml:"doCopyInDefaultStream"`
	// Uses the same CUDA stream for all threads of the CUDA EP. This is implicitly enabled by
	// has_user_compute_stream, enable_cuda_graph or when using an external allocator.
	UseEPLevelUnifiedStream bool `json:"useEPLevelUnifiedStream"       yaml:"useEPLevelUnifiedStream"`
	// The size limit of the device memory arena in bytes. This size limit is only for the execution
	// provider's arena. The total device memory usage may be higher.
	GPUMemLimit int64 `json:"gpuMemLimit"                   yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo - subsequent extensions extend by larger amounts (multiplied by powers of
	// two)
	// 1: kSameAsRequested - extend by the requested amount
	ArenaExtendStrategy int `json:"arenaExtendStrategy"           yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE - expensive exhaustive benchmarking using cudnnFindConvolutionForwardAlgorithmEx
	// 1: HEURISTIC - lightweight heuristic based search using cudnnGetConvolutionForwardAlgorithm_v7
	// 2: DEFAULT - default algorithm using CUDNN_CONVOLUTION_FWD_ALGO_IMPLICIT_PRECOMP_GEMM
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch"           yaml:"cudnnConvAlgoSearch"`
	// Check tuning performance for convolution heavy models for details on what this flag does.
	CudnnConvUseMaxWorkspace int `json:"cudnnConvUseMaxWorkspace"      yaml:"cudnnConvUseMaxWorkspace"`
	// Check convolution input padding in the CUDA EP for details on what this flag does.
	CudnnConv1dPadToNC1d int `json:"cudnnConv1dPadToNC1d"          yaml:"cudnnConv1dPadToNC1d"`
	// Check using CUDA Graphs in the CUDA EP for details on what this flag does.
	EnableCudaGraph int `json:"enableCudaGraph"               yaml:"enableCudaGraph"`
	// Whether to use strict mode in SkipLayerNormalization cuda implementation. The default and
	// recommended setting is false.
	// If enabled, accuracy improvement and performance drop can be expected.
	EnableSkipLayerNormStrictMode int `json:"enableSkipLayerNormStrictMode" yaml:"enableSkipLayerNormStrictMode"`
	// TF32 is a math mode available on NVIDIA GPUs since Ampere. It allows certain float32 matrix
	// multiplications
	// and convolutions to run much faster on tensor cores with TensorFloat-32 reduced precision.
	UseTF32 int `json:"useTF32"                       yaml:"useTF32"`
	// If this option is enabled, the execution provider prefers NHWC operators over NCHW.
	// Necessary layout transformations will be applied to the model automatically.
	PreferNHWC int `json:"preferNHWC"                    yaml:"preferNHWC"`
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// The caller must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}

	if err := opts.Update(o.ToMap()); err != nil {
		opts.Destroy()
		return nil, err
	}

	return opts, nil
}

// ToMap returns the provider option keys understood by ONNX Runtime.
func (o CUDAOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id":                          strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream":          boolFlag(o.DoCopyInDefaultStream),
		"use_ep_level_unified_stream":        boolFlag(o.UseEPLevelUnifiedStream),
		"arena_extend_strategy":              arenaStrategies[o.ArenaExtendStrategy],
		"cudnn_conv_algo_search":             convAlgoSearches[o.CudnnConvAlgoSearch],
		"cudnn_conv_use_max_workspace":       strconv.Itoa(o.CudnnConvUseMaxWorkspace),
		"cudnn_conv1d_pad_to_nc1d":           strconv.Itoa(o.CudnnConv1dPadToNC1d),
		"enable_cuda_graph":                  strconv.Itoa(o.EnableCudaGraph),
		"enable_skip_layer_norm_strict_mode": strconv.Itoa(o.EnableSkipLayerNormStrictMode),
		"use_tf32":                           strconv.Itoa(o.UseTF32),
		"prefer_nhwc":                        strconv.Itoa(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.UserComputeStream != "" {
		m["user_compute_stream"] = o.UserComputeStream
	}
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

var arenaStrategies = map[int]string{0: "kNextPowerOfTwo", 1: "kSameAsRequested"}

var convAlgoSearches = map[int]string{0: "EXHAUSTIVE", 1: "HEURISTIC", 2: "DEFAULT"}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
