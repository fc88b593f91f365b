// Package providers - OpenVINO execution provider.
package providers

import "strconv"

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	DeviceID string `json:"deviceID"             yaml:"deviceID"`
	// Overrides the accelerator hardware type with these values at runtime. If this option is not
	// explicitly set, default hardware specified during build is used.
	DeviceType string `json:"deviceType"           yaml:"deviceType"`
	// Supported precisions for HW {CPU:FP32, GPU:[FP32, FP16, ACCURACY], NPU:FP16}. Default precision
	// for HW for optimized performance {CPU:FP32, GPU:FP16, NPU:FP16}. To execute model with the
	// default input precision, select ACCURACY precision type.
	Precision string `json:"precision"            yaml:"precision"`
	// Overrides the accelerator default value of number of threads with this value at runtime.
	// If this option is not explicitly set, default value of 8 during build time will be used for
	// inference.
	NumOfThreads int `json:"numOfThreads"         yaml:"numOfThreads"`
	// Overrides the accelerator default streams with this value at runtime. If this option is not
	// explicitly set, default value of 1, performance for latency is used during build time will be
	// used for inference.
	NumStreams int `json:"numStreams"           yaml:"numStreams"`
	// This option enables rewriting dynamic shaped models to static shape at runtime and execute.
	DisableDynamicShapes bool `json:"disableDynamicShapes" yaml:"disableDynamicShapes"`
	// This option configures which models should be allocated to the best resource.
	ModelPriority int `json:"modelPriority"        yaml:"modelPriority"`
}

// ToMap returns the provider option keys understood by ONNX Runtime. Unset
// fields are omitted so the runtime defaults apply.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
func (o OpenVINOOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_type":            o.DeviceType,
		"device_id":              o.DeviceID,
		"precision":              o.Precision,
		"disable_dynamic_shapes": strconv.FormatBool(o.DisableDynamicShapes),
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.ModelPriority > 0 {
		m["model_priority"] = strconv.Itoa(o.ModelPriority)
	}
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
