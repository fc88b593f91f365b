// Package providers - CoreML execution provider.
package providers

import "strings"

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Create an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or macOS 12+).
	// NeuralNetwork: Create a NeuralNetwork format model. Requires Core ML 3 or later (iOS 13+ or
	// macOS 10.15+).
	// Default: NeuralNetwork
	ModelFormat string `json:"modelFormat"                        yaml:"modelFormat"`
	// Limit CoreML to running on CPU only.
	// CPUAndNeuralEngine: Enable CoreML EP for Apple devices with a compatible Apple Neural Engine
	// (ANE).
	// CPUAndGPU: Enable CoreML EP for Apple devices with a compatible GPU.
	// ALL: Enable CoreML EP for all compatible Apple devices.
	// Default: ALL
	MLComputeUnits string `json:"mlComputeUnits"                     yaml:"mlComputeUnits"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes. By default the
	// CoreML EP will also allow inputs with dynamic shapes, however performance may be negatively
	// impacted by inputs
	// with dynamic shapes.
	// 0: Allow the CoreML EP to take nodes with inputs that have dynamic shapes.
	// 1: Only allow the CoreML EP to take nodes with inputs that have static shapes.
	// Default: 0
	RequireStaticInputShapes int `json:"requireStaticInputShapes"           yaml:"requireStaticInputShapes"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator (i.e. a Loop, Scan
	// or If operator).
	// 0: Disable CoreML EP to run on a subgraph in the body of a control flow operator.
	// 1: Enable CoreML EP to run on a subgraph in the body of a control flow operator.
	// Default: 0
	EnableOnSubgraphs int `json:"enableOnSubgraphs"                  yaml:"enableOnSubgraphs"`
}

// CoreML provider flags from coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly                 uint32 = 0x001
	coreMLFlagEnableOnSubgraph           uint32 = 0x002
	coreMLFlagOnlyEnableDeviceWithANE    uint32 = 0x004
	coreMLFlagOnlyAllowStaticInputShapes uint32 = 0x008
	coreMLFlagCreateMLProgram            uint32 = 0x010
	coreMLFlagUseCPUAndGPU               uint32 = 0x020
)

// Flags folds the options into the legacy CoreML provider bit flags.
//
// @example
// CoreMLOptions{ModelFormat: "MLProgram", RequireStaticInputShapes: 1}.Flags() // 0x018
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	switch strings.ToLower(o.MLComputeUnits) {
	case "cpuonly":
		flags |= coreMLFlagUseCPUOnly
	case "cpuandneuralengine":
		flags |= coreMLFlagOnlyEnableDeviceWithANE
	case "cpuandgpu":
		flags |= coreMLFlagUseCPUAndGPU
	}
	if strings.EqualFold(o.ModelFormat, "MLProgram") {
		flags |= coreMLFlagCreateMLProgram
	}
	if o.RequireStaticInputShapes != 0 {
		flags |= coreMLFlagOnlyAllowStaticInputShapes
	}
	if o.EnableOnSubgraphs != 0 {
		flags |= coreMLFlagEnableOnSubgraph
	}
	return flags
}
