// Package providers - Execution provider and session option configuration for ONNX Runtime.
package providers

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// GraphOptimization names an ONNX Runtime graph optimization level.
type GraphOptimization string

const (
	// GraphOptimizationDisabled disables all graph rewrites.
	GraphOptimizationDisabled GraphOptimization = "disabled"
	// GraphOptimizationBasic enables redundant node elimination and constant folding.
	GraphOptimizationBasic GraphOptimization = "basic"
	// GraphOptimizationExtended adds node fusions.
	GraphOptimizationExtended GraphOptimization = "extended"
	// GraphOptimizationAll adds layout optimizations.
	GraphOptimizationAll GraphOptimization = "all"
)

func (g GraphOptimization) level() (ort.GraphOptimizationLevel, error) {
	switch g {
	case GraphOptimizationDisabled:
		return ort.GraphOptimizationLevelDisableAll, nil
	case GraphOptimizationBasic:
		return ort.GraphOptimizationLevelEnableBasic, nil
	case GraphOptimizationExtended, "":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case GraphOptimizationAll:
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, errors.Errorf("unknown graph optimization level %q", g)
	}
}

// Config selects the execution provider and session tuning for a model.
type Config struct {
	// Backend specifies the backend to use
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// LibraryPath overrides the ONNX Runtime shared library location.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath"`

	// IntraOpNumThreads sets threads for parallelizing ops. 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intraOpNumThreads" yaml:"intraOpNumThreads"`

	// InterOpNumThreads sets threads for parallelizing independent ops. 0 lets the runtime decide.
	InterOpNumThreads int `json:"interOpNumThreads" yaml:"interOpNumThreads"`

	// GraphOptimization controls the level of graph optimization.
	GraphOptimization GraphOptimization `json:"graphOptimization" yaml:"graphOptimization"`

	// CUDA holds options used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`

	// CoreML holds options used when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`

	// OpenVINO holds options used when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration, switching to CoreML on Apple silicon.
//
// Returns:
//   - Config: The configuration.
func DefaultConfig() Config {
	backend := CPUProviderBackend
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		backend = CoreMLProviderBackend
	}

	return Config{
		Backend:           backend,
		GraphOptimization: GraphOptimizationExtended,
		CUDA:              CUDAOptions{DoCopyInDefaultStream: true},
		CoreML:            CoreMLOptions{MLComputeUnits: "ALL"},
		OpenVINO:          OpenVINOOptions{DeviceType: "CPU", Precision: "FP32"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
	default:
		return fmt.Errorf("unsupported execution provider %q", c.Backend)
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	if _, err := c.GraphOptimization.level(); err != nil {
		return err
	}
	return nil
}
