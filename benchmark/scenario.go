// Package benchmark - Measures end-to-end segmentation throughput per resolution and encoding.
package benchmark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
)

// Resolution represents frame dimensions for benchmarking.
type Resolution struct {
	Width  int    `json:"width"  yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name"   yaml:"name"`
}

// CommonResolutions are the camera resolutions frames usually arrive at.
var CommonResolutions = []Resolution{
	{Width: 640, Height: 360, Name: "nHD"},
	{Width: 640, Height: 480, Name: "VGA"},
	{Width: 1280, Height: 720, Name: "HD 720p"},
	{Width: 1920, Height: 1080, Name: "Full HD 1080p"},
	{Width: 3840, Height: 2160, Name: "4K UHD"},
}

// Scenario defines a specific benchmark configuration.
type Scenario struct {
	Name        string             `json:"name"         yaml:"name"`
	Resolution  Resolution         `json:"resolution"   yaml:"resolution"`
	ImageFormat images.ImageFormat `json:"image_format" yaml:"image_format"`
	Iterations  int                `json:"iterations"   yaml:"iterations"`
	WarmupRuns  int                `json:"warmup_runs"  yaml:"warmup_runs"`
	// Render includes drawing the overlays in every iteration.
	Render bool `json:"render" yaml:"render"`
}

// Validate checks that the scenario can run.
func (s Scenario) Validate() error {
	if s.Resolution.Width <= 0 || s.Resolution.Height <= 0 {
		return errors.Errorf("scenario %s: invalid resolution %dx%d", s.Name, s.Resolution.Width, s.Resolution.Height)
	}
	if s.Iterations <= 0 {
		return errors.Errorf("scenario %s: iterations must be positive", s.Name)
	}
	if s.WarmupRuns < 0 {
		return errors.Errorf("scenario %s: warmup runs must not be negative", s.Name)
	}
	switch s.ImageFormat {
	case images.FormatJPEG, images.FormatPNG, images.FormatWebP:
		return nil
	default:
		return errors.Errorf("scenario %s: unsupported image format %q", s.Name, s.ImageFormat)
	}
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder with 100 iterations,
// 10 warm-up runs, JPEG frames and rendering enabled.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:        name,
			ImageFormat: images.FormatJPEG,
			Iterations:  100,
			WarmupRuns:  10,
			Render:      true,
		},
	}
}

// WithResolution sets the frame resolution.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithNamedResolution sets one of the preset resolutions.
func (sb *ScenarioBuilder) WithNamedResolution(res Resolution) *ScenarioBuilder {
	sb.scenario.Resolution = res
	return sb
}

// WithImageFormat sets the encoding every frame is decoded from.
func (sb *ScenarioBuilder) WithImageFormat(format images.ImageFormat) *ScenarioBuilder {
	sb.scenario.ImageFormat = format
	return sb
}

// WithIterations sets the number of measured iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of unmeasured warm-up iterations.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithRender toggles overlay rendering.
func (sb *ScenarioBuilder) WithRender(render bool) *ScenarioBuilder {
	sb.scenario.Render = render
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// QuickScenarios covers every preset resolution with JPEG frames.
//
// Arguments:
//   - iterations: The measured iterations per scenario.
//
// Returns:
//   - []Scenario: One scenario per preset resolution.
func QuickScenarios(iterations int) []Scenario {
	out := make([]Scenario, 0, len(CommonResolutions))
	for _, res := range CommonResolutions {
		out = append(out, NewScenarioBuilder(res.Name).
			WithNamedResolution(res).
			WithIterations(iterations).
			WithWarmupRuns(max(iterations/10, 1)).
			Build())
	}
	return out
}

// FormatScenarios compares encodings at a single resolution.
func FormatScenarios(res Resolution, iterations int) []Scenario {
	formats := []images.ImageFormat{images.FormatJPEG, images.FormatPNG, images.FormatWebP}
	out := make([]Scenario, 0, len(formats))
	for _, f := range formats {
		out = append(out, NewScenarioBuilder(fmt.Sprintf("%s_%s", res.Name, f)).
			WithNamedResolution(res).
			WithImageFormat(f).
			WithIterations(iterations).
			WithWarmupRuns(max(iterations/10, 1)).
			Build())
	}
	return out
}

// SyntheticFrame draws a deterministic gradient with a few solid blocks so
// encoders have both smooth and sharp content to compress.
func SyntheticFrame(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(width-1, 1)),
				G: uint8(y * 255 / max(height-1, 1)),
				B: 96,
				A: 255,
			})
		}
	}

	block := color.RGBA{R: 220, G: 40, B: 40, A: 255}
	for i := 1; i <= 3; i++ {
		r := image.Rect(width*i/5, height*i/5, width*i/5+width/8, height*i/5+height/6).Intersect(img.Bounds())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetRGBA(x, y, block)
			}
		}
	}
	return img
}

// Encode serializes img in the given format.
//
// Arguments:
//   - img: The image.
//   - format: One of jpeg, png or webp.
//
// Returns:
//   - []byte: The encoded bytes.
//   - error: An error if the format is unsupported or encoding fails.
func Encode(img image.Image, format images.ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case images.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case images.FormatPNG:
		err = png.Encode(&buf, img)
	case images.FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: 90})
	default:
		return nil, errors.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", format)
	}
	return buf.Bytes(), nil
}
