package inference

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
)

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne NormalizationType = iota
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
)

// ColorMode defines the channel order of the packed pixels.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV trained models).
	ColorModeBGR
)

var normalizationNames = map[NormalizationType]string{
	NormalizeZeroToOne:     "zero_to_one",
	NormalizeNone:          "none",
	NormalizeMinusOneToOne: "minus_one_to_one",
}

func (n NormalizationType) String() string {
	if name, ok := normalizationNames[n]; ok {
		return name
	}
	return fmt.Sprintf("normalization(%d)", int(n))
}

// MarshalText implements encoding.TextMarshaler.
func (n NormalizationType) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NormalizationType) UnmarshalText(text []byte) error {
	for k, v := range normalizationNames {
		if v == string(text) {
			*n = k
			return nil
		}
	}
	return errors.Errorf("unknown normalization %q", text)
}

func (c ColorMode) String() string {
	if c == ColorModeBGR {
		return "bgr"
	}
	return "rgb"
}

// MarshalText implements encoding.TextMarshaler.
func (c ColorMode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ColorMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rgb":
		*c = ColorModeRGB
	case "bgr":
		*c = ColorModeBGR
	default:
		return errors.Errorf("unknown color mode %q", text)
	}
	return nil
}

// PreprocessConfig defines how frames are turned into model input.
type PreprocessConfig struct {
	// Normalization defines how pixel values are scaled.
	Normalization NormalizationType `json:"normalization" yaml:"normalization"`
	// ColorMode defines the channel order.
	ColorMode ColorMode `json:"color_mode" yaml:"color_mode"`
	// LetterboxColor is the padding color.
	LetterboxColor color.RGBA `json:"-" yaml:"-"`
}

// DefaultPreprocessConfig returns the YOLO convention: RGB, [0, 1], gray padding.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		Normalization:  NormalizeZeroToOne,
		ColorMode:      ColorModeRGB,
		LetterboxColor: images.LetterboxColor,
	}
}

// Preprocessor letterboxes frames and packs them into pooled tensors.
type Preprocessor struct {
	config PreprocessConfig
	pool   *Pool
}

// NewPreprocessor creates a new preprocessor.
//
// Arguments:
//   - config: The preprocessing configuration.
//   - pool: The pool input tensors are borrowed from.
//
// Returns:
//   - *Preprocessor: The preprocessor.
func NewPreprocessor(config PreprocessConfig, pool *Pool) *Preprocessor {
	if config.LetterboxColor == (color.RGBA{}) {
		config.LetterboxColor = images.LetterboxColor
	}
	return &Preprocessor{config: config, pool: pool}
}

// Preprocess letterboxes img to the model input size, scales the pixels and
// packs them in the model's layout.
//
// Arguments:
//   - img: The frame.
//   - shape: The model input shape.
//
// Returns:
//   - *Tensor: A pooled input tensor. The caller must Release it.
//   - images.LetterboxParams: The placement needed to map results back.
//   - error: An error if the frame cannot be letterboxed or no buffer is available.
//
// @example
//
//	input, params, err := pre.Preprocess(frame.Image, model.InputShape())
//	if err != nil {
//	    return err
//	}
//	defer input.Release()
func (p *Preprocessor) Preprocess(img image.Image, shape InputShape) (*Tensor, images.LetterboxParams, error) {
	boxed, params, err := images.Letterbox(img, shape.Width, shape.Height, p.config.LetterboxColor)
	if err != nil {
		return nil, images.LetterboxParams{}, errors.Wrap(err, "letterbox failed")
	}

	input, err := p.pool.Acquire(shape.Dims()...)
	if err != nil {
		return nil, images.LetterboxParams{}, errors.Wrap(err, "failed to acquire input tensor")
	}

	p.pack(boxed, shape, input.Data)

	return input, params, nil
}

// pack writes the first batch entry; any further batch entries stay zero.
func (p *Preprocessor) pack(img *image.RGBA, shape InputShape, dst []float32) {
	w, h := shape.Width, shape.Height
	plane := w * h

	scale, offset := p.normalizer()
	order := [3]int{0, 1, 2}
	if p.config.ColorMode == ColorModeBGR {
		order = [3]int{2, 1, 0}
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := float32(px[order[c]])*scale + offset
				if shape.Layout == LayoutNCHW {
					dst[c*plane+y*w+x] = v
				} else {
					dst[(y*w+x)*3+c] = v
				}
			}
		}
	}
}

func (p *Preprocessor) normalizer() (scale, offset float32) {
	switch p.config.Normalization {
	case NormalizeNone:
		return 1, 0
	case NormalizeMinusOneToOne:
		return 2.0 / 255.0, -1
	default:
		return 1.0 / 255.0, 0
	}
}
