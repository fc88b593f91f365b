package images

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// LetterboxColor is the neutral gray YOLO models are trained with on padded borders.
var LetterboxColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// LetterboxParams records how a frame was placed inside the model input.
//
// A point (x, y) in the original frame lands at (x*Scale+PadX, y*Scale+PadY)
// in model space.
type LetterboxParams struct {
	// Scale is the uniform resize factor applied to the frame.
	Scale float64
	// PadX is the left padding in model pixels.
	PadX float64
	// PadY is the top padding in model pixels.
	PadY float64
	// ResizedWidth is the width of the frame after scaling.
	ResizedWidth int
	// ResizedHeight is the height of the frame after scaling.
	ResizedHeight int
	// TargetWidth is the model input width.
	TargetWidth int
	// TargetHeight is the model input height.
	TargetHeight int
}

// ComputeLetterbox derives the scale and centered padding that fit a
// srcW x srcH frame into a dstW x dstH input without distorting its aspect ratio.
//
// Arguments:
//   - srcW: The frame width.
//   - srcH: The frame height.
//   - dstW: The model input width.
//   - dstH: The model input height.
//
// Returns:
//   - LetterboxParams: The placement of the frame in model space.
//   - error: An error if any dimension is not positive.
func ComputeLetterbox(srcW, srcH, dstW, dstH int) (LetterboxParams, error) {
	if srcW <= 0 || srcH <= 0 {
		return LetterboxParams{}, errors.Errorf("invalid frame size %dx%d", srcW, srcH)
	}
	if dstW <= 0 || dstH <= 0 {
		return LetterboxParams{}, errors.Errorf("invalid target size %dx%d", dstW, dstH)
	}

	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	newW := min(max(int(math.Round(float64(srcW)*scale)), 1), dstW)
	newH := min(max(int(math.Round(float64(srcH)*scale)), 1), dstH)

	return LetterboxParams{
		Scale:         scale,
		PadX:          float64((dstW - newW) / 2),
		PadY:          float64((dstH - newH) / 2),
		ResizedWidth:  newW,
		ResizedHeight: newH,
		TargetWidth:   dstW,
		TargetHeight:  dstH,
	}, nil
}

// ToModel maps a point from frame space into model space.
func (p LetterboxParams) ToModel(x, y float32) (float32, float32) {
	return float32(float64(x)*p.Scale + p.PadX), float32(float64(y)*p.Scale + p.PadY)
}

// ToFrame maps a point from model space back into frame space.
func (p LetterboxParams) ToFrame(x, y float32) (float32, float32) {
	return float32((float64(x) - p.PadX) / p.Scale), float32((float64(y) - p.PadY) / p.Scale)
}

// BoxToFrame removes the letterbox from a model-space box and clamps it to the frame.
//
// Arguments:
//   - b: The box in model space.
//   - frameW: The original frame width.
//   - frameH: The original frame height.
//
// Returns:
//   - Box: The box in original frame pixels, always inside the frame.
func (p LetterboxParams) BoxToFrame(b Box, frameW, frameH int) Box {
	x1, y1 := p.ToFrame(b.X1, b.Y1)
	x2, y2 := p.ToFrame(b.X2, b.Y2)

	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}.Clamp(frameW, frameH)
}

// Letterbox resizes img to fit dstW x dstH while preserving its aspect ratio and
// fills the remaining border with fill.
//
// The result depends only on the inputs, so the same frame always produces the
// same pixels.
//
// Arguments:
//   - img: The source frame.
//   - dstW: The model input width.
//   - dstH: The model input height.
//   - fill: The padding color.
//
// Returns:
//   - *image.RGBA: The letterboxed image of exactly dstW x dstH pixels.
//   - LetterboxParams: The placement needed to map results back.
//   - error: An error if the dimensions are invalid.
func Letterbox(img image.Image, dstW, dstH int, fill color.Color) (*image.RGBA, LetterboxParams, error) {
	if img == nil {
		return nil, LetterboxParams{}, errors.New("nil image")
	}

	bounds := img.Bounds()
	params, err := ComputeLetterbox(bounds.Dx(), bounds.Dy(), dstW, dstH)
	if err != nil {
		return nil, LetterboxParams{}, errors.Wrap(err, "failed to compute letterbox")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)

	scaled := img
	if params.ResizedWidth != bounds.Dx() || params.ResizedHeight != bounds.Dy() {
		scaled = resize.Resize(
			uint(params.ResizedWidth),
			uint(params.ResizedHeight),
			img,
			resize.Bilinear,
		)
	}

	at := image.Pt(int(params.PadX), int(params.PadY))
	dst := image.Rectangle{Min: at, Max: at.Add(image.Pt(params.ResizedWidth, params.ResizedHeight))}
	draw.Draw(canvas, dst, scaled, scaled.Bounds().Min, draw.Src)

	return canvas, params, nil
}
