package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/models/postprocess"
)

func blackFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func fullMask(r image.Rectangle) *image.Alpha {
	m := image.NewAlpha(r)
	for i := range m.Pix {
		m.Pix[i] = 0xff
	}
	return m
}

func TestPalette(t *testing.T) {
	p := Palette(80)
	require.Len(t, p, 80)
	for _, c := range p {
		assert.Equal(t, uint8(0xff), c.A)
	}
	assert.NotEqual(t, p[0], p[1])
	assert.Equal(t, p, Palette(80))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "person 0.93", Label(postprocess.Detection{Label: "person", Score: 0.934}))
	assert.Equal(t, "class 7 0.50", Label(postprocess.Detection{Class: 7, Score: 0.5}))
}

func TestNewRendererValidation(t *testing.T) {
	_, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)

	bad := DefaultOptions()
	bad.MaskOpacity = 2
	_, err = NewRenderer(bad)
	assert.Error(t, err)

	bad = DefaultOptions()
	bad.PaletteSize = 0
	_, err = NewRenderer(bad)
	assert.Error(t, err)
}

func TestRenderWithoutDetections(t *testing.T) {
	r, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)
	surface := NewSurface()

	frame := image.NewRGBA(image.Rect(0, 0, 30, 20))
	frame.Set(5, 5, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	require.NoError(t, r.Render(surface, frame, nil))
	w, h := surface.Size()
	assert.Equal(t, 30, w)
	assert.Equal(t, 20, h)
	assert.Equal(t, frame.Pix, surface.Snapshot().Pix)
}

func TestRenderResizesSurface(t *testing.T) {
	r, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)
	surface := NewSurface()

	require.NoError(t, r.Render(surface, blackFrame(100, 80), nil))
	require.NoError(t, r.Render(surface, blackFrame(40, 60), nil))
	w, h := surface.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 60, h)

	// Frames with a non-zero origin are drawn from their own origin.
	sub := blackFrame(100, 80).SubImage(image.Rect(10, 10, 50, 30))
	require.NoError(t, r.Render(surface, sub, nil))
	w, h = surface.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)

	assert.Error(t, r.Render(surface, image.NewRGBA(image.Rectangle{}), nil))
}

func TestRenderOverlays(t *testing.T) {
	r, err := NewRenderer(DefaultOptions())
	require.NoError(t, err)
	surface := NewSurface()

	box := images.Box{X1: 20, Y1: 40, X2: 80, Y2: 90}
	det := postprocess.Detection{
		Class: 3,
		Label: "motorcycle",
		Score: 0.87,
		Box:   box,
		Mask:  fullMask(box.Bounds()),
	}

	require.NoError(t, r.Render(surface, blackFrame(120, 100), []postprocess.Detection{det}))
	out := surface.Snapshot()
	c := r.Color(3)

	// Mask interior is the class color blended at half opacity.
	tinted := out.RGBAAt(50, 65)
	assert.InDelta(t, float64(c.R)/2, float64(tinted.R), 2)
	assert.InDelta(t, float64(c.G)/2, float64(tinted.G), 2)
	assert.InDelta(t, float64(c.B)/2, float64(tinted.B), 2)

	// The box outline is drawn in the class color.
	assert.Equal(t, c, out.RGBAAt(50, 40))

	// The label tag sits above the box.
	assert.Equal(t, c, out.RGBAAt(21, 37))

	// Pixels away from the detection keep the frame.
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(110, 95))
}

func TestRenderHideMasks(t *testing.T) {
	opts := DefaultOptions()
	opts.HideMasks = true
	opts.HideLabels = true
	r, err := NewRenderer(opts)
	require.NoError(t, err)
	surface := NewSurface()

	box := images.Box{X1: 20, Y1: 20, X2: 80, Y2: 80}
	det := postprocess.Detection{Class: 1, Score: 0.9, Box: box, Mask: fullMask(box.Bounds())}
	require.NoError(t, r.Render(surface, blackFrame(100, 100), []postprocess.Detection{det}))

	out := surface.Snapshot()
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(50, 50))
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(21, 17))
}
