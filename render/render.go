package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/nvr-ai/go-seg/models/postprocess"
)

// Options controls how detections are drawn.
type Options struct {
	// MaskOpacity is the alpha applied to mask overlays, in [0, 1].
	MaskOpacity float64 `yaml:"mask_opacity"`
	// LineWidth is the box outline width in pixels.
	LineWidth float64 `yaml:"line_width"`
	// FontSize is the label font size in points.
	FontSize float64 `yaml:"font_size"`
	// HideMasks disables mask overlays.
	HideMasks bool `yaml:"hide_masks"`
	// HideLabels disables labels.
	HideLabels bool `yaml:"hide_labels"`
	// PaletteSize is the number of distinct class colors.
	PaletteSize int `yaml:"palette_size"`
}

// DefaultOptions returns the standard overlay style.
func DefaultOptions() Options {
	return Options{
		MaskOpacity: 0.5,
		LineWidth:   2,
		FontSize:    14,
		PaletteSize: 80,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.MaskOpacity < 0 || o.MaskOpacity > 1 {
		return errors.Errorf("mask opacity %v out of range [0, 1]", o.MaskOpacity)
	}
	if o.LineWidth <= 0 {
		return errors.Errorf("line width must be positive, got %v", o.LineWidth)
	}
	if o.FontSize <= 0 {
		return errors.Errorf("font size must be positive, got %v", o.FontSize)
	}
	if o.PaletteSize <= 0 {
		return errors.Errorf("palette size must be positive, got %d", o.PaletteSize)
	}
	return nil
}

// Renderer paints a frame and its detections onto a Surface.
type Renderer struct {
	opts    Options
	palette []color.RGBA

	mu   sync.Mutex
	face font.Face
}

// NewRenderer creates a renderer.
//
// Arguments:
//   - opts: The overlay style.
//
// Returns:
//   - *Renderer: The renderer.
//   - error: An error if the options are invalid or the font cannot be parsed.
func NewRenderer(opts Options) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ttf, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse label font")
	}

	return &Renderer{
		opts:    opts,
		palette: Palette(opts.PaletteSize),
		face:    truetype.NewFace(ttf, &truetype.Options{Size: opts.FontSize}),
	}, nil
}

// Palette returns n well separated colors. Hues step by the golden angle so
// neighbouring class indices never share a similar color.
//
// @example
// Palette(3) // three opaque, clearly distinct colors
func Palette(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := range out {
		hue := math.Mod(float64(i)*137.508, 360)
		r, g, b := colorful.Hcl(hue, 0.7, 0.65).Clamped().RGB255()
		out[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return out
}

// Color returns the color used for a class.
func (r *Renderer) Color(class int) color.RGBA {
	if class < 0 {
		class = -class
	}
	return r.palette[class%len(r.palette)]
}

// Label formats the caption drawn above a detection, e.g. "person 0.93".
func Label(d postprocess.Detection) string {
	name := d.Label
	if name == "" {
		name = fmt.Sprintf("class %d", d.Class)
	}
	return fmt.Sprintf("%s %.2f", name, d.Score)
}

// Render draws frame onto surface and overlays detections in order.
//
// Arguments:
//   - surface: The display target. It is resized to the frame.
//   - frame: The frame pixels.
//   - detections: Detections in frame coordinates.
//
// Returns:
//   - error: An error if the frame is empty.
func (r *Renderer) Render(surface *Surface, frame image.Image, detections []postprocess.Detection) error {
	if frame == nil || frame.Bounds().Empty() {
		return errors.New("cannot render an empty frame")
	}

	fb := frame.Bounds()
	return surface.paint(fb.Dx(), fb.Dy(), func(dst *image.RGBA) error {
		draw.Draw(dst, dst.Bounds(), frame, fb.Min, draw.Src)

		if !r.opts.HideMasks {
			for _, d := range detections {
				r.drawMask(dst, d)
			}
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		dc := gg.NewContextForRGBA(dst)
		dc.SetFontFace(r.face)
		for _, d := range detections {
			r.drawBox(dc, d)
			if !r.opts.HideLabels {
				r.drawLabel(dc, d)
			}
		}
		return nil
	})
}

func (r *Renderer) drawMask(dst *image.RGBA, d postprocess.Detection) {
	if d.Mask == nil {
		return
	}
	c := r.Color(d.Class)
	tint := &image.Uniform{C: color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(r.opts.MaskOpacity*255 + 0.5)}}
	mb := d.Mask.Bounds().Intersect(dst.Bounds())
	draw.DrawMask(dst, mb, tint, image.Point{}, d.Mask, mb.Min, draw.Over)
}

func (r *Renderer) drawBox(dc *gg.Context, d postprocess.Detection) {
	b := d.Box
	dc.SetColor(r.Color(d.Class))
	dc.SetLineWidth(r.opts.LineWidth)
	dc.DrawRectangle(float64(b.X1), float64(b.Y1), float64(b.Width()), float64(b.Height()))
	dc.Stroke()
}

// drawLabel places the caption on a filled tag above the box, or just inside
// its top edge when the box touches the top of the frame.
func (r *Renderer) drawLabel(dc *gg.Context, d postprocess.Detection) {
	const pad = 3

	text := Label(d)
	tw, th := dc.MeasureString(text)
	w := math.Ceil(tw) + 2*pad
	h := math.Ceil(th) + 2*pad

	x := math.Floor(float64(d.Box.X1))
	y := math.Floor(float64(d.Box.Y1)) - h
	if y < 0 {
		y = math.Floor(float64(d.Box.Y1))
	}

	dc.SetColor(r.Color(d.Class))
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x+pad, y+h/2, 0, 0.35)
}
