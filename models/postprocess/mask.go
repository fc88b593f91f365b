package postprocess

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
)

// prototypes holds the mask prototype output as a (channels, height*width) matrix.
type prototypes struct {
	matrix   []float32
	channels int
	height   int
	width    int
}

// parsePrototypes reads a [1, c, h, w] (channelAxis 1) or [1, h, w, c]
// (channelAxis 3) prototype output.
func parsePrototypes(t *inference.Tensor, channelAxis int) (*prototypes, error) {
	if inference.ShapeSize(t.Shape) == 0 || len(t.Data) < inference.ShapeSize(t.Shape) {
		return nil, errors.Errorf("mask prototypes %v hold %d values", t.Shape, len(t.Data))
	}

	if channelAxis == 1 {
		return &prototypes{
			matrix:   t.Data,
			channels: int(t.Shape[1]),
			height:   int(t.Shape[2]),
			width:    int(t.Shape[3]),
		}, nil
	}

	h, w, c := int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	matrix := make([]float32, c*h*w)
	for p := 0; p < h*w; p++ {
		for k := 0; k < c; k++ {
			matrix[k*h*w+p] = t.Data[p*c+k]
		}
	}

	return &prototypes{matrix: matrix, channels: c, height: h, width: w}, nil
}

// combine multiplies the mask coefficients of every kept candidate with the
// prototypes, yielding one logit map per candidate.
func (p *prototypes) combine(kept []Candidate) ([][]float32, error) {
	k, c, n := len(kept), p.channels, p.height*p.width

	coeffs := make([]float32, 0, k*c)
	for _, cand := range kept {
		if len(cand.Coeffs) != c {
			return nil, errors.Errorf("candidate has %d mask coefficients, prototypes have %d", len(cand.Coeffs), c)
		}
		coeffs = append(coeffs, cand.Coeffs...)
	}

	a := tensor.New(tensor.WithShape(k, c), tensor.WithBacking(coeffs))
	b := tensor.New(tensor.WithShape(c, n), tensor.WithBacking(p.matrix))
	product, err := tensor.MatMul(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to combine mask prototypes")
	}

	data, ok := product.Data().([]float32)
	if !ok || len(data) != k*n {
		return nil, errors.Errorf("unexpected mask product %T", product.Data())
	}

	logits := make([][]float32, k)
	for i := range logits {
		logits[i] = data[i*n : (i+1)*n]
	}
	return logits, nil
}

// mask rasterizes one logit map onto the frame pixels covered by box.
//
// Every frame pixel center is mapped through the letterbox into prototype space
// and sampled bilinearly, so the mask is cropped to the box and sized to the
// original frame in a single pass.
func (p *prototypes) mask(
	logits []float32,
	box images.Box,
	letterbox images.LetterboxParams,
	frameW, frameH int,
	threshold float32,
) *image.Alpha {
	bounds := box.Bounds().Intersect(image.Rect(0, 0, frameW, frameH))
	out := image.NewAlpha(bounds)
	if bounds.Empty() {
		return out
	}

	sx := float32(p.width) / float32(letterbox.TargetWidth)
	sy := float32(p.height) / float32(letterbox.TargetHeight)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			mx, my := letterbox.ToModel(float32(x)+0.5, float32(y)+0.5)
			v := p.sample(logits, mx*sx-0.5, my*sy-0.5)
			if sigmoid(v) > threshold {
				out.Pix[(y-bounds.Min.Y)*out.Stride+(x-bounds.Min.X)] = 0xff
			}
		}
	}

	return out
}

// sample bilinearly interpolates a prototype-sized map, clamping at the edges.
func (p *prototypes) sample(m []float32, u, v float32) float32 {
	u = math32.Min(math32.Max(u, 0), float32(p.width-1))
	v = math32.Min(math32.Max(v, 0), float32(p.height-1))

	x0, y0 := int(u), int(v)
	x1, y1 := min(x0+1, p.width-1), min(y0+1, p.height-1)
	fx, fy := u-float32(x0), v-float32(y0)

	top := m[y0*p.width+x0]*(1-fx) + m[y0*p.width+x1]*fx
	bottom := m[y1*p.width+x0]*(1-fx) + m[y1*p.width+x1]*fx

	return top*(1-fy) + bottom*fy
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
