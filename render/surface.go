// Package render - Draws frames and segmentation results onto a display surface.
package render

import (
	"image"
	"sync"
)

// Surface is the display target the renderer paints into. It always matches
// the size of the last rendered frame.
type Surface struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// NewSurface creates an empty surface.
func NewSurface() *Surface {
	return &Surface{img: image.NewRGBA(image.Rectangle{})}
}

// Size returns the current surface size.
func (s *Surface) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Bounds().Dx(), s.img.Bounds().Dy()
}

// Snapshot returns a copy of the surface pixels.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// paint resizes the surface to w x h and hands its pixels to fn under lock.
func (s *Surface) paint(w, h int, fn func(*image.RGBA) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img.Bounds().Dx() != w || s.img.Bounds().Dy() != h {
		s.img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return fn(s.img)
}
