// Package test - Deterministic fakes shared by package tests.
package test

import (
	"image"
	"image/color"
	"image/draw"
)

// MockFrameGenerator creates deterministic test frames.
//
// @example
// gen := NewMockFrameGenerator(640, 480)
// frame := gen.GenerateObjectFrame(image.Rect(100, 100, 200, 300))
type MockFrameGenerator struct {
	width      int
	height     int
	background color.RGBA
	foreground color.RGBA
}

// NewMockFrameGenerator creates a new frame generator with specified dimensions.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - A configured MockFrameGenerator instance.
func NewMockFrameGenerator(width, height int) *MockFrameGenerator {
	return &MockFrameGenerator{
		width:      width,
		height:     height,
		background: color.RGBA{R: 128, G: 128, B: 128, A: 255},
		foreground: color.RGBA{R: 240, G: 32, B: 32, A: 255},
	}
}

// GenerateStaticFrame creates a uniform mid-gray frame.
func (g *MockFrameGenerator) GenerateStaticFrame() *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(g.background), image.Point{}, draw.Src)
	return frame
}

// GenerateObjectFrame creates a frame with a bright rectangle standing in for an object.
//
// Arguments:
// - object: The object region in frame pixels.
//
// Returns:
// - The frame.
func (g *MockFrameGenerator) GenerateObjectFrame(object image.Rectangle) *image.RGBA {
	frame := g.GenerateStaticFrame()
	draw.Draw(frame, object.Intersect(frame.Bounds()), image.NewUniform(g.foreground), image.Point{}, draw.Src)
	return frame
}

// GenerateSequence creates n frames with an object moving step pixels to the
// right on every frame.
//
// Arguments:
// - n: The number of frames.
// - object: The object region in the first frame.
// - step: Horizontal displacement per frame.
//
// Returns:
// - The frames in order.
func (g *MockFrameGenerator) GenerateSequence(n int, object image.Rectangle, step int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = g.GenerateObjectFrame(object.Add(image.Pt(i*step, 0)))
	}
	return frames
}
