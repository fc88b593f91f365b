// Package source - Frame sources: still images, uploads, image sequences and live capture.
package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// Kind tags where a frame came from.
type Kind string

const (
	// KindImage is a still image loaded from disk.
	KindImage Kind = "image"
	// KindUpload is an image provided as encoded bytes.
	KindUpload Kind = "upload"
	// KindVideo is a camera or video file stream.
	KindVideo Kind = "video"
	// KindSequence is an ordered set of still frames played as a stream.
	KindSequence Kind = "sequence"
)

// Streaming reports whether frames of this kind keep arriving over time.
func (k Kind) Streaming() bool {
	return k == KindVideo || k == KindSequence
}

// Frame is one normalized frame ready for inference.
type Frame struct {
	// Seq numbers frames of one source from zero.
	Seq uint64
	// Source is the id of the source that produced the frame.
	Source string
	// Kind tags the source type.
	Kind Kind
	// Image holds the pixels.
	Image image.Image
	// Width is the frame width in pixels.
	Width int
	// Height is the frame height in pixels.
	Height int
	// Channels is 1 for grayscale frames and 3 otherwise.
	Channels int
	// Timestamp is when the frame was captured or loaded.
	Timestamp time.Time
}

// NewFrame wraps img as a frame.
//
// Arguments:
//   - kind: The source kind.
//   - id: The source id.
//   - seq: The frame sequence number.
//   - img: The pixels.
//   - ts: The capture time.
//
// Returns:
//   - *Frame: The frame.
//   - error: An error if img is nil or empty.
func NewFrame(kind Kind, id string, seq uint64, img image.Image, ts time.Time) (*Frame, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Errorf("empty image %v", b)
	}

	channels := 3
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	}

	return &Frame{
		Seq:       seq,
		Source:    id,
		Kind:      kind,
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Channels:  channels,
		Timestamp: ts,
	}, nil
}

// Source produces frames.
//
// Next returns io.EOF once a source is exhausted. Any other failure is an *Error.
type Source interface {
	// ID identifies the source in logs and notices.
	ID() string
	// Kind returns the source kind.
	Kind() Kind
	// FPS returns the nominal frame rate, or 0 for still sources.
	FPS() float64
	// Next returns the next frame.
	Next(ctx context.Context) (*Frame, error)
	// Close releases the source.
	Close() error
}

// Error reports a source that could not be read or decoded. It is surfaced to
// the user as a notice and does not affect the loaded model.
type Error struct {
	// Source is the source id.
	Source string
	// Op is the failed operation.
	Op string
	// Err is the underlying cause.
	Err error
}

// NewError wraps err as a source failure.
func NewError(source, op string, err error) *Error {
	return &Error{Source: source, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
