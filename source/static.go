package source

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvr-ai/go-seg/images"
)

// Static yields a single decoded image once, then io.EOF.
type Static struct {
	id   string
	kind Kind
	img  image.Image

	mu   sync.Mutex
	done bool
}

// NewStatic wraps an already decoded image.
func NewStatic(id string, kind Kind, img image.Image) *Static {
	return &Static{id: id, kind: kind, img: img}
}

// OpenImage decodes the still image at path.
//
// Arguments:
//   - path: The image file.
//
// Returns:
//   - *Static: The source.
//   - error: An *Error if the file cannot be read or decoded.
func OpenImage(path string) (*Static, error) {
	id := filepath.Base(path)
	img, _, err := images.DecodeFile(path)
	if err != nil {
		return nil, NewError(id, "decode", err)
	}
	return NewStatic(id, KindImage, img), nil
}

// NewUpload decodes uploaded image bytes.
//
// Arguments:
//   - name: The upload name, used as the source id.
//   - data: The encoded image.
//
// Returns:
//   - *Static: The source.
//   - error: An *Error if the bytes are not a supported image.
func NewUpload(name string, data []byte) (*Static, error) {
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, NewError(name, "decode", err)
	}
	return NewStatic(name, KindUpload, img), nil
}

// ID implements Source.
func (s *Static) ID() string { return s.id }

// Kind implements Source.
func (s *Static) Kind() Kind { return s.kind }

// FPS implements Source.
func (s *Static) FPS() float64 { return 0 }

// Next implements Source.
func (s *Static) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, io.EOF
	}
	s.done = true

	frame, err := NewFrame(s.kind, s.id, 0, s.img, time.Now())
	if err != nil {
		return nil, NewError(s.id, "frame", err)
	}
	return frame, nil
}

// Close implements Source.
func (s *Static) Close() error {
	return nil
}
