package source

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-seg/images"
)

// DefaultFPS is used for streams that do not report a frame rate.
const DefaultFPS = 30

// Sequence streams in-memory frames in order at a fixed rate.
type Sequence struct {
	id     string
	fps    float64
	frames []image.Image

	mu  sync.Mutex
	idx int
}

// NewSequence creates a stream over frames.
func NewSequence(id string, fps float64, frames ...image.Image) *Sequence {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Sequence{id: id, fps: fps, frames: frames}
}

// ID implements Source.
func (s *Sequence) ID() string { return s.id }

// Kind implements Source.
func (s *Sequence) Kind() Kind { return KindSequence }

// FPS implements Source.
func (s *Sequence) FPS() float64 { return s.fps }

// Next implements Source.
func (s *Sequence) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.frames) {
		return nil, io.EOF
	}

	seq := s.idx
	s.idx++
	frame, err := NewFrame(KindSequence, s.id, uint64(seq), s.frames[seq], time.Now())
	if err != nil {
		return nil, NewError(s.id, "frame", err)
	}
	return frame, nil
}

// Close implements Source.
func (s *Sequence) Close() error { return nil }

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from the file name, or -1.
	Frame int
}

// ListDirectoryImageFiles lists the image files of a directory in frame order.
//
// Frame numbers are the trailing digits of the file name, so "frame-12.jpg"
// plays after "frame-2.jpg". Files without a number follow in name order.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The files in playback order.
// - error: Error if the directory cannot be read.
func ListDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp", ".webp", ".gif", ".tif", ".tiff":
			files = append(files, ImageFile{
				Path:  filepath.Join(dir, entry.Name()),
				Frame: frameNumber(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))),
			})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.Frame < 0) != (b.Frame < 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})

	return files, nil
}

func frameNumber(name string) int {
	end := len(name)
	start := strings.LastIndexFunc(name, func(r rune) bool { return !unicode.IsDigit(r) }) + 1
	if start >= end {
		return -1
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return -1
	}
	return n
}

// Directory streams the images of a directory, decoding each on demand.
type Directory struct {
	id    string
	fps   float64
	files []ImageFile

	mu  sync.Mutex
	idx int
}

// OpenDirectory lists dir and prepares to stream its images.
//
// Arguments:
//   - dir: The directory.
//   - fps: The playback rate. Non-positive values use DefaultFPS.
//
// Returns:
//   - *Directory: The source.
//   - error: An *Error if the directory cannot be read or has no images.
func OpenDirectory(dir string, fps float64) (*Directory, error) {
	id := filepath.Base(dir)
	files, err := ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, NewError(id, "list", err)
	}
	if len(files) == 0 {
		return nil, NewError(id, "list", errors.Errorf("no images in %s", dir))
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Directory{id: id, fps: fps, files: files}, nil
}

// Files returns the files in playback order.
func (d *Directory) Files() []ImageFile {
	return append([]ImageFile(nil), d.files...)
}

// ID implements Source.
func (d *Directory) ID() string { return d.id }

// Kind implements Source.
func (d *Directory) Kind() Kind { return KindSequence }

// FPS implements Source.
func (d *Directory) FPS() float64 { return d.fps }

// Next implements Source.
func (d *Directory) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.idx >= len(d.files) {
		d.mu.Unlock()
		return nil, io.EOF
	}
	seq := d.idx
	file := d.files[seq]
	d.idx++
	d.mu.Unlock()

	img, _, err := images.DecodeFile(file.Path)
	if err != nil {
		return nil, NewError(d.id, "decode", err)
	}

	frame, err := NewFrame(KindSequence, d.id, uint64(seq), img, time.Now())
	if err != nil {
		return nil, NewError(d.id, "frame", err)
	}
	return frame, nil
}

// Close implements Source.
func (d *Directory) Close() error { return nil }
