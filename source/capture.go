package source

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// MaxBadReads is how many consecutive empty or unreadable frames a capture
// skips before it reports the device as lost.
const MaxBadReads = 30

// frameReader is the part of gocv.VideoCapture a Capture reads from.
type frameReader interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	Close() error
}

// Capture streams frames from a camera or a video file through OpenCV.
type Capture struct {
	id     string
	file   bool
	fps    float64
	device frameReader

	mu     sync.Mutex
	mat    gocv.Mat
	seq    uint64
	closed bool
}

// OpenCamera opens a capture device.
//
// Arguments:
//   - deviceID: The camera index.
//   - fps: The sampling rate. Non-positive values use the device rate.
//
// Returns:
//   - *Capture: The source.
//   - error: An *Error if the device cannot be opened.
func OpenCamera(deviceID int, fps float64) (*Capture, error) {
	id := fmt.Sprintf("camera-%d", deviceID)
	device, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, NewError(id, "open", err)
	}
	return newCapture(id, false, device, fps), nil
}

// OpenVideo opens a video file.
//
// Arguments:
//   - path: The video file.
//   - fps: The playback rate. Non-positive values use the file rate.
//
// Returns:
//   - *Capture: The source.
//   - error: An *Error if the file cannot be opened.
func OpenVideo(path string, fps float64) (*Capture, error) {
	id := filepath.Base(path)
	device, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, NewError(id, "open", err)
	}
	return newCapture(id, true, device, fps), nil
}

func newCapture(id string, file bool, device frameReader, fps float64) *Capture {
	if fps <= 0 {
		fps = device.Get(gocv.VideoCaptureFPS)
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Capture{id: id, file: file, fps: fps, device: device, mat: gocv.NewMat()}
}

// ID implements Source.
func (c *Capture) ID() string { return c.id }

// Kind implements Source.
func (c *Capture) Kind() Kind { return KindVideo }

// FPS implements Source.
func (c *Capture) FPS() float64 { return c.fps }

// Next reads one frame. Empty reads and frames that fail to convert are
// skipped, up to MaxBadReads in a row. Video files end with io.EOF; a camera
// that stops delivering frames is reported as an *Error.
func (c *Capture) Next(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, NewError(c.id, "read", errors.New("capture closed"))
	}

	var lastErr error
	for bad := 0; bad < MaxBadReads; bad++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if ok := c.device.Read(&c.mat); !ok || c.mat.Empty() {
			if c.file {
				return nil, io.EOF
			}
			lastErr = errors.New("empty frame")
			continue
		}

		img, err := c.mat.ToImage()
		if err != nil {
			lastErr = errors.Wrap(err, "failed to convert frame")
			continue
		}

		frame, err := NewFrame(KindVideo, c.id, c.seq, img, time.Now())
		if err != nil {
			return nil, NewError(c.id, "frame", err)
		}
		c.seq++

		return frame, nil
	}

	return nil, NewError(c.id, "read",
		errors.Wrapf(lastErr, "device lost after %d bad reads", MaxBadReads))
}

// Close releases the capture device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return multierr.Combine(c.mat.Close(), c.device.Close())
}
