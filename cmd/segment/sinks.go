package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-seg/controller"
	"github.com/nvr-ai/go-seg/models/postprocess"
	"github.com/nvr-ai/go-seg/render"
	"github.com/nvr-ai/go-seg/source"
)

var videoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// sinks fans a rendered frame out to every configured output.
type sinks struct {
	outputs []sinkCloser
	logger  *zap.SugaredLogger
}

type sinkCloser interface {
	controller.Sink
	Close() error
}

func newSinks(output string, window bool, src source.Source, logger *zap.SugaredLogger) *sinks {
	s := &sinks{logger: logger}
	if output != "" {
		if src.Kind().Streaming() && isVideo(output) {
			s.outputs = append(s.outputs, &videoSink{path: output, fps: src.FPS()})
		} else {
			s.outputs = append(s.outputs, &imageSink{path: output, numbered: src.Kind().Streaming()})
		}
	}
	if window {
		s.outputs = append(s.outputs, &windowSink{
			window: gocv.NewWindow("segment: " + src.ID()),
			hold:   !src.Kind().Streaming(),
		})
	}
	return s
}

// Present implements controller.Sink.
func (s *sinks) Present(frame *source.Frame, surface *render.Surface, dets []postprocess.Detection) error {
	s.logger.Debugw("frame", "source", frame.Source, "seq", frame.Seq, "detections", len(dets))

	var err error
	for _, out := range s.outputs {
		err = multierr.Append(err, out.Present(frame, surface, dets))
	}
	return err
}

// Close releases every output.
func (s *sinks) Close() error {
	var err error
	for _, out := range s.outputs {
		err = multierr.Append(err, out.Close())
	}
	return err
}

func isVideo(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, v := range videoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// surfaceMat converts the rendered surface to a BGR Mat. The caller closes it.
func surfaceMat(surface *render.Surface) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(surface.Snapshot())
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "failed to convert surface")
	}
	return mat, nil
}

// imageSink writes the surface to path, or to numbered files beside it for streams.
type imageSink struct {
	path     string
	numbered bool
}

func (s *imageSink) Present(frame *source.Frame, surface *render.Surface, _ []postprocess.Detection) error {
	mat, err := surfaceMat(surface)
	if err != nil {
		return err
	}
	defer mat.Close()

	path := s.path
	if s.numbered {
		ext := filepath.Ext(path)
		path = fmt.Sprintf("%s-%06d%s", strings.TrimSuffix(path, ext), frame.Seq, ext)
	}
	if !gocv.IMWrite(path, mat) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

func (s *imageSink) Close() error { return nil }

// videoSink encodes the surface into a video file sized by the first frame.
type videoSink struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
}

func (s *videoSink) Present(_ *source.Frame, surface *render.Surface, _ []postprocess.Detection) error {
	mat, err := surfaceMat(surface)
	if err != nil {
		return err
	}
	defer mat.Close()

	if s.writer == nil {
		s.writer, err = gocv.VideoWriterFile(s.path, "mp4v", s.fps, mat.Cols(), mat.Rows(), true)
		if err != nil {
			return errors.Wrapf(err, "failed to open video writer %s", s.path)
		}
	}
	return errors.Wrap(s.writer.Write(mat), "failed to write video frame")
}

func (s *videoSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// windowSink shows the surface. Still images stay up until a key is pressed.
type windowSink struct {
	window *gocv.Window
	hold   bool
}

func (s *windowSink) Present(_ *source.Frame, surface *render.Surface, _ []postprocess.Detection) error {
	mat, err := surfaceMat(surface)
	if err != nil {
		return err
	}
	defer mat.Close()

	s.window.IMShow(mat)
	if s.hold {
		s.window.WaitKey(0)
	} else {
		s.window.WaitKey(1)
	}
	return nil
}

func (s *windowSink) Close() error {
	return s.window.Close()
}
