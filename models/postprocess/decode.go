package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
)

// Config controls decoding of YOLO segmentation outputs.
type Config struct {
	// ConfidenceThreshold drops candidates scoring below it.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the NMS overlap threshold.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// MaskThreshold is the probability above which a mask pixel is opaque.
	MaskThreshold float32 `json:"mask_threshold" yaml:"mask_threshold"`
	// MaxDetections caps detections per frame. Zero means no limit.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// ClassAware restricts suppression to boxes of the same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
	// HasObjectness is set for exports that emit an objectness score before the
	// class scores.
	HasObjectness bool `json:"has_objectness" yaml:"has_objectness"`
	// Classes is the number of class scores per anchor. Zero uses len(Labels).
	Classes int `json:"classes" yaml:"classes"`
	// RelevantClasses keeps only these labels. Empty keeps every class.
	RelevantClasses []string `json:"relevant_classes" yaml:"relevant_classes"`
	// Labels are the class names, indexed by class.
	Labels []string `json:"-" yaml:"-"`
}

// DefaultConfig returns the standard YOLO11 segmentation postprocessing settings.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.25,
		IoUThreshold:        0.45,
		MaskThreshold:       0.5,
		MaxDetections:       100,
		ClassAware:          true,
	}
}

// Validate checks that every threshold is in range.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %v out of [0, 1]", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold %v out of [0, 1]", c.IoUThreshold)
	}
	if c.MaskThreshold < 0 || c.MaskThreshold > 1 {
		return errors.Errorf("mask threshold %v out of [0, 1]", c.MaskThreshold)
	}
	if c.MaxDetections < 0 {
		return errors.Errorf("max detections %d must not be negative", c.MaxDetections)
	}
	if c.Classes < 0 {
		return errors.Errorf("classes %d must not be negative", c.Classes)
	}
	if unknown := lo.Without(c.RelevantClasses, c.Labels...); len(c.Labels) > 0 && len(unknown) > 0 {
		return errors.Errorf("unknown relevant classes %v", unknown)
	}
	return nil
}

// Decoder turns raw model outputs into detections.
type Decoder struct {
	config  Config
	allowed map[int]bool
}

// NewDecoder creates a decoder.
//
// Arguments:
//   - config: The decoding configuration.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: An error if the configuration is invalid.
func NewDecoder(config Config) (*Decoder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid postprocess config")
	}

	if config.Classes == 0 {
		config.Classes = len(config.Labels)
	}
	if config.Classes == 0 {
		return nil, errors.New("class count unknown: set classes or labels")
	}

	d := &Decoder{config: config}
	if len(config.RelevantClasses) > 0 {
		d.allowed = make(map[int]bool, len(config.RelevantClasses))
		for i, label := range config.Labels {
			if lo.Contains(config.RelevantClasses, label) {
				d.allowed[i] = true
			}
		}
	}

	return d, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() Config {
	return d.config
}

// Decode converts raw outputs into detections in original frame coordinates.
//
// Arguments:
//   - raw: The outputs of one inference. They are read but not released.
//
// Returns:
//   - []Detection: Detections ordered by descending score.
//   - error: An error if the outputs do not have the expected layout.
func (d *Decoder) Decode(raw *inference.RawOutputs) ([]Detection, error) {
	if raw == nil || len(raw.Tensors) == 0 {
		return nil, errors.New("no model outputs")
	}
	return d.decode(raw.Tensors, raw.Letterbox, raw.FrameWidth, raw.FrameHeight)
}

// Decode is the functional form of Decoder.Decode.
func Decode(
	outputs []*inference.Tensor,
	letterbox images.LetterboxParams,
	frameW, frameH int,
	config Config,
) ([]Detection, error) {
	d, err := NewDecoder(config)
	if err != nil {
		return nil, err
	}
	return d.decode(outputs, letterbox, frameW, frameH)
}

func (d *Decoder) decode(
	outputs []*inference.Tensor,
	letterbox images.LetterboxParams,
	frameW, frameH int,
) ([]Detection, error) {
	if len(outputs) == 0 {
		return nil, errors.New("no model outputs")
	}

	view, protos, err := d.resolveLayout(outputs)
	if err != nil {
		return nil, err
	}

	kept := ApplyGreedyNMS(d.candidates(view), NMSConfig{
		IoUThreshold: d.config.IoUThreshold,
		ClassAware:   d.config.ClassAware,
	})

	detections := make([]Detection, 0, len(kept))
	survivors := make([]Candidate, 0, len(kept))
	for _, c := range kept {
		box := letterbox.BoxToFrame(c.Box, frameW, frameH)
		if box.Empty() {
			continue
		}

		detections = append(detections, Detection{
			Class: c.Class,
			Label: d.label(c.Class),
			Score: c.Score,
			Box:   box,
		})
		survivors = append(survivors, c)
		if d.config.MaxDetections > 0 && len(detections) == d.config.MaxDetections {
			break
		}
	}

	if protos != nil && len(survivors) > 0 {
		logits, err := protos.combine(survivors)
		if err != nil {
			return nil, err
		}
		for i := range detections {
			detections[i].Mask = protos.mask(logits[i], detections[i].Box, letterbox, frameW, frameH, d.config.MaskThreshold)
		}
	}

	return detections, nil
}

// resolveLayout orients the detection and prototype outputs.
//
// The feature count per anchor is known up front, 4 box values plus the
// optional objectness, the class scores and one coefficient per prototype
// channel. The detection axis and the prototype channel axis are the ones
// whose sizes agree with it. NCHW prototypes and feature-major detections win
// when both orientations fit.
func (d *Decoder) resolveLayout(outputs []*inference.Tensor) (*detectionView, *prototypes, error) {
	det := outputs[0]
	if len(det.Shape) != 3 || det.Shape[0] != 1 {
		return nil, nil, errors.Errorf("detection output must be [1, features, anchors], got %v", det.Shape)
	}

	classStart := 4
	if d.config.HasObjectness {
		classStart = 5
	}
	base := classStart + d.config.Classes

	var proto *inference.Tensor
	channelAxes := []int{0}
	if len(outputs) > 1 {
		proto = outputs[1]
		if len(proto.Shape) != 4 || proto.Shape[0] != 1 {
			return nil, nil, errors.Errorf("mask prototypes must have shape [1, c, h, w], got %v", proto.Shape)
		}
		channelAxes = []int{1, 3}
	}

	for _, axis := range channelAxes {
		numCoeffs := 0
		if proto != nil {
			numCoeffs = int(proto.Shape[axis])
		}

		features := base + numCoeffs
		var featureMajor bool
		switch int64(features) {
		case det.Shape[1]:
			featureMajor = true
		case det.Shape[2]:
		default:
			continue
		}

		view, err := newDetectionView(det, features, featureMajor, classStart, d.config.Classes, numCoeffs)
		if err != nil {
			return nil, nil, err
		}
		if proto == nil {
			return view, nil, nil
		}
		protos, err := parsePrototypes(proto, axis)
		if err != nil {
			return nil, nil, err
		}
		return view, protos, nil
	}

	if proto != nil {
		return nil, nil, errors.Errorf(
			"detection output %v has no axis of %d box and class values plus %d or %d mask coefficients",
			det.Shape, base, proto.Shape[1], proto.Shape[3],
		)
	}
	return nil, nil, errors.Errorf("detection output %v has no axis of %d box and class values", det.Shape, base)
}

func (d *Decoder) candidates(view *detectionView) []Candidate {
	var candidates []Candidate

	for a := 0; a < view.anchors; a++ {
		class, score := view.bestClass(a)
		if view.objectness {
			score *= view.at(a, 4)
		}
		// Also rejects NaN scores.
		if !(score >= d.config.ConfidenceThreshold) {
			continue
		}
		if d.allowed != nil && !d.allowed[class] {
			continue
		}

		candidates = append(candidates, Candidate{
			Index:  a,
			Class:  class,
			Score:  score,
			Box:    images.BoxFromCenter(view.at(a, 0), view.at(a, 1), view.at(a, 2), view.at(a, 3)),
			Coeffs: view.coeffs(a),
		})
	}

	return candidates
}

func (d *Decoder) label(class int) string {
	if class >= 0 && class < len(d.config.Labels) {
		return d.config.Labels[class]
	}
	return ""
}

// detectionView indexes the [1, features, anchors] or [1, anchors, features]
// detection output without copying it.
type detectionView struct {
	data         []float32
	features     int
	anchors      int
	featureMajor bool
	objectness   bool
	classStart   int
	classes      int
	coeffStart   int
	numCoeffs    int
}

func newDetectionView(
	t *inference.Tensor,
	features int,
	featureMajor bool,
	classStart, classes, numCoeffs int,
) (*detectionView, error) {
	v := &detectionView{
		data:         t.Data,
		features:     features,
		featureMajor: featureMajor,
		objectness:   classStart == 5,
		classStart:   classStart,
		classes:      classes,
		coeffStart:   classStart + classes,
		numCoeffs:    numCoeffs,
	}
	v.anchors = int(t.Shape[2])
	if !featureMajor {
		v.anchors = int(t.Shape[1])
	}

	if len(t.Data) < v.features*v.anchors {
		return nil, errors.Errorf("detection output holds %d values, shape %v needs %d",
			len(t.Data), t.Shape, v.features*v.anchors)
	}

	return v, nil
}

func (v *detectionView) at(anchor, feature int) float32 {
	if v.featureMajor {
		return v.data[feature*v.anchors+anchor]
	}
	return v.data[anchor*v.features+feature]
}

// bestClass returns the top scoring class. NaN scores never win; an anchor
// with no finite score yields class -1 at -Inf.
func (v *detectionView) bestClass(anchor int) (int, float32) {
	best, score := -1, math32.Inf(-1)
	for c := 0; c < v.classes; c++ {
		if s := v.at(anchor, v.classStart+c); s > score {
			best, score = c, s
		}
	}
	return best, score
}

func (v *detectionView) coeffs(anchor int) []float32 {
	if v.numCoeffs == 0 {
		return nil
	}
	out := make([]float32, v.numCoeffs)
	for i := range out {
		out[i] = v.at(anchor, v.coeffStart+i)
	}
	return out
}
