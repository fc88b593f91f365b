package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet is the ordered label set of a model.
type OutputClassSet struct {
	// Classes that are supported and mappable.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a class set whose indices follow the order of names.
func NewOutputClassSet(names []string) *OutputClassSet {
	set := &OutputClassSet{
		Classes: lo.Map(names, func(name string, i int) OutputClass {
			return OutputClass{Index: i, Name: name}
		}),
	}
	set.nameToIdx = make(map[string]int, len(set.Classes))
	for _, c := range set.Classes {
		set.nameToIdx[c.Name] = c.Index
	}
	return set
}

// Len returns the number of classes.
func (s *OutputClassSet) Len() int {
	return len(s.Classes)
}

// Names returns the labels in index order.
func (s *OutputClassSet) Names() []string {
	return lo.Map(s.Classes, func(c OutputClass, _ int) string { return c.Name })
}

// Name returns the label for idx, or "class N" when idx is out of range.
func (s *OutputClassSet) Name(idx int) string {
	if idx < 0 || idx >= len(s.Classes) {
		return fmt.Sprintf("class %d", idx)
	}
	return s.Classes[idx].Name
}

// Index returns the index for a label.
func (s *OutputClassSet) Index(name string) (int, bool) {
	idx, ok := s.nameToIdx[name]
	return idx, ok
}

// YOLOClassNames is the 80 COCO classes YOLO models index directly, without a
// background class.
var YOLOClassNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// YOLOClasses returns the default label set for YOLO models.
func YOLOClasses() *OutputClassSet {
	return NewOutputClassSet(YOLOClassNames)
}

// labelFile mirrors the metadata.yaml written next to exported YOLO models.
type labelFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadLabels reads a label set from disk.
//
// Accepted formats are a YAML document with a "names" key holding either a list
// or an index-to-name map (the layout of exported model metadata), a bare YAML
// list, or plain text with one label per line.
//
// Arguments:
//   - path: The label file.
//
// Returns:
//   - *OutputClassSet: The labels.
//   - error: An error if the file cannot be read or contains no labels.
func LoadLabels(path string) (*OutputClassSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read labels %s", path)
	}

	names, err := ParseLabels(data)
	if err != nil {
		return nil, errors.Wrapf(err, "labels %s", path)
	}

	return NewOutputClassSet(names), nil
}

// ParseLabels parses the label formats accepted by LoadLabels.
func ParseLabels(data []byte) ([]string, error) {
	var doc labelFile
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Names.Kind != 0 {
		return decodeNames(&doc.Names)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	lines := lo.FilterMap(strings.Split(string(data), "\n"), func(line string, _ int) (string, bool) {
		line = strings.TrimSpace(line)
		return line, line != "" && !strings.HasPrefix(line, "#")
	})
	if len(lines) == 0 {
		return nil, errors.New("no labels found")
	}

	return lines, nil
}

func decodeNames(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil, errors.Wrap(err, "invalid names list")
		}
		return names, nil
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := node.Decode(&byIndex); err != nil {
			return nil, errors.Wrap(err, "invalid names map")
		}
		names := make([]string, len(byIndex))
		for idx, name := range byIndex {
			if idx < 0 || idx >= len(names) {
				return nil, errors.Errorf("names map is not contiguous: index %d", idx)
			}
			names[idx] = name
		}
		return names, nil
	default:
		return nil, errors.New("names must be a list or a map")
	}
}
