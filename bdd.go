package slyconv

// BDD100K label format specific functionality.

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
)

// BDDFrame is the annotation record for a single image in a BDD100K label file.
type BDDFrame struct {
	Name       string          `json:"name"`
	Attributes FrameAttributes `json:"attributes"`
	Labels     []BDDLabel      `json:"labels"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// FrameAttributes are the image level attributes of a BDDFrame.
type FrameAttributes struct {
	Weather   string `json:"weather"`
	Scene     string `json:"scene"`
	TimeOfDay string `json:"timeofday"`
}

// BDDLabel is a single object label within a BDDFrame. At most one of Box2D and Poly2D is
// expected to be set.
type BDDLabel struct {
	Category   string          `json:"category"`
	Attributes LabelAttributes `json:"attributes"`
	Box2D      *Box2D          `json:"box2d,omitempty"`
	Poly2D     []Poly2D        `json:"poly2d,omitempty"`
}

// Box2D is an axis-aligned box in absolute pixel coordinates.
type Box2D struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Poly2D is one part of a (possibly multi-part) polygon or polyline label.
//
// Each element of Vertices holds flattened x, y pairs. The dataset stores one pair per element,
// but longer runs are accepted.
type Poly2D struct {
	Vertices [][]float64 `json:"vertices"`
	Types    string      `json:"types,omitempty"`
	Closed   bool        `json:"closed,omitempty"`
}

// LabelAttributes holds the free-form attributes of an object label together with their string
// rendering, which is what gets attached to the uploaded object as a tag value.
type LabelAttributes struct {
	Raw  map[string]interface{}
	text string
}

// NewLabelAttributes wraps raw and caches its string rendering.
func NewLabelAttributes(raw map[string]interface{}) LabelAttributes {
	a := LabelAttributes{Raw: raw, text: "{}"}
	if len(raw) > 0 {
		// Map keys are sorted by encoding/json, so the rendering is stable.
		if enc, err := json.Marshal(raw); err == nil {
			a.text = string(enc)
		} else {
			a.text = fmt.Sprint(raw)
		}
	}
	return a
}

// String returns the cached rendering. The zero value renders as "{}".
func (a LabelAttributes) String() string {
	if a.text == "" {
		return "{}"
	}
	return a.text
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *LabelAttributes) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = NewLabelAttributes(raw)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a LabelAttributes) MarshalJSON() ([]byte, error) {
	if a.Raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.Raw)
}

// Geometry is the shape payload of an ObjectLabel. Exactly one field is set.
type Geometry struct {
	Box  *Box2D
	Poly []Poly2D
}

// ObjectLabel is the indexed form of a BDDLabel.
type ObjectLabel struct {
	Category   string
	Attributes LabelAttributes
	Geometry   Geometry
}

// LabelIndex maps image file names to their labels for one dataset split.
type LabelIndex struct {
	Attributes map[string]FrameAttributes // Image attributes by file name.
	Objects    map[string][]ObjectLabel    // Object labels by file name, in file order.
	Skipped    int                         // Labels dropped because they had no geometry.
}

// HasLabels reports whether the index was built from a label file.
func (idx *LabelIndex) HasLabels() bool {
	return idx != nil && idx.Attributes != nil
}

// NewLabelIndex indexes frames by file name.
//
// Labels with neither a box2d nor a poly2d field are not indexed. They are counted in Skipped.
func NewLabelIndex(frames []BDDFrame) *LabelIndex {
	idx := &LabelIndex{
		Attributes: make(map[string]FrameAttributes, len(frames)),
		Objects:    make(map[string][]ObjectLabel, len(frames)),
	}
	for _, f := range frames {
		idx.Attributes[f.Name] = f.Attributes
		for _, l := range f.Labels {
			var g Geometry
			switch {
			case l.Box2D != nil:
				g.Box = l.Box2D
			case l.Poly2D != nil:
				g.Poly = l.Poly2D
			default:
				idx.Skipped++
				continue
			}
			idx.Objects[f.Name] = append(idx.Objects[f.Name], ObjectLabel{
				Category:   l.Category,
				Attributes: l.Attributes,
				Geometry:   g,
			})
		}
	}
	return idx
}

// LoadLabelIndex reads the BDD100K label file at path and indexes it. An empty path, used for
// splits without ground truth, yields an empty index for which HasLabels is false.
func LoadLabelIndex(path string) (*LabelIndex, error) {
	if path == "" {
		return &LabelIndex{}, nil
	}

	frames, err := FromBDD(path)
	if err != nil {
		return nil, err
	}

	idx := NewLabelIndex(frames)
	if idx.Skipped > 0 {
		log.Printf("Skipped %d labels without geometry in %q", idx.Skipped, path)
	}
	return idx, nil
}

// FromBDD reads and parses the BDD100K label file at path.
func FromBDD(path string) ([]BDDFrame, error) {
	enc, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var frames []BDDFrame
	if err := json.Unmarshal(enc, &frames); err != nil {
		return nil, fmt.Errorf("failed to parse BDD input from %q: %w", path, err)
	}
	log.Printf("Parsed BDD labels for %d files from %q", len(frames), path)

	return frames, nil
}
