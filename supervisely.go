package slyconv

// Supervisely project format specific functionality.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
)

// Geometry types of Supervisely objects.
const (
	GeometryAny       = "any"
	GeometryRectangle = "rectangle"
	GeometryPolygon   = "polygon"
	GeometryPolyline  = "line"
)

// TagValueAnyString is the Supervisely tag value type for free-form text.
const TagValueAnyString = "any_string"

// ErrUnknownClass is returned when a label references a class that is not part of the project
// meta.
var ErrUnknownClass = errors.New("unknown object class")

// Point is a pixel location, stored row first.
type Point struct {
	Row int
	Col int
}

// MarshalJSON writes the point as [col, row], the order used by Supervisely.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Col, p.Row})
}

// UnmarshalJSON reads a [col, row] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var v [2]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.Col, p.Row = v[0], v[1]
	return nil
}

// Points holds the exterior and interior contours of a geometry.
type Points struct {
	Exterior []Point   `json:"exterior"`
	Interior [][]Point `json:"interior"`
}

// Tag is a named value attached to an image or object.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Object is a labelled shape within an Annotation.
type Object struct {
	ClassTitle   string `json:"classTitle"`
	GeometryType string `json:"geometryType"`
	Points       Points `json:"points"`
	Tags         []Tag  `json:"tags"`
}

// ImageSize is the canvas size of an Annotation.
type ImageSize struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Annotation is the Supervisely annotation for a single image.
type Annotation struct {
	Description string    `json:"description"`
	Size        ImageSize `json:"size"`
	Tags        []Tag     `json:"tags"`
	Objects     []Object  `json:"objects"`
}

// Rectangle is an axis-aligned box. The bounds are taken as given; they are not reordered.
type Rectangle struct {
	Top, Left, Bottom, Right int
}

// Width is Right - Left.
func (r Rectangle) Width() int { return r.Right - r.Left }

// Height is Bottom - Top.
func (r Rectangle) Height() int { return r.Bottom - r.Top }

// newRectangleObject creates a rectangle object of class.
func newRectangleObject(class string, r Rectangle, tags []Tag) Object {
	return Object{
		ClassTitle:   class,
		GeometryType: GeometryRectangle,
		Points: Points{
			Exterior: []Point{{Row: r.Top, Col: r.Left}, {Row: r.Bottom, Col: r.Right}},
			Interior: [][]Point{},
		},
		Tags: tags,
	}
}

// newContourObject creates a closed polygon of class if there are more than 3 points, and an
// open polyline otherwise.
func newContourObject(class string, points []Point, tags []Tag) Object {
	geometry := GeometryPolyline
	if len(points) > 3 {
		geometry = GeometryPolygon
	}
	return Object{
		ClassTitle:   class,
		GeometryType: geometry,
		Points:       Points{Exterior: points, Interior: [][]Point{}},
		Tags:         tags,
	}
}

// Rectangle returns the bounds of a rectangle object.
func (o Object) Rectangle() (Rectangle, bool) {
	if o.GeometryType != GeometryRectangle || len(o.Points.Exterior) != 2 {
		return Rectangle{}, false
	}
	p0, p1 := o.Points.Exterior[0], o.Points.Exterior[1]
	return Rectangle{Top: p0.Row, Left: p0.Col, Bottom: p1.Row, Right: p1.Col}, true
}

// ObjClass is a class definition in the ProjectMeta.
type ObjClass struct {
	Title string `json:"title"`
	Shape string `json:"shape"`
	Color string `json:"color"`
}

// TagMeta is a tag definition in the ProjectMeta.
type TagMeta struct {
	Name           string `json:"name"`
	ValueType      string `json:"value_type"`
	Color          string `json:"color"`
	ApplicableType string `json:"applicable_type,omitempty"` // "all", "imagesOnly" or "objectsOnly".
}

// ProjectMeta is the class and tag schema of a Supervisely project.
type ProjectMeta struct {
	Classes     []ObjClass `json:"classes"`
	Tags        []TagMeta  `json:"tags"`
	ProjectType string     `json:"projectType"`
}

// ObjClass returns the class with the given title.
func (m ProjectMeta) ObjClass(title string) (ObjClass, error) {
	for _, c := range m.Classes {
		if c.Title == title {
			return c, nil
		}
	}
	return ObjClass{}, fmt.Errorf("%w: %q", ErrUnknownClass, title)
}

// TagMeta returns the tag definition with the given name.
func (m ProjectMeta) TagMeta(name string) (TagMeta, bool) {
	for _, t := range m.Tags {
		if t.Name == name {
			return t, true
		}
	}
	return TagMeta{}, false
}

// WriteSupervisely writes v, an Annotation or ProjectMeta, as JSON to outFile.
func WriteSupervisely(outFile string, v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(outFile, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", outFile, err)
	}
	return nil
}
