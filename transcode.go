package slyconv

// Conversion of indexed BDD100K labels to Supervisely annotations.

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrMalformedGeometry is returned for label geometry that cannot be converted.
var ErrMalformedGeometry = errors.New("malformed geometry")

// Transcoder builds Supervisely annotations for the images of one split.
type Transcoder struct {
	Meta  ProjectMeta
	Index *LabelIndex
}

// TranscodeFile reads the size of the image at path and returns its annotation.
func (t *Transcoder) TranscodeFile(path string) (Annotation, error) {
	width, height, err := imageSize(path)
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to read the image size of %q: %w", path, err)
	}
	return t.Transcode(filepath.Base(path), width, height)
}

// Transcode returns the annotation for the image with file name name and the given size.
//
// Images without an entry in the index get an annotation without tags or objects.
func (t *Transcoder) Transcode(name string, width, height int) (Annotation, error) {
	ann := Annotation{
		Size:    ImageSize{Height: height, Width: width},
		Tags:    []Tag{},
		Objects: []Object{},
	}
	if t.Index == nil {
		return ann, nil
	}

	if attrs, ok := t.Index.Attributes[name]; ok {
		ann.Tags = imageTags(attrs)
	}

	for i, l := range t.Index.Objects[name] {
		objects, err := t.objects(l)
		if err != nil {
			return Annotation{}, fmt.Errorf("label %d of %q: %w", i, name, err)
		}
		ann.Objects = append(ann.Objects, objects...)
	}

	return ann, nil
}

// imageTags returns the weather, scene and timeofday tags. Empty values are left out.
func imageTags(attrs FrameAttributes) []Tag {
	tags := make([]Tag, 0, 3)
	for _, t := range []Tag{
		{Name: TagWeather, Value: attrs.Weather},
		{Name: TagScene, Value: attrs.Scene},
		{Name: TagTimeOfDay, Value: attrs.TimeOfDay},
	} {
		if t.Value != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// objects converts a single label. A box yields one object, a polygon label one object per part.
func (t *Transcoder) objects(l ObjectLabel) ([]Object, error) {
	class, err := t.Meta.ObjClass(l.Category)
	if err != nil {
		return nil, err
	}
	tags := []Tag{{Name: TagAttributes, Value: l.Attributes.String()}}

	if b := l.Geometry.Box; b != nil {
		r := Rectangle{Top: int(b.Y1), Left: int(b.X1), Bottom: int(b.Y2), Right: int(b.X2)}
		return []Object{newRectangleObject(class.Title, r, tags)}, nil
	}

	objects := make([]Object, 0, len(l.Geometry.Poly))
	for i, part := range l.Geometry.Poly {
		points, err := polyPoints(part.Vertices)
		if err != nil {
			return nil, fmt.Errorf("poly2d part %d: %w", i, err)
		}
		objects = append(objects, newContourObject(class.Title, points, tags))
	}
	return objects, nil
}

// polyPoints flattens vertices and converts each consecutive x, y pair to a Point.
func polyPoints(vertices [][]float64) ([]Point, error) {
	points := make([]Point, 0, len(vertices))
	for _, v := range vertices {
		if len(v)%2 != 0 {
			return nil, fmt.Errorf("%w: odd number of coordinates in %v", ErrMalformedGeometry, v)
		}
		for i := 0; i < len(v); i += 2 {
			points = append(points, Point{Row: int(v[i+1]), Col: int(v[i])})
		}
	}
	return points, nil
}
