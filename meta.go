package slyconv

import (
	"fmt"
)

// Tag names used in the project meta.
const (
	TagWeather    = "weather"    // Image tag.
	TagScene      = "scene"      // Image tag.
	TagTimeOfDay  = "timeofday"  // Image tag.
	TagAttributes = "attributes" // Object tag with the rendered label attributes.
)

// DefaultClasses are the object categories found in the BDD100K train and val labels.
var DefaultClasses = []string{
	"car",
	"bus",
	"drivable area",
	"lane",
	"traffic sign",
	"truck",
	"person",
	"traffic light",
	"rider",
	"bike",
	"motor",
	"train",
}

// RGB is a class color.
type RGB [3]uint8

// Hex formats c as #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c[0], c[1], c[2])
}

// palette is used for classes without a configured color.
var palette = []RGB{
	{230, 25, 75}, {60, 180, 75}, {255, 225, 25}, {0, 130, 200}, {245, 130, 48}, {145, 30, 180},
	{70, 240, 240}, {240, 50, 230}, {210, 245, 60}, {250, 190, 212}, {0, 128, 128},
	{220, 190, 255},
}

// BuildProjectMeta returns the project schema: one class of arbitrary geometry per name in
// classes and the weather, scene, timeofday and attributes tags.
//
// Class colors are looked up in colors; missing ones are picked from a fixed palette by the
// class position.
func BuildProjectMeta(classes []string, colors map[string]RGB) ProjectMeta {
	meta := ProjectMeta{
		Classes:     make([]ObjClass, 0, len(classes)),
		ProjectType: "images",
	}
	for i, name := range classes {
		color, ok := colors[name]
		if !ok {
			color = palette[i%len(palette)]
		}
		meta.Classes = append(meta.Classes, ObjClass{
			Title: name,
			Shape: GeometryAny,
			Color: color.Hex(),
		})
	}

	tags := []struct{ name, applicable string }{
		{TagWeather, "imagesOnly"},
		{TagScene, "imagesOnly"},
		{TagTimeOfDay, "imagesOnly"},
		{TagAttributes, "objectsOnly"},
	}
	for i, t := range tags {
		meta.Tags = append(meta.Tags, TagMeta{
			Name:           t.name,
			ValueType:      TagValueAnyString,
			Color:          palette[(len(palette)-1-i)%len(palette)].Hex(),
			ApplicableType: t.applicable,
		})
	}

	return meta
}
