package slyconv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProjectMeta(t *testing.T) {
	meta := BuildProjectMeta(DefaultClasses, map[string]RGB{"car": {0, 0, 255}})

	assert.Equal(t, "images", meta.ProjectType)
	require.Len(t, meta.Classes, 12)
	for i, c := range meta.Classes {
		assert.Equal(t, DefaultClasses[i], c.Title)
		assert.Equal(t, GeometryAny, c.Shape)
		assert.Regexp(t, `^#[0-9A-F]{6}$`, c.Color)
	}
	assert.Equal(t, "#0000FF", meta.Classes[0].Color)
	assert.Equal(t, palette[1].Hex(), meta.Classes[1].Color)

	require.Len(t, meta.Tags, 4)
	for _, tc := range []struct{ name, applicable string }{
		{TagWeather, "imagesOnly"},
		{TagScene, "imagesOnly"},
		{TagTimeOfDay, "imagesOnly"},
		{TagAttributes, "objectsOnly"},
	} {
		tag, ok := meta.TagMeta(tc.name)
		require.True(t, ok, tc.name)
		assert.Equal(t, TagValueAnyString, tag.ValueType)
		assert.Equal(t, tc.applicable, tag.ApplicableType)
	}
}

func TestProjectMeta_ObjClass(t *testing.T) {
	meta := BuildProjectMeta([]string{"car", "bus"}, nil)

	c, err := meta.ObjClass("bus")
	require.NoError(t, err)
	assert.Equal(t, "bus", c.Title)

	_, err = meta.ObjClass("tram")
	assert.True(t, errors.Is(err, ErrUnknownClass))

	_, ok := meta.TagMeta("nope")
	assert.False(t, ok)
}

func TestRGBHex(t *testing.T) {
	assert.Equal(t, "#000000", RGB{}.Hex())
	assert.Equal(t, "#FF8001", RGB{255, 128, 1}.Hex())
}
