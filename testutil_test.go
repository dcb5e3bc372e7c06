package slyconv

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// writeTestImage writes a width x height image to dir/name, encoded according to the extension.
func writeTestImage(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 40, G: 80, B: 120, A: 255})
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

// writeTestFile writes data to dir/name.
func writeTestFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}
