package slyconv

import (
	"image"
	_ "image/jpeg" // Register the decoders used by image.DecodeConfig.
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
)

// imageSize decodes the image at path and returns its width and height.
//
// The EXIF orientation is applied before measuring, so the size is that of the image as it is
// displayed.
func imageSize(path string) (width, height int, err error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, err
	}

	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}
