package pipeline

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// ImageInfo is what ValidateImage learned from the image header.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// ValidateImage checks that data decodes as one of the supported raster
// formats and has at least one pixel. Only the header is decoded.
func ValidateImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, common.InvalidInputf("image is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, common.InvalidInputf("image could not be decoded: %v", err)
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		return ImageInfo{}, common.InvalidInputf("image has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
