package driven

import (
	"context"
	"image"
)

// OCREngine recognises text in a raster image.
// It is treated as an opaque external capability; callers bound every call
// with a timeout through ctx.
type OCREngine interface {
	// Name identifies the engine for logging.
	Name() string

	// Recognize returns the text found in img.
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// MarkerDecoder decodes a machine-readable code from a raster image.
type MarkerDecoder interface {
	// Decode returns the payload of the code on the image.
	// found is false when the image carries no code. An error means the
	// image looked like it carried a code that could not be read.
	Decode(ctx context.Context, img image.Image) (payload string, found bool, err error)
}
