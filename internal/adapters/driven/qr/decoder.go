// Package qr decodes separator and payment QR codes from page rasters
// with gozxing.
package qr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
	"github.com/custodia-labs/scanpipe/internal/core/ports/driven"
)

// Ensure Decoder implements the interface.
var _ driven.MarkerDecoder = (*Decoder)(nil)

// Decoder reads one QR code per image.
type Decoder struct {
	hints map[gozxing.DecodeHintType]any
}

// NewDecoder creates a decoder. tryHarder trades speed for recognition of
// skewed or low-contrast scans.
func NewDecoder(tryHarder bool) *Decoder {
	hints := map[gozxing.DecodeHintType]any{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &Decoder{hints: hints}
}

// Decode returns the payload of the QR code on img. An image without a
// code yields found=false. A located code that fails checksum or format
// checks yields an error wrapping domain.ErrMarkerDecode.
func (d *Decoder) Decode(ctx context.Context, img image.Image) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if img == nil {
		return "", false, nil
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false, fmt.Errorf("%w: binarising page: %w", domain.ErrMarkerDecode, err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %w", domain.ErrMarkerDecode, err)
	}
	return result.GetText(), true, nil
}
