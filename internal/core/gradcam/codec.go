package gradcam

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"gradcam-service/internal/core/domain"
)

// DecodeImage decodes any registered format and reports its name. The header
// is checked first, so an image declaring more than maxPixels pixels is
// rejected before its pixels are allocated. A maxPixels of zero disables the
// check.
func DecodeImage(r io.Reader, maxPixels int64) (image.Image, string, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", domain.ErrEmptyImage
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d is over %d pixels", domain.ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	if img.Bounds().Empty() {
		return nil, "", domain.ErrEmptyImage
	}
	return img, format, nil
}

// DecodeBytes is DecodeImage for an in-memory file.
func DecodeBytes(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", domain.ErrEmptyImage
	}
	return DecodeImage(bytes.NewReader(data), maxPixels)
}

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
