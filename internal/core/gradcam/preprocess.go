package gradcam

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"gradcam-service/internal/core/domain"
)

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ToNRGBA returns img as non-premultiplied RGBA anchored at the origin.
// Alpha is ignored by every consumer, so this is the RGB view of the image.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// Preprocess resizes img to the network input resolution and returns the
// normalised tensor in the layout the model metadata declares.
func Preprocess(img image.Image, info *domain.ModelInfo) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, domain.ErrEmptyImage
	}
	if !info.Layout.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidModelLayout, info.Layout)
	}
	if !info.Preprocessing.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPreprocessor, info.Preprocessing)
	}

	size := info.ImageSize
	if want := volume(info.InputShape); want != 3*size*size {
		return nil, fmt.Errorf("%w: input shape %v for image size %d", domain.ErrShapeMismatch, info.InputShape, size)
	}

	resized := ToNRGBA(resize.Resize(uint(size), uint(size), ToNRGBA(img), resize.Bicubic))

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := resized.PixOffset(x, y)
			pos := y*size + x
			for c := 0; c < 3; c++ {
				v := normalize(float32(resized.Pix[off+c]), c, info.Preprocessing)
				if info.Layout == domain.LayoutNCHW {
					out[c*plane+pos] = v
				} else {
					out[pos*3+c] = v
				}
			}
		}
	}
	return out, nil
}

func normalize(v float32, channel int, mode domain.Preprocessing) float32 {
	switch mode {
	case domain.PreprocessUnit:
		return v / 255
	case domain.PreprocessImageNet:
		return (v/255 - imagenetMean[channel]) / imagenetStd[channel]
	default:
		return v/127.5 - 1
	}
}

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
