package gradcam

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DefaultAlpha is the heatmap mixing weight.
const DefaultAlpha = 0.4

// Overlay stretches the colourised heatmap to full range, resizes it to the
// original image and adds it with weight alpha. The sum is shifted and scaled
// into 0..255 as a whole, so bright regions are compressed rather than clipped.
func Overlay(original image.Image, colored image.Image, alpha float64) *image.RGBA {
	src := ToNRGBA(original)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	heat := Stretch(colored)
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Rect, heat, heat.Rect, draw.Src, nil)

	mixed := make([]float64, w*h*3)
	lo, hi := 0.0, 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			so := src.PixOffset(x, y)
			ho := scaled.PixOffset(x, y)
			i := (y*w + x) * 3
			for c := 0; c < 3; c++ {
				v := alpha*float64(scaled.Pix[ho+c]) + float64(src.Pix[so+c])
				mixed[i+c] = v
				if i+c == 0 || v < lo {
					lo = v
				}
				if i+c == 0 || v > hi {
					hi = v
				}
			}
		}
	}

	span := hi - lo
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		for c := 0; c < 3; c++ {
			v := mixed[p*3+c] - lo
			if span != 0 {
				v = math.Min(math.Round(v*255/span), 255)
			}
			out.Pix[p*4+c] = uint8(v)
		}
		out.Pix[p*4+3] = 255
	}
	return out
}

// Stretch returns a copy of img whose RGB channels are min-max rescaled
// together into 0..255. A constant image maps to black. Alpha is opaque.
func Stretch(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)

	lo, hi := uint8(255), uint8(0)
	for i, v := range out.Pix {
		if i%4 == 3 {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}

	span := float64(hi) - float64(lo)
	for i, v := range out.Pix {
		if i%4 == 3 {
			out.Pix[i] = 255
			continue
		}
		if span == 0 {
			out.Pix[i] = 0
			continue
		}
		out.Pix[i] = uint8(math.Min(math.Round(float64(v-lo)*255/span), 255))
	}
	return out
}
