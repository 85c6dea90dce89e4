package gradcam

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"gradcam-service/internal/core/domain"
)

type colorStop struct {
	pos float64
	c   colorful.Color
}

// jetStops are the breakpoints of matplotlib's "jet" map with every channel
// evaluated at the union of the per-channel breakpoints, so linear RGB blending
// between neighbours reproduces the map exactly.
var jetStops = []colorStop{
	{0.000, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.110, colorful.Color{R: 0, G: 0, B: 1}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.340, colorful.Color{R: 0, G: 0.86, B: 1}},
	{0.350, colorful.Color{R: 0, G: 0.9, B: 0.967742}},
	{0.375, colorful.Color{R: 0.080645, G: 1, B: 0.887097}},
	{0.640, colorful.Color{R: 0.935484, G: 1, B: 0.032258}},
	{0.650, colorful.Color{R: 0.967742, G: 0.962963, B: 0}},
	{0.660, colorful.Color{R: 1, G: 0.925926, B: 0}},
	{0.890, colorful.Color{R: 1, G: 0.074074, B: 0}},
	{0.910, colorful.Color{R: 0.909091, G: 0, B: 0}},
	{1.000, colorful.Color{R: 0.5, G: 0, B: 0}},
}

// Palette is a 256-entry lookup table.
type Palette [256]color.RGBA

var jet = buildPalette(jetStops)

// Jet returns the 256-entry jet palette.
func Jet() Palette {
	return jet
}

func buildPalette(stops []colorStop) Palette {
	var p Palette
	for i := range p {
		x := float64(i) / 255
		j := 1
		for j < len(stops)-1 && stops[j].pos < x {
			j++
		}
		lo, hi := stops[j-1], stops[j]
		c := hi.c
		if t := (x - lo.pos) / (hi.pos - lo.pos); t <= 0 {
			c = lo.c
		} else if t < 1 {
			c = lo.c.BlendRgb(hi.c, t)
		}
		r, g, b := c.RGB255()
		p[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// Level maps a heatmap value in [0, 1] to a palette index.
func Level(v float64) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(255 * v)
}

// Colorize maps each heatmap value through the jet palette. The result has the
// heatmap's own resolution.
func Colorize(h *domain.Heatmap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, h.Width, h.Height))
	for y := 0; y < h.Height; y++ {
		for x := 0; x < h.Width; x++ {
			img.SetRGBA(x, y, jet[Level(h.At(y, x))])
		}
	}
	return img
}
