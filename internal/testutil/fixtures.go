package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"

	"gradcam-service/internal/core/domain"
)

// TinyModelInfo describes a 3-class model with 8x8 NHWC input and a 2x2x4 activation map.
func TinyModelInfo() domain.ModelInfo {
	return domain.ModelInfo{
		Name:            "tiny",
		Layer:           "out_relu",
		InputName:       "input",
		OutputName:      "out_relu",
		InputShape:      []int64{1, 8, 8, 3},
		ActivationShape: []int64{1, 2, 2, 4},
		Layout:          domain.LayoutNHWC,
		ImageSize:       8,
		Preprocessing:   domain.PreprocessMobileNet,
		Classes:         []string{"cat", "dog", "fox"},
	}
}

// TinyKernel is a 4 x 3 dense kernel matching TinyModelInfo.
func TinyKernel() []float32 {
	return []float32{
		0.5, -0.2, 0.1,
		-0.3, 0.8, 0.0,
		0.2, 0.1, -0.6,
		0.0, 0.4, 0.3,
	}
}

// TinyBias matches TinyKernel.
func TinyBias() []float32 {
	return []float32{0.05, -0.1, 0.0}
}

// Activations returns a 2x2x4 activation map whose top-left position is strongest.
func Activations() *domain.ActivationMap {
	return &domain.ActivationMap{
		Height:   2,
		Width:    2,
		Channels: 4,
		Data: []float32{
			2.0, 0.1, 0.3, 1.5,
			0.5, 0.2, 0.1, 0.4,
			0.3, 0.6, 0.2, 0.2,
			0.1, 0.1, 0.9, 0.0,
		},
	}
}

// UniformActivations returns an activation map identical at every position.
func UniformActivations() *domain.ActivationMap {
	a := &domain.ActivationMap{Height: 2, Width: 2, Channels: 4}
	for i := 0; i < 4; i++ {
		a.Data = append(a.Data, 0.7, 0.2, 0.4, 0.9)
	}
	return a
}

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// GradientImage returns a w x h image with a horizontal red ramp.
func GradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w-1, 1)), G: 80, B: 120, A: 255})
		}
	}
	return img
}

// PNGDeclaring returns a small PNG whose header claims w x h pixels. Only the
// header is consistent; decoding the pixel data fails.
func PNGDeclaring(w, h uint32) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	data := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc over type+data
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
