package onnx

import (
	"image"

	"github.com/nfnt/resize"
)

// buildInput converts a decoded image into the flat CHW float32 tensor the
// model expects. Channels are ordered BGR and normalized per-channel with the
// metadata's pixel mean and std, matching the detectron2 export convention.
func buildInput(img image.Image, meta *Metadata) []float32 {
	width, height := meta.InputWidth, meta.InputHeight

	scaled := img
	if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
		scaled = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)
	}

	plane := width * height
	data := make([]float32, 3*plane)
	bounds := scaled.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := scaled.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*width + x
			data[idx] = (float32(b>>8) - meta.PixelMean[0]) / meta.PixelStd[0]
			data[plane+idx] = (float32(g>>8) - meta.PixelMean[1]) / meta.PixelStd[1]
			data[2*plane+idx] = (float32(r>>8) - meta.PixelMean[2]) / meta.PixelStd[2]
		}
	}
	return data
}
