package scoring

import (
	"image"

	"golang.org/x/image/draw"
)

// Tensor scales img to size x size with bilinear filtering and flattens it to
// HWC float32 RGB values in [0,255], alpha dropped.
func Tensor(img image.Image, size int) []float32 {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, 0, size*size*InputChannels)
	for y := 0; y < size; y++ {
		row := scaled.Pix[y*scaled.Stride : y*scaled.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+4]
			out = append(out, float32(px[0]), float32(px[1]), float32(px[2]))
		}
	}
	return out
}
