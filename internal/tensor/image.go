package tensor

import (
	"image"

	"golang.org/x/image/draw"
)

// FromImage scales an image to height x width and packs it into the
// (1, height, width, 3) uint8 RGB layout that detection models consume.
func FromImage(img image.Image, height, width int) *Tensor {
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	t := New(Uint8, 1, height, width, 3)
	for y := 0; y < height; y++ {
		row := scaled.Pix[y*scaled.Stride:]
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			t.Data[i] = row[x*4]
			t.Data[i+1] = row[x*4+1]
			t.Data[i+2] = row[x*4+2]
		}
	}
	return t
}
