package imageops

import (
	"image"

	"github.com/cyclopcam/faceid/pkg/nn"
	"gorgonia.org/tensor"
)

// Linear intensity normalization applied to every network input:
// pixel' = pixel*NormScale - NormOffset
const (
	NormScale  = 0.0078125
	NormOffset = 1.0
)

// Normalize a single 8-bit intensity
func Normalize(v uint8) float32 {
	return float32(v)*NormScale - NormOffset
}

// ToTensor packs images into a [N,3,H,W] tensor, as normalized BGR planes.
// All images must be the same size.
func ToTensor(imgs []*image.NRGBA) *tensor.Dense {
	w, h := imgs[0].Rect.Dx(), imgs[0].Rect.Dy()
	t := nn.NewTensor(len(imgs), 3, h, w)
	data := nn.Float32s(t)
	plane := w * h
	for i, img := range imgs {
		writeBGR(data[i*3*plane:(i+1)*3*plane], img, w, h)
	}
	return t
}

// ToTensorStacked packs groups of images into a [N,3*G,H,W] tensor, where N is
// the number of groups and G is the number of images per group. Image j of a
// group occupies channels 3j..3j+2, as normalized BGR.
// All images must be the same size, and all groups the same length.
func ToTensorStacked(groups [][]*image.NRGBA) *tensor.Dense {
	g := len(groups[0])
	w, h := groups[0][0].Rect.Dx(), groups[0][0].Rect.Dy()
	t := nn.NewTensor(len(groups), 3*g, h, w)
	data := nn.Float32s(t)
	plane := w * h
	for i, group := range groups {
		for j, img := range group {
			start := (i*g + j) * 3 * plane
			writeBGR(data[start:start+3*plane], img, w, h)
		}
	}
	return t
}

// Write one image into 3 consecutive planes (B, G, R)
func writeBGR(dst []float32, img *image.NRGBA, w, h int) {
	plane := w * h
	b := dst[0:plane]
	g := dst[plane : 2*plane]
	r := dst[2*plane : 3*plane]
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			r[i] = Normalize(src[x*4])
			g[i] = Normalize(src[x*4+1])
			b[i] = Normalize(src[x*4+2])
		}
	}
}
