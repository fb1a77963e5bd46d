package imageops

import (
	"image"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/fogleman/gg"
)

// DrawFaces returns a copy of img with each face box outlined, and its landmarks marked
func DrawFaces(img *image.NRGBA, faces []nn.FaceResult) *image.NRGBA {
	dc := gg.NewContextForImage(img)
	lineWidth := max(1, float64(min(img.Rect.Dx(), img.Rect.Dy()))/200)
	for _, f := range faces {
		b := f.Box
		dc.SetRGB(0, 1, 0)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(float64(b.X1), float64(b.Y1), float64(b.Width()), float64(b.Height()))
		dc.Stroke()
		dc.SetRGB(1, 0, 0)
		for _, p := range f.Landmarks {
			dc.DrawCircle(float64(p.X), float64(p.Y), lineWidth*1.5)
			dc.Fill()
		}
	}
	return FromImage(dc.Image())
}
