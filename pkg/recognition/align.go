package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

var ErrDegenerateLandmarks = errors.New("Landmarks are degenerate, and cannot be aligned")

// Aligner warps a face so that its landmarks land on a reference template
type Aligner struct {
	ref    nn.Landmarks
	width  int
	height int
}

// NewAligner takes the reference template as 10 values (x0,y0,x1,y1,...),
// in the coordinates of a width x height face crop.
func NewAligner(refPoints []float32, width, height int) (*Aligner, error) {
	if len(refPoints) != 10 {
		return nil, fmt.Errorf("Reference landmarks must have 10 values, not %v", len(refPoints))
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("Invalid aligned face size %v x %v", width, height)
	}
	a := &Aligner{width: width, height: height}
	for i := range a.ref {
		a.ref[i] = nn.Point{X: refPoints[2*i], Y: refPoints[2*i+1]}
	}
	return a, nil
}

func (a *Aligner) Size() (width, height int) {
	return a.width, a.height
}

// Align returns the face crop whose landmarks are pts
func (a *Aligner) Align(img *image.NRGBA, pts nn.Landmarks) (*image.NRGBA, error) {
	m, err := EstimateSimilarity(pts, a.ref)
	if err != nil {
		return nil, err
	}
	return imageops.WarpAffine(img, m, a.width, a.height), nil
}

// EstimateSimilarity finds the rotation, uniform scale and translation that
// best maps src onto dst, as a 2x3 matrix in row major order.
// The primary estimate never produces a reflection. If it cannot be
// computed, a plain least squares fit is used instead.
func EstimateSimilarity(src, dst nn.Landmarks) ([6]float64, error) {
	if m, err := umeyama(src, dst); err == nil {
		return m, nil
	}
	return leastSquaresSimilarity(src, dst)
}

// Umeyama's closed form least squares similarity, with the reflection check
func umeyama(src, dst nn.Landmarks) ([6]float64, error) {
	n := float64(len(src))
	var msx, msy, mdx, mdy float64
	for i := range src {
		msx += float64(src[i].X)
		msy += float64(src[i].Y)
		mdx += float64(dst[i].X)
		mdy += float64(dst[i].Y)
	}
	msx /= n
	msy /= n
	mdx /= n
	mdy /= n

	// cov = sum(d * s^T) / n
	var varSrc float64
	cov := mat.NewDense(2, 2, nil)
	for i := range src {
		sx := float64(src[i].X) - msx
		sy := float64(src[i].Y) - msy
		dx := float64(dst[i].X) - mdx
		dy := float64(dst[i].Y) - mdy
		varSrc += sx*sx + sy*sy
		cov.Set(0, 0, cov.At(0, 0)+dx*sx)
		cov.Set(0, 1, cov.At(0, 1)+dx*sy)
		cov.Set(1, 0, cov.At(1, 0)+dy*sx)
		cov.Set(1, 1, cov.At(1, 1)+dy*sy)
	}
	varSrc /= n
	cov.Scale(1/n, cov)
	if varSrc < 1e-9 {
		return [6]float64{}, ErrDegenerateLandmarks
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return [6]float64{}, errors.New("SVD failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)
	d := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		d = -1
	}
	var r mat.Dense
	r.Product(&u, mat.NewDense(2, 2, []float64{1, 0, 0, d}), v.T())

	scale := (sv[0] + d*sv[1]) / varSrc
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return [6]float64{}, ErrDegenerateLandmarks
	}
	a := scale * r.At(0, 0)
	b := scale * r.At(0, 1)
	c := scale * r.At(1, 0)
	e := scale * r.At(1, 1)
	return [6]float64{
		a, b, mdx - (a*msx + b*msy),
		c, e, mdy - (c*msx + e*msy),
	}, nil
}

// Solve x' = a*x - b*y + tx, y' = b*x + a*y + ty in the least squares sense
func leastSquaresSimilarity(src, dst nn.Landmarks) ([6]float64, error) {
	n := len(src)
	A := mat.NewDense(2*n, 4, nil)
	y := mat.NewVecDense(2*n, nil)
	for i := range src {
		x0 := float64(src[i].X)
		y0 := float64(src[i].Y)
		A.SetRow(2*i, []float64{x0, -y0, 1, 0})
		A.SetRow(2*i+1, []float64{y0, x0, 0, 1})
		y.SetVec(2*i, float64(dst[i].X))
		y.SetVec(2*i+1, float64(dst[i].Y))
	}
	var p mat.VecDense
	if err := p.SolveVec(A, y); err != nil {
		return [6]float64{}, fmt.Errorf("%w: %v", ErrDegenerateLandmarks, err)
	}
	a, b, tx, ty := p.AtVec(0), p.AtVec(1), p.AtVec(2), p.AtVec(3)
	return [6]float64{a, -b, tx, b, a, ty}, nil
}
