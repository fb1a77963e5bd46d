package recognition

import (
	"gonum.org/v1/gonum/mat"
)

// Similarity is the cosine similarity of two feature vectors, mapped from
// [-1,1] onto [0,1]. Vectors of different length, or with zero magnitude,
// have a similarity of 0.
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	va := mat.NewVecDense(len(a), toFloat64(a))
	vb := mat.NewVecDense(len(b), toFloat64(b))
	na := mat.Norm(va, 2)
	nb := mat.Norm(vb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(0.5 + 0.5*mat.Dot(va, vb)/(na*nb))
}
