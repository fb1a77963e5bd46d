package recognition

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// PCA is a fitted linear projection, applied to merged feature vectors
type PCA struct {
	mean       *mat.VecDense // D
	components *mat.Dense    // K x D
}

// pcaFile is the on-disk format of a PCA model
type pcaFile struct {
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

func LoadPCA(filename string) (*PCA, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading PCA model %v: %w", filename, err)
	}
	f := pcaFile{}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("Error parsing PCA model %v: %w", filename, err)
	}
	return NewPCA(f.Mean, f.Components)
}

// NewPCA creates a projection from a mean vector of length D, and K
// component rows of length D.
func NewPCA(mean []float64, components [][]float64) (*PCA, error) {
	d := len(mean)
	if d == 0 || len(components) == 0 {
		return nil, fmt.Errorf("PCA model is empty")
	}
	flat := make([]float64, 0, len(components)*d)
	for i, c := range components {
		if len(c) != d {
			return nil, fmt.Errorf("PCA component %v has length %v, but the mean has length %v", i, len(c), d)
		}
		flat = append(flat, c...)
	}
	return &PCA{
		mean:       mat.NewVecDense(d, append([]float64(nil), mean...)),
		components: mat.NewDense(len(components), d, flat),
	}, nil
}

// Length of the vectors that Project accepts
func (p *PCA) InputWidth() int {
	return p.mean.Len()
}

// Length of the vectors that Project returns
func (p *PCA) OutputWidth() int {
	r, _ := p.components.Dims()
	return r
}

// Project computes (x - mean) * components^T for every row
func (p *PCA) Project(features [][]float32) ([][]float32, error) {
	if len(features) == 0 {
		return [][]float32{}, nil
	}
	d := p.InputWidth()
	x := mat.NewDense(len(features), d, nil)
	for i, f := range features {
		if len(f) != d {
			return nil, fmt.Errorf("PCA expects features of length %v, but got %v", d, len(f))
		}
		row := x.RawRowView(i)
		for k, v := range f {
			row[k] = float64(v) - p.mean.AtVec(k)
		}
	}
	var y mat.Dense
	y.Mul(x, p.components.T())
	out := make([][]float32, len(features))
	for i := range out {
		out[i] = toFloat32(y.RawRowView(i))
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
