package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// NewTensor allocates a zeroed float32 tensor with shape [n,c,h,w]
func NewTensor(n, c, h, w int) *tensor.Dense {
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(make([]float32, n*c*h*w)))
}

// NewTensorFrom wraps data in a tensor of the given shape
func NewTensorFrom(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Float32s returns the backing data of a float32 tensor
func Float32s(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

// Rows views t as a matrix with one row per batch entry.
// Shapes [N,K] and [N,K,1,1] are both returned as N rows of K.
func Rows(t *tensor.Dense) (rows, cols int, data []float32) {
	data = Float32s(t)
	rows = t.Shape()[0]
	if rows == 0 {
		return 0, 0, data
	}
	return rows, len(data) / rows, data
}

// CheckRows returns an error if t does not hold at least n rows of at least k values
func CheckRows(t *tensor.Dense, n, k int) error {
	rows, cols, _ := Rows(t)
	if rows != n || cols < k {
		return fmt.Errorf("Unexpected output shape %v, expected %v rows of %v", t.Shape(), n, k)
	}
	return nil
}
