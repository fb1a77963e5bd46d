package recognition

import (
	"fmt"
)

// Merge decides whether faces are fed to the network together with their
// horizontal mirror, and if so, how the two feature vectors are combined.
// The set of implementations is closed: Direct, Concat, Add, Max, Min.
type Merge interface {
	// If true, the batch holds each face followed by its mirror
	Mirror() bool

	// Width of a merged feature vector, given the network's feature width
	Width(single int) int

	String() string

	// merge reduces the network output rows (one or two per face) to one row per face
	merge(data []float32, faces, width int) [][]float32
}

// Direct does no mirroring
type Direct struct{}

// Concat appends the mirror's features to the face's features
type Concat struct{}

// Add sums the face and mirror features
type Add struct{}

// Max keeps the element wise maximum of face and mirror features
type Max struct{}

// Min keeps the element wise minimum of face and mirror features
type Min struct{}

// ParseMerge maps the configured mirror mode onto a Merge.
// If mirroring is disabled, the mode is ignored and the result is Direct.
func ParseMerge(enable bool, mode string) (Merge, error) {
	if !enable {
		return Direct{}, nil
	}
	switch mode {
	case "concat":
		return Concat{}, nil
	case "add":
		return Add{}, nil
	case "max":
		return Max{}, nil
	case "min":
		return Min{}, nil
	}
	return nil, fmt.Errorf("Unsupported mirror mode '%v'. Must be one of concat, add, max, min", mode)
}

func (Direct) Mirror() bool { return false }
func (Concat) Mirror() bool { return true }
func (Add) Mirror() bool    { return true }
func (Max) Mirror() bool    { return true }
func (Min) Mirror() bool    { return true }

func (Direct) Width(single int) int { return single }
func (Concat) Width(single int) int { return single * 2 }
func (Add) Width(single int) int    { return single }
func (Max) Width(single int) int    { return single }
func (Min) Width(single int) int    { return single }

func (Direct) String() string { return "direct" }
func (Concat) String() string { return "concat" }
func (Add) String() string    { return "add" }
func (Max) String() string    { return "max" }
func (Min) String() string    { return "min" }

func (Direct) merge(data []float32, faces, width int) [][]float32 {
	out := make([][]float32, faces)
	for i := range out {
		out[i] = append([]float32(nil), data[i*width:(i+1)*width]...)
	}
	return out
}

func (Concat) merge(data []float32, faces, width int) [][]float32 {
	out := make([][]float32, faces)
	for i := range out {
		// Rows 2i and 2i+1 are adjacent, so the pair is already a concatenation
		out[i] = append([]float32(nil), data[2*i*width:(2*i+2)*width]...)
	}
	return out
}

func (Add) merge(data []float32, faces, width int) [][]float32 {
	return mergePairs(data, faces, width, func(a, b float32) float32 { return a + b })
}

func (Max) merge(data []float32, faces, width int) [][]float32 {
	return mergePairs(data, faces, width, func(a, b float32) float32 { return max(a, b) })
}

func (Min) merge(data []float32, faces, width int) [][]float32 {
	return mergePairs(data, faces, width, func(a, b float32) float32 { return min(a, b) })
}

func mergePairs(data []float32, faces, width int, fn func(a, b float32) float32) [][]float32 {
	out := make([][]float32, faces)
	for i := range out {
		face := data[2*i*width : (2*i+1)*width]
		mirror := data[(2*i+1)*width : (2*i+2)*width]
		row := make([]float32, width)
		for k := range row {
			row[k] = fn(face[k], mirror[k])
		}
		out[i] = row
	}
	return out
}
