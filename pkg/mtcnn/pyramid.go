package mtcnn

// The proposal network looks at 12x12 cells, with a stride of 2
const (
	cellSize = 12
	stride   = 2
)

// ScalePyramid returns the scales at which the proposal network must be run,
// in descending order.
// The first scale maps a face of MinSize pixels onto one 12x12 cell, and the
// last scale still leaves the shorter image side at least 12 pixels long.
// If the image is too small for MinSize, the result is empty.
func ScalePyramid(height, width int, p *Params) []float32 {
	minLen := float32(min(height, width))
	maxLen := float32(max(height, width))
	if minLen <= 0 || p.MinSize <= 0 {
		return nil
	}
	maxScale := float32(cellSize) / float32(p.MinSize)
	if p.Limit > 0 && float32(p.Limit) < maxLen {
		maxScale *= float32(p.Limit) / maxLen
	}
	minScale := float32(cellSize) / minLen

	scales := []float32{}
	if p.Factor <= 0 || p.Factor >= 1 {
		// An invalid factor would never terminate
		if maxScale >= minScale {
			scales = append(scales, maxScale)
		}
		return scales
	}
	for scale := maxScale; scale >= minScale; scale *= p.Factor {
		scales = append(scales, scale)
	}
	return scales
}
