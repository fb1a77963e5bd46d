package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// OverlapMetric selects how NMS measures the overlap of two boxes
type OverlapMetric int

const (
	OverlapIoU OverlapMetric = iota // Intersection over union
	OverlapIoM                      // Intersection over the smaller area
)

func (m OverlapMetric) String() string {
	switch m {
	case OverlapIoU:
		return "IoU"
	case OverlapIoM:
		return "IoM"
	}
	return "unknown"
}

func (m OverlapMetric) Overlap(a, b Box) float32 {
	if m == OverlapIoM {
		return a.IOM(b)
	}
	return a.IOU(b)
}

// NMS performs non-maximum suppression.
// The candidates are sorted in place by descending score (stable, so equal
// scores keep their input order). Walking that order, every surviving
// candidate suppresses all lower ranked candidates whose overlap with it
// exceeds threshold.
// Returns the survivors, in descending score order.
func NMS(cands []Candidate, threshold float32, metric OverlapMetric) []Candidate {
	if len(cands) <= 1 {
		return cands
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(cands))
	for _, c := range cands {
		fb.Add(min(c.Box.X1, c.Box.X2), min(c.Box.Y1, c.Box.Y2), max(c.Box.X1, c.Box.X2), max(c.Box.Y1, c.Box.Y2))
	}
	fb.Finish()

	suppressed := make([]bool, len(cands))
	keep := make([]Candidate, 0, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		keep = append(keep, cands[i])
		b := cands[i].Box
		for _, j := range fb.Search(min(b.X1, b.X2), min(b.Y1, b.Y2), max(b.X1, b.X2), max(b.Y1, b.Y2)) {
			// Only lower ranked candidates can be suppressed by i
			if j <= i || suppressed[j] {
				continue
			}
			if metric.Overlap(b, cands[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
