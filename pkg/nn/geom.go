package nn

import (
	"image"

	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// The 5 facial landmarks, in this fixed order:
// left eye, right eye, nose, left mouth corner, right mouth corner.
type Landmarks [5]Point

const (
	LandmarkLeftEye = iota
	LandmarkRightEye
	LandmarkNose
	LandmarkLeftMouth
	LandmarkRightMouth
)

// Flatten returns the landmarks as x0,y0,x1,y1,...
func (l *Landmarks) Flatten() []float32 {
	f := make([]float32, 0, 10)
	for _, p := range l {
		f = append(f, p.X, p.Y)
	}
	return f
}

// Box is an axis aligned box with float corners. Boxes are not necessarily
// well formed (X2 >= X1) until they have been regressed and squared.
type Box struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b Box) Width() float32 {
	return b.X2 - b.X1
}

func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

func (b Box) Area() float32 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

func (b Box) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Intersection returns the overlapping area of b and o.
// If the boxes do not overlap, the result is 0.
func (b Box) Intersection(o Box) float32 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)
	if x1 < x2 && y1 < y2 {
		return (x2 - x1) * (y2 - y1)
	}
	return 0
}

// Intersection over Union
func (b Box) IOU(o Box) float32 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Intersection over the area of the smaller box
func (b Box) IOM(o Box) float32 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	smaller := min(b.Area(), o.Area())
	if smaller <= 0 {
		return 0
	}
	return inter / smaller
}

// Regress applies a bounding box regression delta (dx1,dy1,dx2,dy2).
// The X2 and Y2 deltas are both scaled by height. The MTCNN weights we run
// were trained against this convention, so it must not be "fixed" to width.
func (b Box) Regress(reg [4]float32) Box {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	return Box{
		X1: b.X1 + reg[0]*w,
		Y1: b.Y1 + reg[1]*h,
		X2: b.X2 + reg[2]*h,
		Y2: b.Y2 + reg[3]*h,
	}
}

// Square grows the shorter side of the box so that the result is square.
// The origin is rounded down and the far corner rounded up, so all corners
// are integers and X2-X1 == Y2-Y1 exactly.
// When the growth is odd, the extra pixel goes to the start side if the
// original box had less room there than at the end, otherwise to the end.
func (b Box) Square() Box {
	x1 := math32.Floor(b.X1)
	y1 := math32.Floor(b.Y1)
	x2 := math32.Ceil(b.X2)
	y2 := math32.Ceil(b.Y2)
	diff := int((x2 - x1) - (y2 - y1))
	if diff > 0 {
		half := float32(diff / 2)
		y1 -= half
		y2 += half
		if diff%2 != 0 {
			if b.Y1-y1 < y2-b.Y2 {
				y1 -= 1
			} else {
				y2 += 1
			}
		}
	} else if diff < 0 {
		diff = -diff
		half := float32(diff / 2)
		x1 -= half
		x2 += half
		if diff%2 != 0 {
			if b.X1-x1 < x2-b.X2 {
				x1 -= 1
			} else {
				x2 += 1
			}
		}
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// IntRect returns the box rounded to integer pixel coordinates.
// Unlike image.Rect, a malformed box is not canonicalized, so callers can
// detect it with Empty().
func (b Box) IntRect() image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(int(math32.Round(b.X1)), int(math32.Round(b.Y1))),
		Max: image.Pt(int(math32.Round(b.X2)), int(math32.Round(b.Y2))),
	}
}
