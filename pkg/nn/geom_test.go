package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
	require.InDelta(t, 25.0/175.0, a.IOU(b), 1e-6)
	require.InDelta(t, 25.0/100.0, a.IOM(b), 1e-6)

	// Touching edges do not overlap
	c := Box{X1: 10, Y1: 0, X2: 20, Y2: 10}
	require.Equal(t, float32(0), a.IOU(c))
	require.Equal(t, float32(0), a.IOM(c))

	// Degenerate boxes never divide by zero
	z := Box{X1: 3, Y1: 3, X2: 3, Y2: 3}
	require.Equal(t, float32(0), z.IOU(z))
	require.Equal(t, float32(0), z.IOM(a))

	inner := Box{X1: 2, Y1: 2, X2: 4, Y2: 4}
	require.InDelta(t, 1.0, a.IOM(inner), 1e-6)
	require.InDelta(t, 0.04, a.IOU(inner), 1e-6)
}

func TestRegress(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 30, Y2: 60} // w=20, h=40
	r := b.Regress([4]float32{0.1, 0.1, 0.1, -0.1})
	require.InDelta(t, 12, r.X1, 1e-5)
	require.InDelta(t, 24, r.Y1, 1e-5)
	// x2 delta is scaled by height, not width
	require.InDelta(t, 34, r.X2, 1e-5)
	require.InDelta(t, 56, r.Y2, 1e-5)
}

func TestSquare(t *testing.T) {
	// Wide box, odd growth
	b := Box{X1: 0.5, Y1: 0.5, X2: 10.2, Y2: 5.3}
	s := b.Square()
	require.Equal(t, Box{X1: 0, Y1: -3, X2: 11, Y2: 8}, s)

	// Tall box, even growth
	b = Box{X1: 10, Y1: 10, X2: 14, Y2: 20}
	s = b.Square()
	require.Equal(t, Box{X1: 7, Y1: 10, X2: 17, Y2: 20}, s)

	// Already square boxes are unchanged
	b = Box{X1: 3, Y1: 4, X2: 13, Y2: 14}
	require.Equal(t, b, b.Square())

	boxes := []Box{
		{X1: -5.7, Y1: 3.2, X2: 20.1, Y2: 9.9},
		{X1: 100.01, Y1: 50.5, X2: 101, Y2: 300.7},
		{X1: 0, Y1: 0, X2: 0.3, Y2: 0.2},
		{X1: 7.5, Y1: -12.25, X2: 33.75, Y2: 2},
		{X1: 1e3, Y1: 2e3, X2: 1.5e3, Y2: 2.2e3},
	}
	for _, b := range boxes {
		s := b.Square()
		require.Equal(t, s.X2-s.X1, s.Y2-s.Y1, "box %v squared to %v", b, s)
		// The squared box always contains the original
		require.LessOrEqual(t, s.X1, b.X1)
		require.LessOrEqual(t, s.Y1, b.Y1)
		require.GreaterOrEqual(t, s.X2, b.X2)
		require.GreaterOrEqual(t, s.Y2, b.Y2)
	}
}

func TestIntRect(t *testing.T) {
	r := Box{X1: 1.4, Y1: 2.6, X2: 10.5, Y2: 8.2}.IntRect()
	require.Equal(t, 1, r.Min.X)
	require.Equal(t, 3, r.Min.Y)
	require.Equal(t, 11, r.Max.X)
	require.Equal(t, 8, r.Max.Y)

	// Malformed boxes stay malformed
	r = Box{X1: 10, Y1: 10, X2: 5, Y2: 5}.IntRect()
	require.True(t, r.Empty())
}
