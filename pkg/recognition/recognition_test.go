package recognition

import (
	"image"
	"math"
	"testing"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// A commonly used 96x112 face template
var testRefPoints = []float32{
	30.2946, 51.6963,
	65.5318, 51.5014,
	48.0252, 71.7366,
	33.5493, 92.3655,
	62.7299, 92.2041,
}

// fakeNet returns row r = [r, r+0.5, ...] of the given width, so that the
// merge of rows can be checked
type fakeNet struct {
	width   int
	batches []int
	closed  bool
}

func (f *fakeNet) Close() {
	f.closed = true
}

func (f *fakeNet) Config() *nn.ModelConfig {
	return &nn.ModelConfig{Width: 96, Height: 112, Channels: 3}
}

func (f *fakeNet) Forward(input *tensor.Dense) ([]*tensor.Dense, error) {
	n := input.Shape()[0]
	f.batches = append(f.batches, n)
	data := make([]float32, n*f.width)
	for r := 0; r < n; r++ {
		for k := 0; k < f.width; k++ {
			data[r*f.width+k] = float32(r) + float32(k)*0.5
		}
	}
	return []*tensor.Dense{nn.NewTensorFrom(data, n, f.width, 1, 1)}, nil
}

func blankFaces(n int) []*image.NRGBA {
	faces := make([]*image.NRGBA, n)
	for i := range faces {
		faces[i] = image.NewNRGBA(image.Rect(0, 0, 96, 112))
	}
	return faces
}

func TestParseMerge(t *testing.T) {
	for _, mode := range []string{"concat", "add", "max", "min"} {
		m, err := ParseMerge(true, mode)
		require.NoError(t, err)
		require.Equal(t, mode, m.String())
		require.True(t, m.Mirror())
	}
	m, err := ParseMerge(false, "bogus")
	require.NoError(t, err)
	require.Equal(t, Direct{}, m)
	require.False(t, m.Mirror())

	_, err = ParseMerge(true, "average")
	require.Error(t, err)
	_, err = ParseMerge(true, "")
	require.Error(t, err)
}

func TestMergeShapes(t *testing.T) {
	const width = 4
	for _, m := range []Merge{Direct{}, Concat{}, Add{}, Max{}, Min{}} {
		for _, numFaces := range []int{0, 1, 3} {
			net := &fakeNet{width: width}
			e, err := NewExtractor(net, m, nil, testRefPoints, nil)
			require.NoError(t, err)
			features, err := e.Extract(blankFaces(numFaces))
			require.NoError(t, err)
			require.Len(t, features, numFaces, "%v", m)
			for _, f := range features {
				require.Len(t, f, m.Width(width))
			}
			if numFaces == 0 {
				require.Empty(t, net.batches)
			} else if m.Mirror() {
				require.Equal(t, []int{2 * numFaces}, net.batches)
			} else {
				require.Equal(t, []int{numFaces}, net.batches)
			}
		}
	}
}

func TestMergeValues(t *testing.T) {
	// Rows 2 and 3 are face 1 and its mirror
	data := []float32{
		0, 10,
		1, 11,
		5, 2,
		3, 4,
	}
	require.Equal(t, [][]float32{{0, 10, 1, 11}, {5, 2, 3, 4}}, Concat{}.merge(data, 2, 2))
	require.Equal(t, [][]float32{{1, 21}, {8, 6}}, Add{}.merge(data, 2, 2))
	require.Equal(t, [][]float32{{1, 11}, {5, 4}}, Max{}.merge(data, 2, 2))
	require.Equal(t, [][]float32{{0, 10}, {3, 2}}, Min{}.merge(data, 2, 2))
	require.Equal(t, [][]float32{{0, 10}, {1, 11}}, Direct{}.merge(data, 2, 2))
}

func TestSimilarity(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	require.InDelta(t, 1.0, Similarity(a, a), 1e-6)
	neg := []float32{-0.3, 1.2, -4.5, -0.01}
	require.InDelta(t, 0.0, Similarity(a, neg), 1e-6)
	require.InDelta(t, 0.5, Similarity([]float32{1, 0}, []float32{0, 3}), 1e-6)
	require.Equal(t, float32(0), Similarity([]float32{0, 0}, []float32{1, 1}))
	require.Equal(t, float32(0), Similarity([]float32{1}, []float32{1, 1}))
}

func TestPCA(t *testing.T) {
	p, err := NewPCA([]float64{1, 1}, [][]float64{{1, 0}, {0, 2}, {1, 1}})
	require.NoError(t, err)
	require.Equal(t, 2, p.InputWidth())
	require.Equal(t, 3, p.OutputWidth())
	out, err := p.Project([][]float32{{3, 5}, {1, 1}})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2, 8, 6}, {0, 0, 0}}, out)

	_, err = p.Project([][]float32{{1, 2, 3}})
	require.Error(t, err)

	_, err = NewPCA([]float64{1, 1}, [][]float64{{1}})
	require.Error(t, err)
}

func TestExtractWithPCA(t *testing.T) {
	p, err := NewPCA([]float64{0, 0, 0, 0}, [][]float64{{1, 1, 1, 1}})
	require.NoError(t, err)
	net := &fakeNet{width: 2}
	e, err := NewExtractor(net, Concat{}, p, testRefPoints, nil)
	require.NoError(t, err)
	features, err := e.Extract(blankFaces(1))
	require.NoError(t, err)
	// Rows [0, 0.5] and [1, 1.5], concatenated then summed
	require.Equal(t, [][]float32{{3}}, features)
}

func transformPoints(pts nn.Landmarks, m [6]float64) nn.Landmarks {
	var out nn.Landmarks
	for i, p := range pts {
		x, y := float64(p.X), float64(p.Y)
		out[i] = nn.Point{
			X: float32(m[0]*x + m[1]*y + m[2]),
			Y: float32(m[3]*x + m[4]*y + m[5]),
		}
	}
	return out
}

func refLandmarks() nn.Landmarks {
	var ref nn.Landmarks
	for i := range ref {
		ref[i] = nn.Point{X: testRefPoints[2*i], Y: testRefPoints[2*i+1]}
	}
	return ref
}

func TestEstimateSimilarity(t *testing.T) {
	ref := refLandmarks()
	angle := 30 * math.Pi / 180
	s := 2.5
	forward := [6]float64{
		s * math.Cos(angle), -s * math.Sin(angle), 140,
		s * math.Sin(angle), s * math.Cos(angle), -20,
	}
	detected := transformPoints(ref, forward)

	for _, estimate := range []func(src, dst nn.Landmarks) ([6]float64, error){umeyama, leastSquaresSimilarity, EstimateSimilarity} {
		m, err := estimate(detected, ref)
		require.NoError(t, err)
		back := transformPoints(detected, m)
		for i := range ref {
			require.InDelta(t, ref[i].X, back[i].X, 1e-3)
			require.InDelta(t, ref[i].Y, back[i].Y, 1e-3)
		}
		// Rotation and uniform scale only
		require.InDelta(t, m[0], m[4], 1e-6)
		require.InDelta(t, m[1], -m[3], 1e-6)
	}
}

func TestEstimateSimilarityNoReflection(t *testing.T) {
	ref := refLandmarks()
	mirrored := transformPoints(ref, [6]float64{-1, 0, 200, 0, 1, 0})
	m, err := umeyama(mirrored, ref)
	require.NoError(t, err)
	require.Greater(t, m[0]*m[4]-m[1]*m[3], 0.0)
}

func TestEstimateSimilarityDegenerate(t *testing.T) {
	var same nn.Landmarks
	for i := range same {
		same[i] = nn.Point{X: 10, Y: 10}
	}
	_, err := EstimateSimilarity(same, refLandmarks())
	require.ErrorIs(t, err, ErrDegenerateLandmarks)
}

func TestVerify(t *testing.T) {
	net := &fakeNet{width: 8}
	e, err := NewExtractor(net, Direct{}, nil, testRefPoints, nil)
	require.NoError(t, err)
	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	sim, err := e.Verify(img, refLandmarks(), img, refLandmarks())
	require.NoError(t, err)
	require.Equal(t, []int{2}, net.batches)
	require.Greater(t, sim, float32(0.5))
	require.LessOrEqual(t, sim, float32(1.0001))

	_, err = NewAligner(testRefPoints[:8], 96, 112)
	require.Error(t, err)

	e.Close()
	require.True(t, net.closed)
}
