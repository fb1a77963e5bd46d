package mtcnn

import (
	"image"
	"image/color"
	"testing"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/perfstats"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// fakeNet records every batch it is given, and produces outputs from fn
type fakeNet struct {
	config nn.ModelConfig
	inputs [][]int
	fn     func(call int, input *tensor.Dense) []*tensor.Dense
	closed bool
}

func (f *fakeNet) Close() {
	f.closed = true
}

func (f *fakeNet) Config() *nn.ModelConfig {
	return &f.config
}

func (f *fakeNet) Forward(input *tensor.Dense) ([]*tensor.Dense, error) {
	f.inputs = append(f.inputs, append([]int{}, input.Shape()...))
	return f.fn(len(f.inputs)-1, input), nil
}

func (f *fakeNet) calls() int {
	return len(f.inputs)
}

// rowsOf returns an [n,k] tensor with every row equal to row
func rowsOf(n int, row ...float32) *tensor.Dense {
	data := make([]float32, 0, n*len(row))
	for i := 0; i < n; i++ {
		data = append(data, row...)
	}
	return nn.NewTensorFrom(data, n, len(row))
}

// A PNet that finds one face at cell (2,3) on the first pyramid scale only
func newFakePNet() *fakeNet {
	return &fakeNet{
		fn: func(call int, input *tensor.Dense) []*tensor.Dense {
			s := input.Shape()
			h := max((s[2]-cellSize)/stride+1, 1)
			w := max((s[3]-cellSize)/stride+1, 1)
			scores := nn.NewTensor(1, 2, h, w)
			regs := nn.NewTensor(1, 4, h, w)
			if call == 0 {
				nn.Float32s(scores)[h*w+3*w+2] = 0.9
			}
			return []*tensor.Dense{scores, regs}
		},
	}
}

func newFakeRNet(score float32) *fakeNet {
	return &fakeNet{
		config: nn.ModelConfig{Width: 24, Height: 24},
		fn: func(call int, input *tensor.Dense) []*tensor.Dense {
			n := input.Shape()[0]
			return []*tensor.Dense{rowsOf(n, 1-score, score), rowsOf(n, 0, 0, 0, 0)}
		},
	}
}

func newFakeONet() *fakeNet {
	return &fakeNet{
		config: nn.ModelConfig{Width: 48, Height: 48},
		fn: func(call int, input *tensor.Dense) []*tensor.Dense {
			n := input.Shape()[0]
			return []*tensor.Dense{
				rowsOf(n, 0.5, 0.25, 0.5, 0.25, 0.5, 0.25, 0.5, 0.25, 0.5, 0.25),
				rowsOf(n, 0.01, 0.99),
				rowsOf(n, 0.1, 0, 0, 0),
			}
		},
	}
}

// Output k nudges x by 0.01*(k+1), except for output 4, which is out of range
func newFakeLNet() *fakeNet {
	return &fakeNet{
		config: nn.ModelConfig{Width: 24, Height: 24, Channels: 15},
		fn: func(call int, input *tensor.Dense) []*tensor.Dense {
			n := input.Shape()[0]
			out := []*tensor.Dense{}
			for k := 0; k < 4; k++ {
				out = append(out, rowsOf(n, 0.5+0.01*float32(k+1), 0.5))
			}
			out = append(out, rowsOf(n, 0.9, 0.5))
			return out
		},
	}
}

func grayImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
		}
	}
	return img
}

type fakeCascade struct {
	pnet, rnet, onet, lnet *fakeNet
}

func newFakeCascade(rnetScore float32) *fakeCascade {
	return &fakeCascade{
		pnet: newFakePNet(),
		rnet: newFakeRNet(rnetScore),
		onet: newFakeONet(),
		lnet: newFakeLNet(),
	}
}

func (f *fakeCascade) networks() Networks {
	return Networks{PNet: f.pnet, RNet: f.rnet, ONet: f.onet, LNet: f.lnet}
}

func TestDetectorEmptyPyramid(t *testing.T) {
	fakes := newFakeCascade(0.95)
	d, err := NewDetector(fakes.networks(), NewParams(), nil)
	require.NoError(t, err)
	// Too small for a 40 pixel face
	faces, err := d.Detect(grayImage(30, 30))
	require.NoError(t, err)
	require.NotNil(t, faces)
	require.Empty(t, faces)
	require.Equal(t, 0, fakes.pnet.calls())
	require.Equal(t, 0, fakes.rnet.calls())
	require.Equal(t, 0, fakes.onet.calls())
	require.Equal(t, 0, fakes.lnet.calls())
}

func TestDetectorRejectedEarly(t *testing.T) {
	fakes := newFakeCascade(0.1)
	d, err := NewDetector(fakes.networks(), NewParams(), nil)
	require.NoError(t, err)
	faces, err := d.Detect(grayImage(100, 100))
	require.NoError(t, err)
	require.Empty(t, faces)
	require.Equal(t, 3, fakes.pnet.calls())
	require.Equal(t, 1, fakes.rnet.calls())
	// RNet rejected everything, so ONet never runs
	require.Equal(t, 0, fakes.onet.calls())
}

func TestDetectorCascade(t *testing.T) {
	fakes := newFakeCascade(0.95)
	stats := perfstats.NewRecorder()
	d, err := NewDetector(fakes.networks(), NewParams(), stats)
	require.NoError(t, err)
	faces, err := d.Detect(grayImage(100, 100))
	require.NoError(t, err)
	require.Len(t, faces, 1)

	// One PNet run per pyramid scale, at the scaled image size
	scales := ScalePyramid(100, 100, NewParams())
	require.Len(t, scales, 3)
	for i, scale := range scales {
		side := int(math32.Ceil(100 * scale))
		require.Equal(t, []int{1, 3, side, side}, fakes.pnet.inputs[i])
	}
	require.Equal(t, [][]int{{1, 3, 24, 24}}, fakes.rnet.inputs)
	require.Equal(t, [][]int{{1, 3, 48, 48}}, fakes.onet.inputs)
	require.Equal(t, 0, fakes.lnet.calls())

	// PNet box (13.33, 20, 51, 57.67) is squared to (13, 20, 51, 58),
	// then ONet regression moves x1 by 0.1 * 38
	f := faces[0]
	require.InDelta(t, 0.99, f.Score, 1e-6)
	require.InDelta(t, 16.8, f.Box.X1, 1e-4)
	require.InDelta(t, 20, f.Box.Y1, 1e-4)
	require.InDelta(t, 51, f.Box.X2, 1e-4)
	require.InDelta(t, 58, f.Box.Y2, 1e-4)
	for _, pt := range f.Landmarks {
		require.InDelta(t, 32, pt.X, 1e-4)
		require.InDelta(t, 29.5, pt.Y, 1e-4)
	}

	times, _ := stats.Snapshot()
	require.Len(t, times, 3)
}

func TestDetectorPreciseLandmarks(t *testing.T) {
	fakes := newFakeCascade(0.95)
	params := NewParams()
	params.PreciseLandmark = true
	d, err := NewDetector(fakes.networks(), params, nil)
	require.NoError(t, err)
	faces, err := d.Detect(grayImage(100, 100))
	require.NoError(t, err)
	require.Len(t, faces, 1)
	require.Equal(t, [][]int{{1, 15, 24, 24}}, fakes.lnet.inputs)

	// Each landmark patch is 11 pixels wide.
	// Landmark j reads LNet output {0,3,2,1,4}[j]. Output 4 is out of range.
	expectX := [5]float32{
		32 + 0.01*1*11,
		32 + 0.01*4*11,
		32 + 0.01*3*11,
		32 + 0.01*2*11,
		32,
	}
	for j, pt := range faces[0].Landmarks {
		require.InDelta(t, expectX[j], pt.X, 1e-3, "landmark %v", j)
		require.InDelta(t, 29.5, pt.Y, 1e-3, "landmark %v", j)
	}
}

func TestNewDetectorValidation(t *testing.T) {
	fakes := newFakeCascade(0.9)
	nets := fakes.networks()
	nets.LNet = nil
	params := NewParams()
	params.PreciseLandmark = true
	_, err := NewDetector(nets, params, nil)
	require.Error(t, err)

	params = NewParams()
	params.Factor = 1
	_, err = NewDetector(fakes.networks(), params, nil)
	require.Error(t, err)

	d, err := NewDetector(fakes.networks(), NewParams(), nil)
	require.NoError(t, err)
	d.Close()
	require.True(t, fakes.pnet.closed)
	require.True(t, fakes.lnet.closed)
}

func TestDecodeCandidates(t *testing.T) {
	scores := nn.NewTensor(1, 2, 2, 3)
	regs := nn.NewTensor(1, 4, 2, 3)
	sd := nn.Float32s(scores)
	rd := nn.Float32s(regs)
	// Face channel at (x=1, y=1) is exactly on the threshold
	sd[6+1*3+1] = 0.6
	// Background channel is ignored
	sd[0] = 0.99
	for c := 0; c < 4; c++ {
		rd[c*6+4] = float32(c) * 0.1
	}
	cands, err := decodeCandidates(0.5, scores, regs, 0.6)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	c := cands[0]
	require.Equal(t, nn.Box{X1: 4, Y1: 4, X2: 27, Y2: 27}, c.Box)
	require.Equal(t, float32(0.6), c.Score)
	require.InDeltaSlice(t, []float32{0, 0.1, 0.2, 0.3}, c.Reg[:], 1e-6)

	_, err = decodeCandidates(0.5, scores, nn.NewTensor(1, 4, 3, 3), 0.6)
	require.Error(t, err)
}
