package mtcnn

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/nn"
	"gorgonia.org/tensor"
)

// Default network input sizes, used when a model config doesn't specify one
const (
	refineSize   = 24
	outputSize   = 48
	landmarkSize = 24
)

// LNet emits one (dx,dy) output per landmark, but not in landmark order.
// Landmark j is read from output landmarkOutputOrder[j].
var landmarkOutputOrder = [5]int{0, 3, 2, 1, 4}

// A landmark offset (relative to its patch, centered on 0) larger than this
// is a network failure, and is ignored.
const maxLandmarkOffset = 0.35

func inputSize(net nn.Network, def int) (w, h int) {
	cfg := net.Config()
	w, h = def, def
	if cfg != nil && cfg.Width > 0 && cfg.Height > 0 {
		w, h = cfg.Width, cfg.Height
	}
	return
}

func checkOutputs(name string, out []*tensor.Dense, expect int) error {
	if len(out) < expect {
		return fmt.Errorf("%v produced %v outputs, but %v are required", name, len(out), expect)
	}
	return nil
}

// Run PNet over the image pyramid
func (d *Detector) proposal(img *image.NRGBA) ([]nn.Candidate, error) {
	height, width := img.Rect.Dy(), img.Rect.Dx()
	all := []nn.Candidate{}
	for _, scale := range ScalePyramid(height, width, &d.params) {
		hs := int(math32.Ceil(float32(height) * scale))
		ws := int(math32.Ceil(float32(width) * scale))
		scaled := imageops.Resize(img, ws, hs)
		out, err := d.nets.PNet.Forward(imageops.ToTensor([]*image.NRGBA{scaled}))
		if err != nil {
			return nil, err
		}
		if err := checkOutputs("PNet", out, 2); err != nil {
			return nil, err
		}
		cands, err := decodeCandidates(scale, out[0], out[1], d.params.Thresholds[0])
		if err != nil {
			return nil, err
		}
		all = append(all, nn.NMS(cands, proposalScaleNMS, nn.OverlapIoU)...)
	}
	all = nn.NMS(all, proposalNMS, nn.OverlapIoU)
	regressAll(all)
	return all, nil
}

// decodeCandidates turns the PNet score map [1,2,H,W] and regression map
// [1,4,H,W] into boxes in the coordinates of the original image.
func decodeCandidates(scale float32, scores, regs *tensor.Dense, threshold float32) ([]nn.Candidate, error) {
	ss := scores.Shape()
	rs := regs.Shape()
	if len(ss) != 4 || len(rs) != 4 || ss[1] < 2 || rs[1] < 4 || ss[2] != rs[2] || ss[3] != rs[3] {
		return nil, fmt.Errorf("Unexpected PNet output shapes %v and %v", ss, rs)
	}
	h, w := ss[2], ss[3]
	plane := h * w
	sd := nn.Float32s(scores)
	rd := nn.Float32s(regs)
	cands := []nn.Candidate{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			// Channel 1 is the face channel
			score := sd[plane+i]
			if score < threshold {
				continue
			}
			cands = append(cands, nn.Candidate{
				Box: nn.Box{
					X1: float32(x*stride) / scale,
					Y1: float32(y*stride) / scale,
					X2: float32(x*stride+cellSize-1)/scale + 1,
					Y2: float32(y*stride+cellSize-1)/scale + 1,
				},
				Score: score,
				Reg:   [4]float32{rd[i], rd[plane+i], rd[2*plane+i], rd[3*plane+i]},
			})
		}
	}
	return cands, nil
}

// Run RNet on the proposals
func (d *Detector) refine(img *image.NRGBA, cands []nn.Candidate) ([]nn.Candidate, error) {
	w, h := inputSize(d.nets.RNet, refineSize)
	out, err := d.nets.RNet.Forward(imageops.ToTensor(cropSquared(img, cands, w, h)))
	if err != nil {
		return nil, err
	}
	if err := checkOutputs("RNet", out, 2); err != nil {
		return nil, err
	}
	n := len(cands)
	if err := nn.CheckRows(out[0], n, 2); err != nil {
		return nil, err
	}
	if err := nn.CheckRows(out[1], n, 4); err != nil {
		return nil, err
	}
	_, sc, sd := nn.Rows(out[0])
	_, rc, rd := nn.Rows(out[1])

	keep := make([]nn.Candidate, 0, n)
	for i, c := range cands {
		score := sd[i*sc+1]
		if score < d.params.Thresholds[1] {
			continue
		}
		c.Score = score
		c.Reg = [4]float32{rd[i*rc], rd[i*rc+1], rd[i*rc+2], rd[i*rc+3]}
		keep = append(keep, c)
	}
	keep = nn.NMS(keep, refineNMS, nn.OverlapIoU)
	regressAll(keep)
	return keep, nil
}

// Run ONet on the refined boxes, which also produces the landmarks
func (d *Detector) output(img *image.NRGBA, cands []nn.Candidate) ([]nn.Candidate, error) {
	w, h := inputSize(d.nets.ONet, outputSize)
	out, err := d.nets.ONet.Forward(imageops.ToTensor(cropSquared(img, cands, w, h)))
	if err != nil {
		return nil, err
	}
	if err := checkOutputs("ONet", out, 3); err != nil {
		return nil, err
	}
	n := len(cands)
	if err := nn.CheckRows(out[0], n, 10); err != nil {
		return nil, err
	}
	if err := nn.CheckRows(out[1], n, 2); err != nil {
		return nil, err
	}
	if err := nn.CheckRows(out[2], n, 4); err != nil {
		return nil, err
	}
	_, pc, pd := nn.Rows(out[0])
	_, sc, sd := nn.Rows(out[1])
	_, rc, rd := nn.Rows(out[2])

	keep := make([]nn.Candidate, 0, n)
	for i, c := range cands {
		score := sd[i*sc+1]
		if score < d.params.Thresholds[2] {
			continue
		}
		c.Score = score
		c.Reg = [4]float32{rd[i*rc], rd[i*rc+1], rd[i*rc+2], rd[i*rc+3]}
		// Landmarks are relative to the squared box that was fed to the network
		bw := c.Box.Width()
		bh := c.Box.Height()
		for j := range c.Landmarks {
			c.Landmarks[j] = nn.Point{
				X: pd[i*pc+2*j]*bw + c.Box.X1,
				Y: pd[i*pc+2*j+1]*bh + c.Box.Y1,
			}
		}
		keep = append(keep, c)
	}
	keep = nn.NMS(keep, outputNMS, nn.OverlapIoM)
	regressAll(keep)
	return keep, nil
}

// Run LNet on a patch around each landmark, and nudge the landmarks
func (d *Detector) landmark(img *image.NRGBA, cands []nn.Candidate) ([]nn.Candidate, error) {
	w, h := inputSize(d.nets.LNet, landmarkSize)
	n := len(cands)
	groups := make([][]*image.NRGBA, n)
	patchSizes := make([][5]float32, n)
	for i, c := range cands {
		patchw := max(c.Box.Width(), c.Box.Height())
		half := patchw * 0.25 * 0.5
		groups[i] = make([]*image.NRGBA, 5)
		for j, pt := range c.Landmarks {
			patch := nn.Box{X1: pt.X - half, Y1: pt.Y - half, X2: pt.X + half, Y2: pt.Y + half}.Square()
			patchSizes[i][j] = float32(int(patch.X2 - patch.X1))
			groups[i][j] = imageops.Resize(imageops.CropPadded(img, patch.IntRect()), w, h)
		}
	}

	out, err := d.nets.LNet.Forward(imageops.ToTensorStacked(groups))
	if err != nil {
		return nil, err
	}
	if err := checkOutputs("LNet", out, 5); err != nil {
		return nil, err
	}
	for _, o := range out[:5] {
		if err := nn.CheckRows(o, n, 2); err != nil {
			return nil, err
		}
	}

	for i := range cands {
		for j := range cands[i].Landmarks {
			_, cols, data := nn.Rows(out[landmarkOutputOrder[j]])
			offX := data[i*cols] - 0.5
			offY := data[i*cols+1] - 0.5
			if math32.Abs(offX) <= maxLandmarkOffset && math32.Abs(offY) <= maxLandmarkOffset {
				cands[i].Landmarks[j].X += offX * patchSizes[i][j]
				cands[i].Landmarks[j].Y += offY * patchSizes[i][j]
			}
		}
	}
	return cands, nil
}

// Square every candidate box (in place), and return a w x h crop of each
func cropSquared(img *image.NRGBA, cands []nn.Candidate, w, h int) []*image.NRGBA {
	patches := make([]*image.NRGBA, len(cands))
	for i := range cands {
		cands[i].Box = cands[i].Box.Square()
		patches[i] = imageops.Resize(imageops.CropPadded(img, cands[i].Box.IntRect()), w, h)
	}
	return patches
}

func regressAll(cands []nn.Candidate) {
	for i := range cands {
		cands[i].Box = cands[i].Box.Regress(cands[i].Reg)
	}
}
