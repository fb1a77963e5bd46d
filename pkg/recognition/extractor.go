package recognition

// Package recognition turns aligned face crops into feature vectors, and
// compares feature vectors.

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/perfstats"
)

// Extractor runs the recognition network.
// An Extractor is not safe for concurrent use, because its network is not.
type Extractor struct {
	net     nn.Network
	merge   Merge
	pca     *PCA
	aligner *Aligner
	stats   *perfstats.Recorder
}

// NewExtractor takes ownership of net. pca and stats may be nil.
// refPoints is the landmark template (10 values) in the coordinates of the
// network's input image.
func NewExtractor(net nn.Network, merge Merge, pca *PCA, refPoints []float32, stats *perfstats.Recorder) (*Extractor, error) {
	if net == nil || merge == nil {
		return nil, errors.New("Recognition network and merge mode are required")
	}
	cfg := net.Config()
	aligner, err := NewAligner(refPoints, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		net:     net,
		merge:   merge,
		pca:     pca,
		aligner: aligner,
		stats:   stats,
	}, nil
}

func (e *Extractor) Close() {
	e.net.Close()
}

func (e *Extractor) Merge() Merge {
	return e.merge
}

// Align warps img so that pts land on the reference template
func (e *Extractor) Align(img *image.NRGBA, pts nn.Landmarks) (*image.NRGBA, error) {
	return e.aligner.Align(img, pts)
}

// AlignFaces aligns every detected face in img
func (e *Extractor) AlignFaces(img *image.NRGBA, faces []nn.FaceResult) ([]*image.NRGBA, error) {
	start := time.Now()
	aligned := make([]*image.NRGBA, 0, len(faces))
	for i, f := range faces {
		a, err := e.aligner.Align(img, f.Landmarks)
		if err != nil {
			return nil, fmt.Errorf("Face %v: %w", i, err)
		}
		aligned = append(aligned, a)
	}
	if e.stats != nil && len(faces) != 0 {
		e.stats.AddTime("recognition.align", time.Since(start))
	}
	return aligned, nil
}

// Extract returns one feature vector per aligned face.
// An empty input produces an empty result, without running the network.
func (e *Extractor) Extract(faces []*image.NRGBA) ([][]float32, error) {
	if len(faces) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	w, h := e.aligner.Size()
	batch := make([]*image.NRGBA, 0, 2*len(faces))
	for _, f := range faces {
		f = imageops.Resize(f, w, h)
		batch = append(batch, f)
		if e.merge.Mirror() {
			batch = append(batch, imageops.FlipH(f))
		}
	}

	out, err := e.net.Forward(imageops.ToTensor(batch))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("Recognition network produced no outputs")
	}
	rows, cols, data := nn.Rows(out[0])
	if rows != len(batch) || cols == 0 {
		return nil, fmt.Errorf("Recognition network output has shape %v, but batch size is %v", out[0].Shape(), len(batch))
	}
	features := e.merge.merge(data, len(faces), cols)
	if e.pca != nil {
		if features, err = e.pca.Project(features); err != nil {
			return nil, err
		}
	}
	if e.stats != nil {
		e.stats.AddTime("recognition.extract", time.Since(start))
	}
	return features, nil
}

// Verify aligns the face in each image, and returns their similarity
func (e *Extractor) Verify(img1 *image.NRGBA, pts1 nn.Landmarks, img2 *image.NRGBA, pts2 nn.Landmarks) (float32, error) {
	a1, err := e.aligner.Align(img1, pts1)
	if err != nil {
		return 0, err
	}
	a2, err := e.aligner.Align(img2, pts2)
	if err != nil {
		return 0, err
	}
	features, err := e.Extract([]*image.NRGBA{a1, a2})
	if err != nil {
		return 0, err
	}
	return Similarity(features[0], features[1]), nil
}
