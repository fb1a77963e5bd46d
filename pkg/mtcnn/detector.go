package mtcnn

// Package mtcnn is a multi-task cascaded convolutional network face detector.
// Four networks run in sequence, each one more selective than the last:
// proposal (PNet, over an image pyramid), refine (RNet), output (ONet, which
// also produces 5 landmarks), and an optional landmark refinement (LNet).

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/perfstats"
)

// Stage of the cascade
type Stage int

const (
	StageProposal Stage = iota
	StageRefine
	StageOutput
	StageLandmark
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageProposal:
		return "proposal"
	case StageRefine:
		return "refine"
	case StageOutput:
		return "output"
	case StageLandmark:
		return "landmark"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// Networks are the four networks of the cascade.
// LNet is only required when landmark refinement is enabled.
type Networks struct {
	PNet nn.Network
	RNet nn.Network
	ONet nn.Network
	LNet nn.Network
}

func (n *Networks) Close() {
	for _, net := range []nn.Network{n.PNet, n.RNet, n.ONet, n.LNet} {
		if net != nil {
			net.Close()
		}
	}
}

// Detector runs the cascade.
// A Detector is not safe for concurrent use, because its networks are not.
type Detector struct {
	nets   Networks
	params Params
	stats  *perfstats.Recorder
}

// NewDetector takes ownership of nets. stats may be nil.
func NewDetector(nets Networks, params *Params, stats *perfstats.Recorder) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if nets.PNet == nil || nets.RNet == nil || nets.ONet == nil {
		return nil, errors.New("PNet, RNet and ONet are required")
	}
	if params.PreciseLandmark && nets.LNet == nil {
		return nil, errors.New("LNet is required for precise landmarks")
	}
	return &Detector{
		nets:   nets,
		params: *params,
		stats:  stats,
	}, nil
}

func (d *Detector) Close() {
	d.nets.Close()
}

func (d *Detector) Params() Params {
	return d.params
}

// Detect returns the faces in img, in descending order of confidence.
// An image with no faces produces an empty result, not an error.
func (d *Detector) Detect(img *image.NRGBA) ([]nn.FaceResult, error) {
	var cands []nn.Candidate
	var err error
	stage := StageProposal
	for stage != StageDone {
		start := time.Now()
		switch stage {
		case StageProposal:
			cands, err = d.proposal(img)
		case StageRefine:
			cands, err = d.refine(img, cands)
		case StageOutput:
			cands, err = d.output(img, cands)
		case StageLandmark:
			cands, err = d.landmark(img, cands)
		}
		if err != nil {
			return nil, fmt.Errorf("MTCNN %v stage failed: %w", stage, err)
		}
		if d.stats != nil {
			d.stats.AddTime("mtcnn."+stage.String(), time.Since(start))
			d.stats.AddCount("mtcnn."+stage.String()+".boxes", float64(len(cands)))
		}
		stage = d.nextStage(stage, len(cands))
	}

	faces := make([]nn.FaceResult, 0, len(cands))
	for _, c := range cands {
		faces = append(faces, nn.FaceResult{
			Box:       c.Box,
			Score:     c.Score,
			Landmarks: c.Landmarks,
		})
	}
	return faces, nil
}

// An empty candidate set ends the cascade immediately, so that no network
// is ever asked to run a batch of zero.
func (d *Detector) nextStage(current Stage, numCandidates int) Stage {
	if numCandidates == 0 {
		return StageDone
	}
	switch current {
	case StageProposal:
		return StageRefine
	case StageRefine:
		return StageOutput
	case StageOutput:
		if d.params.PreciseLandmark {
			return StageLandmark
		}
	}
	return StageDone
}
