package engine

// Package engine owns the execution contexts, and is the entry point for
// detection and recognition. Every call leases one context from the pool for
// its entire duration.

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/faceid/pkg/ctxpool"
	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/mtcnn"
	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/nnload"
	"github.com/cyclopcam/faceid/pkg/perfstats"
	"github.com/cyclopcam/faceid/pkg/recognition"
	"github.com/cyclopcam/faceid/server/config"
	"github.com/cyclopcam/logs"
)

var ErrDetectionDisabled = errors.New("Face detection is disabled")
var ErrRecognitionDisabled = errors.New("Face recognition is disabled")
var ErrNoFace = errors.New("No face found")

// FaceContext owns one set of networks, bound to one device.
// Either of detector or extractor is nil when that capability is disabled.
type FaceContext struct {
	Device    int
	Index     int
	detector  *mtcnn.Detector
	extractor *recognition.Extractor
}

func (c *FaceContext) Close() error {
	if c.detector != nil {
		c.detector.Close()
	}
	if c.extractor != nil {
		c.extractor.Close()
	}
	return nil
}

type Engine struct {
	log   logs.Log
	cfg   config.Config
	pool  *ctxpool.Pool[*FaceContext]
	stats *perfstats.Recorder
}

type Stats struct {
	Contexts int              `json:"contexts"`
	Idle     int              `json:"idle"`
	Leased   int              `json:"leased"`
	Times    []perfstats.Stat `json:"times"`  // Average milliseconds per call
	Counts   []perfstats.Stat `json:"counts"` // Average boxes per stage
}

// NewEngine creates cfg.ContextsPerDevice contexts on every usable device of backend.
// A device that cannot host a context is logged and skipped.
func NewEngine(log logs.Log, cfg *config.Config, backend nn.Backend) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		log:   log,
		cfg:   *cfg,
		stats: perfstats.NewRecorder(),
	}

	// Shared, immutable state
	var pca *recognition.PCA
	var merge recognition.Merge
	if cfg.Options.Recognition {
		var err error
		if merge, err = recognition.ParseMerge(cfg.Center.Mirror.Enable, cfg.Center.Mirror.Mode); err != nil {
			return nil, err
		}
		if cfg.Center.PCA.Enable {
			if pca, err = recognition.LoadPCA(cfg.Center.PCA.Model); err != nil {
				return nil, err
			}
		}
	}

	devices, err := nnload.UsableDevices(log, backend)
	if err != nil {
		return nil, err
	}

	contexts := []*FaceContext{}
	var lastErr error
	for _, device := range devices {
		onDevice := []*FaceContext{}
		for i := 0; i < cfg.ContextsPerDevice; i++ {
			c, err := e.newContext(backend, device, len(contexts)+i, merge, pca)
			if err != nil {
				log.Errorf("Skipping NN device %v: %v", device, err)
				lastErr = err
				for _, created := range onDevice {
					created.Close()
				}
				onDevice = nil
				break
			}
			onDevice = append(onDevice, c)
		}
		contexts = append(contexts, onDevice...)
	}

	pool, err := ctxpool.New(contexts)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", err, lastErr)
		}
		return nil, err
	}
	e.pool = pool
	log.Infof("Created %v face contexts (detection: %v, recognition: %v)", len(contexts), cfg.Options.Detection, cfg.Options.Recognition)
	return e, nil
}

func (e *Engine) newContext(backend nn.Backend, device, index int, merge recognition.Merge, pca *recognition.PCA) (*FaceContext, error) {
	c := &FaceContext{
		Device: device,
		Index:  index,
	}
	if e.cfg.Options.Detection {
		nets, err := e.loadCascade(backend, device)
		if err != nil {
			return nil, err
		}
		params, _ := e.cfg.MTCNNParams()
		if c.detector, err = mtcnn.NewDetector(nets, params, e.stats); err != nil {
			nets.Close()
			return nil, err
		}
	}
	if e.cfg.Options.Recognition {
		net, err := nnload.LoadNetwork(e.log, backend, device, e.cfg.ModelBaseUrl, e.cfg.Center.ModelDir, e.cfg.Center.Model)
		if err != nil {
			c.Close()
			return nil, err
		}
		if c.extractor, err = recognition.NewExtractor(net, merge, pca, e.cfg.Center.RefPoints, e.stats); err != nil {
			net.Close()
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (e *Engine) loadCascade(backend nn.Backend, device int) (mtcnn.Networks, error) {
	nets := mtcnn.Networks{}
	names := []string{"pnet", "rnet", "onet"}
	if e.cfg.MTCNN.PreciseLandmark {
		names = append(names, "lnet")
	}
	for _, name := range names {
		net, err := nnload.LoadNetwork(e.log, backend, device, e.cfg.ModelBaseUrl, e.cfg.MTCNN.ModelDir, name)
		if err != nil {
			nets.Close()
			return mtcnn.Networks{}, err
		}
		switch name {
		case "pnet":
			nets.PNet = net
		case "rnet":
			nets.RNet = net
		case "onet":
			nets.ONet = net
		case "lnet":
			nets.LNet = net
		}
	}
	return nets, nil
}

// Close waits for all leased contexts to be returned, and then closes them
func (e *Engine) Close() error {
	return e.pool.Close(func(c *FaceContext) error {
		return c.Close()
	})
}

// with runs fn on a leased context
func (e *Engine) with(fn func(c *FaceContext) error) error {
	start := time.Now()
	lease := e.pool.Lease()
	defer lease.Release()
	e.stats.AddTime("engine.wait", time.Since(start))
	return fn(lease.Item())
}

func (e *Engine) checkDetection(c *FaceContext, op string) error {
	if c.detector == nil {
		e.log.Errorf("%v called, but detection is disabled", op)
		return ErrDetectionDisabled
	}
	return nil
}

func (e *Engine) checkRecognition(c *FaceContext, op string) error {
	if c.extractor == nil {
		e.log.Errorf("%v called, but recognition is disabled", op)
		return ErrRecognitionDisabled
	}
	return nil
}

// Detect returns the faces in img.
// Coordinates are relative to the top left corner of img.Bounds().
func (e *Engine) Detect(img *image.NRGBA) ([]nn.FaceResult, error) {
	img = imageops.FromImage(img)
	var faces []nn.FaceResult
	err := e.with(func(c *FaceContext) error {
		if err := e.checkDetection(c, "Detect"); err != nil {
			return err
		}
		var err error
		faces, err = c.detector.Detect(img)
		return err
	})
	if err != nil {
		return nil, err
	}
	return faces, nil
}

// Align returns the aligned crop of every face
func (e *Engine) Align(img *image.NRGBA, faces []nn.FaceResult) ([]*image.NRGBA, error) {
	img = imageops.FromImage(img)
	var aligned []*image.NRGBA
	err := e.with(func(c *FaceContext) error {
		if err := e.checkRecognition(c, "Align"); err != nil {
			return err
		}
		var err error
		aligned, err = c.extractor.AlignFaces(img, faces)
		return err
	})
	if err != nil {
		return nil, err
	}
	return aligned, nil
}

// ExtractAligned returns the features of faces that have already been aligned
func (e *Engine) ExtractAligned(faces []*image.NRGBA) ([][]float32, error) {
	var features [][]float32
	err := e.with(func(c *FaceContext) error {
		if err := e.checkRecognition(c, "ExtractAligned"); err != nil {
			return err
		}
		var err error
		features, err = c.extractor.Extract(faces)
		return err
	})
	if err != nil {
		return nil, err
	}
	return features, nil
}

// Extract detects the faces in img, and returns the features of each face
func (e *Engine) Extract(img *image.NRGBA) ([][]float32, []nn.FaceResult, error) {
	img = imageops.FromImage(img)
	var features [][]float32
	var faces []nn.FaceResult
	err := e.with(func(c *FaceContext) error {
		if err := e.checkDetection(c, "Extract"); err != nil {
			return err
		}
		if err := e.checkRecognition(c, "Extract"); err != nil {
			return err
		}
		var err error
		features, faces, err = extract(c, img)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return features, faces, nil
}

func extract(c *FaceContext, img *image.NRGBA) ([][]float32, []nn.FaceResult, error) {
	faces, err := c.detector.Detect(img)
	if err != nil {
		return nil, nil, err
	}
	aligned, err := c.extractor.AlignFaces(img, faces)
	if err != nil {
		return nil, nil, err
	}
	features, err := c.extractor.Extract(aligned)
	if err != nil {
		return nil, nil, err
	}
	return features, faces, nil
}

// Verify returns the similarity of two faces with known landmarks.
// On failure, the similarity is -1.
func (e *Engine) Verify(img1 *image.NRGBA, pts1 nn.Landmarks, img2 *image.NRGBA, pts2 nn.Landmarks) (float32, error) {
	img1 = imageops.FromImage(img1)
	img2 = imageops.FromImage(img2)
	sim := float32(-1)
	err := e.with(func(c *FaceContext) error {
		if err := e.checkRecognition(c, "Verify"); err != nil {
			return err
		}
		s, err := c.extractor.Verify(img1, pts1, img2, pts2)
		if err == nil {
			sim = s
		}
		return err
	})
	return sim, err
}

// VerifyImages compares the most confident face in each image.
// If either image has no face, the result is -1 and ErrNoFace.
func (e *Engine) VerifyImages(img1, img2 *image.NRGBA) (float32, error) {
	img1 = imageops.FromImage(img1)
	img2 = imageops.FromImage(img2)
	sim := float32(-1)
	err := e.with(func(c *FaceContext) error {
		if err := e.checkDetection(c, "VerifyImages"); err != nil {
			return err
		}
		if err := e.checkRecognition(c, "VerifyImages"); err != nil {
			return err
		}
		var pts [2]nn.Landmarks
		for i, img := range []*image.NRGBA{img1, img2} {
			faces, err := c.detector.Detect(img)
			if err != nil {
				return err
			}
			if len(faces) == 0 {
				return fmt.Errorf("Image %v: %w", i+1, ErrNoFace)
			}
			pts[i] = faces[0].Landmarks
		}
		s, err := c.extractor.Verify(img1, pts[0], img2, pts[1])
		if err == nil {
			sim = s
		}
		return err
	})
	return sim, err
}

func (e *Engine) Stats() Stats {
	idle, leased := e.pool.Counts()
	times, counts := e.stats.Snapshot()
	return Stats{
		Contexts: e.pool.Size(),
		Idle:     idle,
		Leased:   leased,
		Times:    times,
		Counts:   counts,
	}
}

func (e *Engine) Config() *config.Config {
	return &e.cfg
}
