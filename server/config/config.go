package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/faceid/pkg/mtcnn"
	"github.com/cyclopcam/faceid/pkg/onnx"
	"github.com/cyclopcam/faceid/pkg/recognition"
	"go.uber.org/multierr"
)

type Options struct {
	Detection   bool `json:"detection"`   // Load the MTCNN cascade
	Recognition bool `json:"recognition"` // Load the recognition network
}

type Backend struct {
	SharedLibrary string `json:"sharedLibrary"` // eg /usr/lib/libonnxruntime.so
	Provider      string `json:"provider"`      // "cuda" or "cpu"
	Threads       int    `json:"threads"`       // Intra-op threads per session
	Devices       []int  `json:"devices"`       // Restrict to these devices. Empty means all.
}

type Limitation struct {
	Enable bool `json:"enable"`
	Size   int  `json:"size"` // Longest image side, before the pyramid is built
}

type MTCNN struct {
	ModelDir        string     `json:"modelDir"`   // Contains pnet, rnet, onet, and lnet (.json + .onnx)
	Factor          float32    `json:"factor"`     // Pyramid scale factor, eg 0.709
	MinSize         int        `json:"minSize"`    // Smallest face, in pixels
	Thresholds      []float32  `json:"thresholds"` // Stage thresholds, exactly 3
	PreciseLandmark bool       `json:"preciseLandmark"`
	Limitation      Limitation `json:"limitation"`
}

type Mirror struct {
	Enable bool   `json:"enable"`
	Mode   string `json:"mode"` // concat, add, max, min
}

type PCA struct {
	Enable bool   `json:"enable"`
	Model  string `json:"model"` // JSON file with mean and components
}

type Center struct {
	ModelDir  string    `json:"modelDir"`
	Model     string    `json:"model"` // Model name inside ModelDir, eg "center"
	Mirror    Mirror    `json:"mirror"`
	PCA       PCA       `json:"pca"`
	RefPoints []float32 `json:"refPoints"` // 5 reference landmarks (x,y pairs) in the aligned face
}

type Gallery struct {
	DB string `json:"db"` // sqlite file. If empty, the gallery API is disabled.
}

type HTTP struct {
	Port int `json:"port"`
	// Per client IP limit on each image upload route. Zero disables rate limiting.
	RequestsPerMinute int `json:"requestsPerMinute"`
}

type Config struct {
	Options           Options `json:"options"`
	ContextsPerDevice int     `json:"contextsPerDevice"` // Execution contexts created on every usable device
	ModelBaseUrl      string  `json:"modelBaseUrl"`      // If not empty, missing model files are downloaded from here
	Backend           Backend `json:"backend"`
	MTCNN             MTCNN   `json:"mtcnn"`
	Center            Center  `json:"center"`
	Gallery           Gallery `json:"gallery"`
	HTTP              HTTP    `json:"http"`
}

// Default reference landmarks, for a 112x112 aligned face
var DefaultRefPoints = []float32{
	38.2946, 51.6963,
	73.5318, 51.5014,
	56.0252, 71.7366,
	41.5493, 92.3655,
	70.7299, 92.2041,
}

// Create a default config, with detection and recognition enabled
func NewConfig() *Config {
	return &Config{
		Options: Options{
			Detection:   true,
			Recognition: true,
		},
		ContextsPerDevice: 1,
		Backend: Backend{
			Provider: string(onnx.ProviderCUDA),
		},
		MTCNN: MTCNN{
			ModelDir:   "models/mtcnn",
			Factor:     mtcnn.DefaultFactor,
			MinSize:    mtcnn.DefaultMinSize,
			Thresholds: append([]float32(nil), mtcnn.DefaultThresholds[:]...),
		},
		Center: Center{
			ModelDir:  "models/center",
			Model:     "center",
			RefPoints: append([]float32(nil), DefaultRefPoints...),
		},
		HTTP: HTTP{
			Port:              8090,
			RequestsPerMinute: 600,
		},
	}
}

// Load config from a JSON file. Fields that are absent keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "faceid.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := NewConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

// Validate returns all of the problems with the config
func (c *Config) Validate() error {
	var err error
	if c.ContextsPerDevice < 1 {
		err = multierr.Append(err, fmt.Errorf("contextsPerDevice must be at least 1, not %v", c.ContextsPerDevice))
	}
	if c.HTTP.RequestsPerMinute < 0 {
		err = multierr.Append(err, fmt.Errorf("http.requestsPerMinute may not be negative, not %v", c.HTTP.RequestsPerMinute))
	}
	if c.Backend.Provider != string(onnx.ProviderCUDA) && c.Backend.Provider != string(onnx.ProviderCPU) {
		err = multierr.Append(err, fmt.Errorf("Unknown backend provider '%v'", c.Backend.Provider))
	}
	if c.Options.Detection {
		if len(c.MTCNN.Thresholds) != 3 {
			err = multierr.Append(err, fmt.Errorf("mtcnn.thresholds must have 3 values, not %v", len(c.MTCNN.Thresholds)))
		} else if _, perr := c.MTCNNParams(); perr != nil {
			err = multierr.Append(err, perr)
		}
		if c.MTCNN.Limitation.Enable && c.MTCNN.Limitation.Size <= 0 {
			err = multierr.Append(err, errors.New("mtcnn.limitation.size must be positive"))
		}
	}
	if c.Options.Recognition {
		if _, merr := recognition.ParseMerge(c.Center.Mirror.Enable, c.Center.Mirror.Mode); merr != nil {
			err = multierr.Append(err, merr)
		}
		if len(c.Center.RefPoints) != 10 {
			err = multierr.Append(err, fmt.Errorf("center.refPoints must have 10 values (5 points), not %v", len(c.Center.RefPoints)))
		}
		if c.Center.PCA.Enable && c.Center.PCA.Model == "" {
			err = multierr.Append(err, errors.New("center.pca.model is required when PCA is enabled"))
		}
		if c.Center.Model == "" {
			err = multierr.Append(err, errors.New("center.model is required"))
		}
	}
	return err
}

// MTCNNParams converts the mtcnn section into cascade parameters
func (c *Config) MTCNNParams() (*mtcnn.Params, error) {
	if len(c.MTCNN.Thresholds) != 3 {
		return nil, fmt.Errorf("mtcnn.thresholds must have 3 values, not %v", len(c.MTCNN.Thresholds))
	}
	p := mtcnn.NewParams()
	p.MinSize = c.MTCNN.MinSize
	p.Factor = c.MTCNN.Factor
	copy(p.Thresholds[:], c.MTCNN.Thresholds)
	p.PreciseLandmark = c.MTCNN.PreciseLandmark
	if c.MTCNN.Limitation.Enable {
		p.Limit = c.MTCNN.Limitation.Size
	}
	return p, p.Validate()
}

// BackendOptions converts the backend section into ONNX Runtime options
func (c *Config) BackendOptions() onnx.Options {
	return onnx.Options{
		SharedLibrary: c.Backend.SharedLibrary,
		Provider:      onnx.Provider(c.Backend.Provider),
		Threads:       c.Backend.Threads,
		Devices:       c.Backend.Devices,
	}
}
