package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "faceid.json")
	raw := `{
		"contextsPerDevice": 2,
		"backend": {"provider": "cpu", "threads": 4},
		"mtcnn": {"minSize": 20, "thresholds": [0.5, 0.6, 0.8], "limitation": {"enable": true, "size": 640}},
		"center": {"mirror": {"enable": true, "mode": "concat"}}
	}`
	require.NoError(t, os.WriteFile(filename, []byte(raw), 0644))
	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.ContextsPerDevice)
	require.Equal(t, "cpu", cfg.Backend.Provider)
	require.True(t, cfg.Options.Detection)
	require.Equal(t, DefaultRefPoints, cfg.Center.RefPoints)

	p, err := cfg.MTCNNParams()
	require.NoError(t, err)
	require.Equal(t, 20, p.MinSize)
	require.EqualValues(t, 0.709, p.Factor)
	require.Equal(t, [3]float32{0.5, 0.6, 0.8}, p.Thresholds)
	require.Equal(t, 640, p.Limit)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := NewConfig()
	cfg.ContextsPerDevice = 0
	cfg.MTCNN.Thresholds = []float32{0.6, 0.7}
	cfg.Center.Mirror = Mirror{Enable: true, Mode: "average"}
	cfg.Center.RefPoints = cfg.Center.RefPoints[:8]
	cfg.Center.PCA.Enable = true
	cfg.HTTP.RequestsPerMinute = -1
	err := cfg.Validate()
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 6)

	// Disabled capabilities are not validated
	cfg = NewConfig()
	cfg.Options.Recognition = false
	cfg.Center.RefPoints = nil
	require.NoError(t, cfg.Validate())
}

func TestValidateFactor(t *testing.T) {
	cfg := NewConfig()
	cfg.MTCNN.Factor = 1
	require.Error(t, cfg.Validate())
	cfg.MTCNN.Factor = 0.5
	cfg.MTCNN.MinSize = 0
	require.Error(t, cfg.Validate())
}
