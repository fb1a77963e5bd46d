package mtcnn

import (
	"errors"
	"fmt"
)

const DefaultMinSize = 40
const DefaultFactor = 0.709

var DefaultThresholds = [3]float32{0.6, 0.7, 0.7}

// NMS thresholds between and after the stages. These are a property of the
// cascade, not something that is tuned per deployment.
const (
	proposalScaleNMS = 0.5 // Within one pyramid scale (IoU)
	proposalNMS      = 0.7 // Across all pyramid scales (IoU)
	refineNMS        = 0.7 // IoU
	outputNMS        = 0.7 // IoM
)

// Cascade detection parameters
type Params struct {
	MinSize         int        // Smallest face that we look for, in pixels
	Factor          float32    // Ratio between successive pyramid scales, in (0,1)
	Thresholds      [3]float32 // Minimum face confidence for the proposal, refine, and output stages
	PreciseLandmark bool       // Run the landmark refinement stage
	Limit           int        // If not zero, the longest image side is first scaled down to this size
}

// Create a default Params object
func NewParams() *Params {
	return &Params{
		MinSize:    DefaultMinSize,
		Factor:     DefaultFactor,
		Thresholds: DefaultThresholds,
	}
}

func (p *Params) Validate() error {
	if p.MinSize <= 0 {
		return fmt.Errorf("MinSize must be positive, not %v", p.MinSize)
	}
	if p.Factor <= 0 || p.Factor >= 1 {
		return fmt.Errorf("Factor must be between 0 and 1, not %v", p.Factor)
	}
	for _, t := range p.Thresholds {
		if t < 0 || t > 1 {
			return errors.New("Thresholds must be between 0 and 1")
		}
	}
	if p.Limit < 0 {
		return fmt.Errorf("Limit may not be negative")
	}
	return nil
}
