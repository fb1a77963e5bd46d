package nn

import (
	"encoding/json"
	"fmt"
	"os"

	"gorgonia.org/tensor"
)

// Package nn is the neural network interface layer used by the face cascade
// and the recognition network. It holds the geometry shared by every stage,
// and the Network/Backend interfaces that an inference runtime implements.
// To get a concrete runtime, use the onnx package.

// Candidate is a box proposed by one cascade stage, before it is handed to
// the next stage.
type Candidate struct {
	Box       Box
	Score     float32
	Reg       [4]float32 // Regression delta (dx1,dy1,dx2,dy2), relative to the box size
	Landmarks Landmarks  // Only populated by the output and landmark stages
}

// FaceResult is a detected face
type FaceResult struct {
	Box       Box       `json:"box"`
	Score     float32   `json:"score"`
	Landmarks Landmarks `json:"landmarks"`
}

// Network runs the forward pass of one network with a fixed topology.
// A Network is not safe for concurrent use. Each execution context owns
// its own Networks.
type Network interface {
	// Close releases the runtime resources (you MUST call this when finished)
	Close()

	// Forward runs a batch of inputs, with shape [N,C,H,W], and returns the
	// output blobs in the network's fixed output order. The batch size is
	// taken from the first dimension of the input.
	Forward(input *tensor.Dense) ([]*tensor.Dense, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the network has been created.
	Config() *ModelConfig
}

// Backend creates Networks that are bound to a device
type Backend interface {
	// Number of devices that the backend can see
	DeviceCount() (int, error)

	// Returns an error if the device cannot run our networks
	CheckDevice(device int) error

	// Load a network onto the device
	LoadNetwork(device int, config *ModelConfig, modelFile string) (Network, error)
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "pnet", "rnet", "onet", "lnet", "center"
	Width        int      `json:"width"`        // eg 24. Zero for fully convolutional networks that take any size.
	Height       int      `json:"height"`       // eg 24
	Channels     int      `json:"channels"`     // eg 3, or 15 for the landmark network
	Inputs       []string `json:"inputs"`       // Names of the input blobs
	Outputs      []string `json:"outputs"`      // Names of the output blobs, in the order that Forward returns them
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing model config %v: %w", filename, err)
	}
	if config.Channels == 0 {
		config.Channels = 3
	}
	if len(config.Inputs) == 0 || len(config.Outputs) == 0 {
		return nil, fmt.Errorf("Model config %v must name its inputs and outputs", filename)
	}
	return config, nil
}
