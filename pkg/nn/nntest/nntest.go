package nntest

// Package nntest provides an nn.Backend whose networks behave like a tiny,
// predictable face cascade and recognition network. It is used to test
// code that sits above the networks, without loading real models.
//
// The fake PNet finds one face in the top left cell of every pyramid scale,
// unless the image is black. RNet and ONet accept every candidate, and ONet
// places the landmarks in a face-like layout, so alignment works.
// The fake recognition network emits the mean of each input image as the
// first feature, so identical images have identical features.

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyclopcam/faceid/pkg/nn"
	"gorgonia.org/tensor"
)

// Landmark positions relative to the ONet box
var Landmarks = []float32{0.34, 0.46, 0.66, 0.46, 0.5, 0.64, 0.37, 0.82, 0.63, 0.82}

var ErrIncompatible = errors.New("Incompatible device")

type Backend struct {
	Devices int
	Bad     map[int]bool // Devices that fail CheckDevice

	lock     sync.Mutex
	open     int
	forwards int
}

func NewBackend(devices int, bad ...int) *Backend {
	b := &Backend{
		Devices: devices,
		Bad:     map[int]bool{},
	}
	for _, d := range bad {
		b.Bad[d] = true
	}
	return b
}

func (b *Backend) DeviceCount() (int, error) {
	return b.Devices, nil
}

func (b *Backend) CheckDevice(device int) error {
	if b.Bad[device] {
		return ErrIncompatible
	}
	return nil
}

func (b *Backend) LoadNetwork(device int, config *nn.ModelConfig, modelFile string) (nn.Network, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.open++
	return &Network{backend: b, config: *config}, nil
}

// OpenNetworks is the number of networks that have been loaded but not closed
func (b *Backend) OpenNetworks() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.open
}

// Forwards is the total number of Forward calls
func (b *Backend) Forwards() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.forwards
}

type Network struct {
	backend *Backend
	config  nn.ModelConfig
}

func (n *Network) Close() {
	n.backend.lock.Lock()
	defer n.backend.lock.Unlock()
	n.backend.open--
}

func (n *Network) Config() *nn.ModelConfig {
	return &n.config
}

// RowsOf returns an [n,k] tensor with every row equal to row
func RowsOf(n int, row ...float32) *tensor.Dense {
	data := make([]float32, 0, n*len(row))
	for i := 0; i < n; i++ {
		data = append(data, row...)
	}
	return nn.NewTensorFrom(data, n, len(row))
}

func (n *Network) Forward(input *tensor.Dense) ([]*tensor.Dense, error) {
	n.backend.lock.Lock()
	n.backend.forwards++
	n.backend.lock.Unlock()

	s := input.Shape()
	batch := s[0]
	data := nn.Float32s(input)
	switch n.config.Architecture {
	case "pnet":
		h := max((s[2]-12)/2+1, 1)
		w := max((s[3]-12)/2+1, 1)
		scores := nn.NewTensor(1, 2, h, w)
		regs := nn.NewTensor(1, 4, h, w)
		// -1 is a black pixel, after normalization
		if data[0] > -1 {
			nn.Float32s(scores)[h*w] = 0.9
		}
		return []*tensor.Dense{scores, regs}, nil
	case "rnet":
		return []*tensor.Dense{RowsOf(batch, 0.05, 0.95), RowsOf(batch, 0, 0, 0, 0)}, nil
	case "onet":
		return []*tensor.Dense{RowsOf(batch, Landmarks...), RowsOf(batch, 0.01, 0.99), RowsOf(batch, 0, 0, 0, 0)}, nil
	case "lnet":
		out := []*tensor.Dense{}
		for i := 0; i < 5; i++ {
			out = append(out, RowsOf(batch, 0.5, 0.5))
		}
		return out, nil
	case "center":
		per := len(data) / batch
		out := make([]float32, 0, batch*4)
		for i := 0; i < batch; i++ {
			var sum float32
			for _, v := range data[i*per : (i+1)*per] {
				sum += v
			}
			out = append(out, sum/float32(per), 1, 0.5, 0.25)
		}
		return []*tensor.Dense{nn.NewTensorFrom(out, batch, 4)}, nil
	}
	return nil, errors.New("Unknown architecture " + n.config.Architecture)
}

func writeModel(dir, name string, width, height, channels int, outputs ...string) error {
	cfg := nn.ModelConfig{
		Architecture: name,
		Width:        width,
		Height:       height,
		Channels:     channels,
		Inputs:       []string{"data"},
		Outputs:      outputs,
	}
	raw, err := json.Marshal(&cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), raw, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".onnx"), nil, 0644)
}

// WriteModels writes configs and empty weights for pnet, rnet, onet, lnet, and center into dir
func WriteModels(dir string) error {
	models := []struct {
		name          string
		width, height int
		channels      int
		outputs       []string
	}{
		{"pnet", 0, 0, 3, []string{"prob1", "conv4-2"}},
		{"rnet", 24, 24, 3, []string{"prob1", "conv5-2"}},
		{"onet", 48, 48, 3, []string{"conv6-3", "prob1", "conv6-2"}},
		{"lnet", 24, 24, 15, []string{"fc5_1", "fc5_2", "fc5_3", "fc5_4", "fc5_5"}},
		{"center", 112, 112, 3, []string{"fc5"}},
	}
	for _, m := range models {
		if err := writeModel(dir, m.name, m.width, m.height, m.channels, m.outputs...); err != nil {
			return err
		}
	}
	return nil
}
