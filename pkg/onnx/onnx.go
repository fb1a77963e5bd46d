package onnx

// package onnx runs our networks with ONNX Runtime (https://onnxruntime.ai),
// through github.com/yalue/onnxruntime_go.
// The runtime shared library is loaded at startup, so the binary does not
// need to be linked against it.

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/logs"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

type Provider string

const (
	ProviderCUDA Provider = "cuda"
	ProviderCPU  Provider = "cpu"
)

type Options struct {
	SharedLibrary string   // Path to libonnxruntime.so. If empty, the runtime's default search is used.
	Provider      Provider // Defaults to CUDA
	Threads       int      // Intra-op threads per session. Zero lets the runtime decide.
	Devices       []int    // If not empty, only these devices are used
}

// Backend creates ONNX Runtime sessions that are bound to one device
type Backend struct {
	log     logs.Log
	options Options
}

// There is one ONNX Runtime environment per process
var envLock sync.Mutex
var envUsers int

func NewBackend(log logs.Log, options Options) (*Backend, error) {
	if options.Provider == "" {
		options.Provider = ProviderCUDA
	}
	if options.Provider != ProviderCUDA && options.Provider != ProviderCPU {
		return nil, fmt.Errorf("Unknown ONNX execution provider '%v'", options.Provider)
	}
	envLock.Lock()
	defer envLock.Unlock()
	if envUsers == 0 {
		if options.SharedLibrary != "" {
			ort.SetSharedLibraryPath(options.SharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("Failed to initialize ONNX Runtime: %w", err)
		}
		log.Infof("ONNX Runtime initialized (provider %v)", options.Provider)
	}
	envUsers++
	return &Backend{
		log:     log,
		options: options,
	}, nil
}

// Close releases the ONNX Runtime environment, once all backends are closed
func (b *Backend) Close() error {
	envLock.Lock()
	defer envLock.Unlock()
	envUsers--
	if envUsers == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// DeviceCount returns the number of GPUs visible to the CUDA driver.
// The CPU provider has exactly one device.
func (b *Backend) DeviceCount() (int, error) {
	if b.options.Provider == ProviderCPU {
		return 1, nil
	}
	if len(b.options.Devices) != 0 {
		return slicesMax(b.options.Devices) + 1, nil
	}
	nodes, err := filepath.Glob("/dev/nvidia[0-9]*")
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func slicesMax(v []int) int {
	m := v[0]
	for _, x := range v[1:] {
		m = max(m, x)
	}
	return m
}

// CheckDevice verifies that a session can be bound to the device
func (b *Backend) CheckDevice(device int) error {
	if len(b.options.Devices) != 0 {
		found := false
		for _, d := range b.options.Devices {
			found = found || d == device
		}
		if !found {
			return fmt.Errorf("Device %v is not in the configured device list", device)
		}
	}
	options, err := b.sessionOptions(device)
	if err != nil {
		return err
	}
	return options.Destroy()
}

func (b *Backend) sessionOptions(device int) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if b.options.Threads > 0 {
		if err := options.SetIntraOpNumThreads(b.options.Threads); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	if b.options.Provider == ProviderCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("CUDA is not available: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(device)}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("Invalid CUDA device %v: %w", device, err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("Failed to bind CUDA device %v: %w", device, err)
		}
	}
	return options, nil
}

// LoadNetwork creates a session for modelFile on device.
// The input and output names come from config.
func (b *Backend) LoadNetwork(device int, config *nn.ModelConfig, modelFile string) (nn.Network, error) {
	if len(config.Inputs) != 1 {
		return nil, fmt.Errorf("Model %v must have exactly one input, not %v", modelFile, len(config.Inputs))
	}
	options, err := b.sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	session, err := ort.NewDynamicAdvancedSession(modelFile, config.Inputs, config.Outputs, options)
	if err != nil {
		return nil, fmt.Errorf("Failed to load %v on device %v: %w", modelFile, device, err)
	}
	return &Network{
		session: session,
		config:  *config,
	}, nil
}

// Network is one ONNX Runtime session
type Network struct {
	session *ort.DynamicAdvancedSession
	config  nn.ModelConfig
}

func (n *Network) Close() {
	n.session.Destroy()
}

func (n *Network) Config() *nn.ModelConfig {
	return &n.config
}

func (n *Network) Forward(input *tensor.Dense) ([]*tensor.Dense, error) {
	shape := input.Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	in, err := ort.NewTensor(ort.NewShape(dims...), nn.Float32s(input))
	if err != nil {
		return nil, err
	}
	defer in.Destroy()

	// nil outputs are allocated by the runtime, and we must destroy them
	outputs := make([]ort.Value, len(n.config.Outputs))
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()
	if err := n.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, err
	}

	result := make([]*tensor.Dense, len(outputs))
	for i, o := range outputs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("Network output %v is not a float32 tensor", n.config.Outputs[i])
		}
		oshape := t.GetShape()
		ishape := make([]int, len(oshape))
		for k, d := range oshape {
			ishape[k] = int(d)
		}
		// Copy out, because the runtime owns the output memory
		result[i] = nn.NewTensorFrom(append([]float32(nil), t.GetData()...), ishape...)
	}
	return result, nil
}
