package nnload

// Package nnload loads our networks by name from a model directory, so that
// callers don't need to know which backend runs them, or where the files live.
// A model "pnet" in directory "models" consists of models/pnet.json (see nn.ModelConfig)
// and models/pnet.onnx.

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/logs"
)

const WeightsExt = ".onnx"

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// ModelFiles returns the config and weights paths of a model
func ModelFiles(modelDir, modelName string) (config, weights string) {
	base := filepath.Join(modelDir, modelName)
	return base + ".json", base + WeightsExt
}

// If baseUrl is not empty, and the model files are not yet on disk, then download them now.
// Returns immediately if the files are already present.
func DownloadModel(log logs.Log, baseUrl, modelDir, modelName string) error {
	config, weights := ModelFiles(modelDir, modelName)
	for _, diskPath := range []string{config, weights} {
		_, err := os.Stat(diskPath)
		if err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if baseUrl == "" {
			return fmt.Errorf("Model file %v not found: %w", diskPath, err)
		}
		networkUrl := baseUrl + "/" + filepath.Base(diskPath)
		log.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(networkUrl, diskPath); err != nil {
			return fmt.Errorf("Download of %v failed: %w", networkUrl, err)
		}
	}
	return nil
}

// LoadNetwork loads the model 'modelName' from modelDir onto the given device
func LoadNetwork(log logs.Log, backend nn.Backend, device int, baseUrl, modelDir, modelName string) (nn.Network, error) {
	if err := DownloadModel(log, baseUrl, modelDir, modelName); err != nil {
		return nil, err
	}
	configFile, weights := ModelFiles(modelDir, modelName)
	config, err := nn.LoadModelConfig(configFile)
	if err != nil {
		return nil, err
	}
	net, err := backend.LoadNetwork(device, config, weights)
	if err != nil {
		return nil, fmt.Errorf("Failed to load NN model '%v': %w", modelName, err)
	}
	return net, nil
}

// UsableDevices returns the devices of backend that pass CheckDevice.
// Devices that fail are logged and skipped.
func UsableDevices(log logs.Log, backend nn.Backend) ([]int, error) {
	n, err := backend.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("Failed to count NN devices: %w", err)
	}
	log.Infof("Found %v NN devices", n)
	usable := []int{}
	for i := 0; i < n; i++ {
		if err := backend.CheckDevice(i); err != nil {
			log.Errorf("Skipping NN device %v: %v", i, err)
			continue
		}
		usable = append(usable, i)
	}
	return usable, nil
}
