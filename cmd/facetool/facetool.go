package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/onnx"
	"github.com/cyclopcam/faceid/server"
	"github.com/cyclopcam/faceid/server/config"
	"github.com/cyclopcam/faceid/server/engine"
	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(v))
}

type imageFaces struct {
	Image string          `json:"image"`
	Faces []nn.FaceResult `json:"faces"`
}

func main() {
	parser := argparse.NewParser("facetool", "Face detection and recognition")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "faceid.json"})

	detectCmd := parser.NewCommand("detect", "Detect faces, and optionally write annotated images")
	detectInputs := detectCmd.StringList("i", "input", &argparse.Options{Help: "Input image (may be repeated)", Required: true})
	detectOutDir := detectCmd.String("o", "outdir", &argparse.Options{Help: "Write annotated JPEGs into this directory", Default: ""})

	verifyCmd := parser.NewCommand("verify", "Print the similarity between the most confident face in each of two images")
	verifyA := verifyCmd.String("a", "first", &argparse.Options{Help: "First image", Required: true})
	verifyB := verifyCmd.String("b", "second", &argparse.Options{Help: "Second image", Required: true})

	extractCmd := parser.NewCommand("extract", "Print the feature vector of every face")
	extractInput := extractCmd.String("i", "input", &argparse.Options{Help: "Input image", Required: true})

	serveCmd := parser.NewCommand("serve", "Run the HTTP API")
	servePort := serveCmd.Int("p", "port", &argparse.Options{Help: "HTTP port. Overrides the config file.", Default: 0})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if serveCmd.Happened() {
		serve(*configFile, *servePort)
		return
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	if detectCmd.Happened() {
		// Don't load the recognition network if we're only detecting
		cfg.Options.Recognition = false
	}
	backend, err := onnx.NewBackend(logger, cfg.BackendOptions())
	check(err)
	defer backend.Close()
	eng, err := engine.NewEngine(logger, cfg, backend)
	check(err)
	defer eng.Close()

	switch {
	case detectCmd.Happened():
		check(detect(eng, *detectInputs, *detectOutDir))
	case verifyCmd.Happened():
		img1, err := imageops.ReadFile(*verifyA)
		check(err)
		img2, err := imageops.ReadFile(*verifyB)
		check(err)
		sim, err := eng.VerifyImages(img1, img2)
		check(err)
		fmt.Printf("%.4f\n", sim)
	case extractCmd.Happened():
		img, err := imageops.ReadFile(*extractInput)
		check(err)
		features, faces, err := eng.Extract(img)
		check(err)
		type faceJSON struct {
			nn.FaceResult
			Feature []float32 `json:"feature"`
		}
		out := []faceJSON{}
		for i := range faces {
			out = append(out, faceJSON{FaceResult: faces[i], Feature: features[i]})
		}
		printJSON(out)
	}
}

// detect runs all of the images concurrently. The engine's pool bounds how
// many are inside the networks at once.
func detect(eng *engine.Engine, inputs []string, outDir string) error {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}
	}
	results := make([]imageFaces, len(inputs))
	g := errgroup.Group{}
	for i, input := range inputs {
		g.Go(func() error {
			img, err := imageops.ReadFile(input)
			if err != nil {
				return err
			}
			faces, err := eng.Detect(img)
			if err != nil {
				return fmt.Errorf("%v: %w", input, err)
			}
			results[i] = imageFaces{Image: input, Faces: faces}
			if outDir != "" {
				return writeAnnotated(img, faces, filepath.Join(outDir, annotatedName(input)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	printJSON(results)
	return nil
}

func annotatedName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-faces.jpg"
}

func writeAnnotated(img *image.NRGBA, faces []nn.FaceResult, filename string) error {
	return imageops.WriteJPEG(imageops.DrawFaces(img, faces), filename, 95)
}

func serve(configFile string, port int) {
	s, err := server.NewServer(configFile)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	if port == 0 {
		port = s.Engine.Config().HTTP.Port
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenHTTP(fmt.Sprintf(":%v", port)); !errors.Is(err, http.ErrServerClosed) {
		// The listener failed before any signal arrived, so nobody else will shut down
		s.Log.Errorf("ListenHTTP returned: %v", err)
		s.Shutdown()
	}
	if err := <-s.ShutdownComplete; err != nil {
		fmt.Printf("Shutdown: %v\n", err)
		os.Exit(1)
	}
}
