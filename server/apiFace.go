package server

import (
	"errors"
	"image"
	"net/http"
	"time"

	"github.com/cyclopcam/faceid/pkg/imageops"
	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/server/engine"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const maxImageBytes = 32 * 1024 * 1024

type faceFeatureJSON struct {
	nn.FaceResult
	Feature []float32 `json:"feature"`
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	www.SendJSON(w, &pingJSON{
		Time: time.Now().Unix(),
	})
}

func (s *Server) httpStats(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Engine.Stats())
}

// readImage decodes the request body as an image
func readImage(w http.ResponseWriter, r *http.Request) *image.NRGBA {
	img, err := imageops.Decode(www.ReadLimited(w, r, maxImageBytes))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	return img
}

// checkEngine converts misuse of the engine into a bad request, and anything else into a server error
func checkEngine(err error) {
	if errors.Is(err, engine.ErrDetectionDisabled) || errors.Is(err, engine.ErrRecognitionDisabled) || errors.Is(err, engine.ErrNoFace) {
		www.PanicBadRequestf("%v", err)
	}
	www.Check(err)
}

func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	img := readImage(w, r)
	faces, err := s.Engine.Detect(img)
	checkEngine(err)
	www.SendJSON(w, faces)
}

// extractAll returns every face in img, along with its feature vector
func (s *Server) extractAll(img *image.NRGBA) []faceFeatureJSON {
	features, faces, err := s.Engine.Extract(img)
	checkEngine(err)
	result := make([]faceFeatureJSON, len(faces))
	for i := range faces {
		result[i] = faceFeatureJSON{
			FaceResult: faces[i],
			Feature:    features[i],
		}
	}
	return result
}

func (s *Server) httpExtract(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.extractAll(readImage(w, r)))
}

func (s *Server) httpVerify(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// []byte fields are base64 in JSON
	type verifyJSON struct {
		Image1 []byte `json:"image1"`
		Image2 []byte `json:"image2"`
	}
	req := verifyJSON{}
	www.ReadJSON(w, r, &req, 2*maxImageBytes)
	img1, err := imageops.Decode(req.Image1)
	if err != nil {
		www.PanicBadRequestf("image1: %v", err)
	}
	img2, err := imageops.Decode(req.Image2)
	if err != nil {
		www.PanicBadRequestf("image2: %v", err)
	}
	sim, err := s.Engine.VerifyImages(img1, img2)
	checkEngine(err)

	type resultJSON struct {
		Similarity float32 `json:"similarity"`
	}
	www.SendJSON(w, &resultJSON{Similarity: sim})
}
