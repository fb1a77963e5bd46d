package server

import (
	"net/http"

	"github.com/cyclopcam/faceid/server/gallery"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const defaultSearchLimit = 5

func (s *Server) requireGallery() *gallery.Gallery {
	if s.Gallery == nil {
		www.PanicBadRequestf("The gallery is disabled")
	}
	return s.Gallery
}

// Enroll the most confident face in the image
func (s *Server) httpGalleryEnroll(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	g := s.requireGallery()
	faces := s.extractAll(readImage(w, r))
	if len(faces) == 0 {
		www.PanicBadRequestf("No face found")
	}
	personID, err := g.Enroll(params.ByName("name"), faces[0].Feature)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	type enrollJSON struct {
		PersonID int64           `json:"personID"`
		Face     faceFeatureJSON `json:"face"`
	}
	www.SendJSON(w, &enrollJSON{
		PersonID: personID,
		Face:     faces[0],
	})
}

// Search the gallery for every face in the image
func (s *Server) httpGallerySearch(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	g := s.requireGallery()
	limit := www.QueryInt(r, "limit")
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	type faceMatchesJSON struct {
		Face    faceFeatureJSON `json:"face"`
		Matches []gallery.Match `json:"matches"`
	}
	result := []faceMatchesJSON{}
	for _, face := range s.extractAll(readImage(w, r)) {
		matches, err := g.Search(face.Feature, limit)
		www.Check(err)
		result = append(result, faceMatchesJSON{
			Face:    face,
			Matches: matches,
		})
	}
	www.SendJSON(w, result)
}

func (s *Server) httpGalleryPeople(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	people, err := s.requireGallery().List()
	www.Check(err)
	www.SendJSON(w, people)
}

func (s *Server) httpGalleryDelete(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	found, err := s.requireGallery().Delete(www.ParseID(params.ByName("id")))
	www.Check(err)
	if !found {
		www.PanicNotFound()
	}
	www.SendOK(w)
}
