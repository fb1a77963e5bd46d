package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// Image upload routes run the networks. Each one has its own per-IP limiter.
	requestsPerMinute := s.Engine.Config().HTTP.RequestsPerMinute
	ratelimited := func(method, route string, h httprouter.Handle) {
		if requestsPerMinute == 0 {
			handle(method, route, h)
			return
		}
		limited := httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/stats", s.httpStats)

	ratelimited("POST", "/api/detect", s.httpDetect)
	ratelimited("POST", "/api/extract", s.httpExtract)
	ratelimited("POST", "/api/verify", s.httpVerify)

	ratelimited("POST", "/api/gallery/enroll/:name", s.httpGalleryEnroll)
	ratelimited("POST", "/api/gallery/search", s.httpGallerySearch)
	handle("GET", "/api/gallery/people", s.httpGalleryPeople)
	handle("DELETE", "/api/gallery/person/:id", s.httpGalleryDelete)

	s.httpRouter = router
}
