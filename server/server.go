package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/faceid/pkg/nn"
	"github.com/cyclopcam/faceid/pkg/onnx"
	"github.com/cyclopcam/faceid/server/config"
	"github.com/cyclopcam/faceid/server/engine"
	"github.com/cyclopcam/faceid/server/gallery"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/multierr"
)

type Server struct {
	Log     logs.Log
	Engine  *engine.Engine
	Gallery *gallery.Gallery // nil if no gallery database is configured

	// Receives the result of Shutdown, once everything has been closed
	ShutdownComplete chan error

	shutdownOnce sync.Once
	signalIn     chan os.Signal
	httpLock     sync.Mutex // Guards httpServer and isShutdown
	httpServer   *http.Server
	isShutdown   bool
	httpRouter   *httprouter.Router
	backend      *onnx.Backend // nil if the backend was injected
}

// NewServer loads the config file, and starts ONNX Runtime on the configured devices
func NewServer(configFile string) (*Server, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	backend, err := onnx.NewBackend(logger, cfg.BackendOptions())
	if err != nil {
		return nil, err
	}
	s, err := NewServerWithBackend(logger, cfg, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.backend = backend
	return s, nil
}

// NewServerWithBackend creates a server that runs its networks on backend
func NewServerWithBackend(logger logs.Log, cfg *config.Config, backend nn.Backend) (*Server, error) {
	eng, err := engine.NewEngine(logger, cfg, backend)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:              logger,
		Engine:           eng,
		ShutdownComplete: make(chan error, 1),
	}
	if cfg.Gallery.DB != "" {
		if s.Gallery, err = gallery.NewGallery(logger, cfg.Gallery.DB); err != nil {
			eng.Close()
			return nil, err
		}
	}
	s.setupHttpRoutes()
	return s, nil
}

// port example: ":8090"
// Returns http.ErrServerClosed after Shutdown.
func (s *Server) ListenHTTP(port string) error {
	s.httpLock.Lock()
	if s.isShutdown {
		s.httpLock.Unlock()
		return http.ErrServerClosed
	}
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	httpServer := s.httpServer
	s.httpLock.Unlock()
	return httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown() was called by something other than ourselves, and closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops the HTTP server, waits for in-flight requests to return
// their contexts, and then releases the networks.
// Only the first call has any effect. When it is done, the combined close
// error is sent to ShutdownComplete.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	s.httpLock.Lock()
	s.isShutdown = true
	httpServer := s.httpServer
	s.httpLock.Unlock()

	var err error
	if httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if herr := httpServer.Shutdown(ctx); herr != nil {
			s.Log.Warnf("HTTP shutdown error: %v", herr)
			err = multierr.Append(err, herr)
		}
	}
	if eerr := s.Engine.Close(); eerr != nil {
		s.Log.Warnf("Error closing face contexts: %v", eerr)
		err = multierr.Append(err, eerr)
	}
	if s.Gallery != nil {
		s.Gallery.Close()
	}
	if s.backend != nil {
		if berr := s.backend.Close(); berr != nil {
			s.Log.Warnf("Error closing ONNX Runtime: %v", berr)
			err = multierr.Append(err, berr)
		}
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
	s.ShutdownComplete <- err
}
