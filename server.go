package vaulthub

import (
	"compress/flate"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/utils"
)

// Hub is the part of the connection hub the server manages, it is closed after HTTP stops
type Hub interface {
	Close(timeout time.Duration) error
}

// Server is the main interface handlers are mounted on. It owns the HTTP listener and the
// hub's lifetime, and makes mocking easier for isolated unit tests
type Server interface {
	Config() *Config

	WaitGroup() *sync.WaitGroup
	StopChan() chan bool
	Stopped() bool

	Router() chi.Router
	Addr() string

	Start() error
	Stop() error
}

// NewServer creates a new Server for the passed in configuration. The server will have to be started
// afterwards, which is when configuration options are checked.
func NewServer(config *Config, hub Hub) Server {
	router := chi.NewRouter()
	router.Use(middleware.Compress(flate.DefaultCompression))
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	return &server{
		config: config,
		hub:    hub,

		router: router,

		stopChan:  make(chan bool),
		waitGroup: &sync.WaitGroup{},
		stopped:   false,
	}
}

// Start starts the Server listening for incoming requests. It returns an error if the configuration
// is invalid or the address can't be bound
func (s *server) Start() error {
	if err := s.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	// wire up our main pages
	s.router.NotFound(s.handle404)
	s.router.MethodNotAllowed(s.handle405)

	// configure timeouts on our server, websocket connections manage their own deadlines once hijacked
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Address, s.config.Port))
	if err != nil {
		return errors.Wrapf(err, "unable to listen on port %d", s.config.Port)
	}
	s.addr = listener.Addr().String()

	// and start serving HTTP
	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		err := s.httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{
				"comp":  "server",
				"state": "stopping",
				"err":   err,
			}).Error()
		}
	}()

	logrus.WithFields(logrus.Fields{
		"comp":    "server",
		"addr":    s.addr,
		"state":   "started",
		"version": s.config.Version,
	}).Info("server listening on ", s.addr)

	return nil
}

// Stop stops accepting requests then disconnects every websocket client
func (s *server) Stop() error {
	log := logrus.WithField("comp", "server")
	log.WithField("state", "stopping").Info("stopping server")

	// shut down our HTTP server if it ever started, hijacked websocket connections aren't tracked by it
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.WithField("state", "stopping").WithError(err).Error("error shutting down server")
		}
	}

	// then our websocket clients
	if err := s.hub.Close(10 * time.Second); err != nil {
		log.WithField("state", "stopping").WithError(err).Error("error closing hub")
	}

	// stop everything
	s.stopped = true
	close(s.stopChan)

	// wait for everything to stop
	s.waitGroup.Wait()

	log.WithField("state", "stopped").Info("server stopped")
	return nil
}

func (s *server) WaitGroup() *sync.WaitGroup { return s.waitGroup }
func (s *server) StopChan() chan bool { return s.stopChan }
func (s *server) Config() *Config { return s.config }
func (s *server) Stopped() bool { return s.stopped }
func (s *server) Router() chi.Router { return s.router }
func (s *server) Addr() string { return s.addr }

type server struct {
	httpServer *http.Server
	router     *chi.Mux
	addr       string

	config *Config
	hub    Hub

	waitGroup *sync.WaitGroup
	stopChan  chan bool
	stopped   bool
}

func (s *server) handle404(w http.ResponseWriter, r *http.Request) {
	logrus.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "404").Info("not found")
	utils.WriteErrorResponse(w, http.StatusNotFound, "Not Found")
}

func (s *server) handle405(w http.ResponseWriter, r *http.Request) {
	logrus.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "405").Info("invalid method")
	utils.WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
