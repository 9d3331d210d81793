// Package httpapi exposes the operator-facing HTTP surface:
// health/readiness probes, Prometheus metrics, playbook reload, and
// read/write device and threat-intel endpoints, routed through gorilla/mux
// with a logging and recovery middleware chain.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/ioc"
	"github.com/orion-sentinel/netsec/internal/logstore"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/playbook"
)

// PlaybookLoader loads and validates the current playbook set from its
// backing file, returning the parsed set for Reload to install.
type PlaybookLoader func() ([]playbook.Playbook, error)

// Server owns the mux.Router and the dependencies its handlers call into.
// It implements lifecycle.Service so it can be registered with the same
// Manager as the SOAR and health-score services.
type Server struct {
	router  *mux.Router
	httpSrv *http.Server

	devices   *device.Store
	iocs      *ioc.Store
	engine    *playbook.Engine
	loadPBs   PlaybookLoader
	logClient *logstore.Client
	log       *logging.Logger
	ready     func() bool
}

// Config controls the listen address and handler wiring.
type Config struct {
	Addr string
}

// New builds a Server and registers every route. ready reports whether the
// process should answer readiness probes positively; pass nil to always
// report ready once Start has been called. logClient is optional: when nil,
// /events/recent answers 501.
func New(cfg Config, devices *device.Store, iocs *ioc.Store, engine *playbook.Engine, loadPBs PlaybookLoader, logClient *logstore.Client, log *logging.Logger, ready func() bool) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		devices:   devices,
		iocs:      iocs,
		engine:    engine,
		loadPBs:   loadPBs,
		logClient: logClient,
		log:       log,
		ready:     ready,
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) routes() {
	s.router.Use(loggingMiddleware(s.log))
	s.router.Use(recoveryMiddleware(s.log))

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/playbooks/reload", s.handlePlaybooksReload).Methods(http.MethodPost)

	s.router.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id}/tags", s.handleAddDeviceTag).Methods(http.MethodPost)

	s.router.HandleFunc("/iocs/stats", s.handleIOCStats).Methods(http.MethodGet)

	s.router.HandleFunc("/events/recent", s.handleRecentEvents).Methods(http.MethodGet)
}

// Name implements lifecycle.Service.
func (s *Server) Name() string { return "http-api" }

// Start implements lifecycle.Service: it begins serving in the background
// and returns immediately, consistent with SOAR and health-score Start.
func (s *Server) Start(context.Context) error {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed && s.log != nil {
			s.log.WithError(err).Error("http api server error")
		}
	}()
	return nil
}

// Stop implements lifecycle.Service, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
