// Package server exposes the daemon's read-only status API. The handlers
// only read the monitor's last-cycle snapshot; they never touch persisted
// state and offer no control operations.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unitmon/unitmon/internal/config"
	"github.com/unitmon/unitmon/internal/monitor"
	itls "github.com/unitmon/unitmon/internal/tls"
)

// Router provides embeddable HTTP handlers for the status surface.
// Endpoints:
//
//	GET {basePath}/status   last cycle results per unit
//	GET {basePath}/healthz  liveness probe
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mon      *monitor.Monitor
	basePath string
}

func NewRouter(mon *monitor.Monitor, basePath string) *Router {
	return &Router{mon: mon, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// StatusResponse is the JSON document served by GET /status.
type StatusResponse struct {
	UpdatedAt time.Time               `json:"updated_at"`
	Down      int                     `json:"down"`
	Services  []monitor.ServiceResult `json:"services"`
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	res, ok := r.mon.LastCycle()
	if !ok {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "no cycle completed yet"})
		return
	}
	writeJSON(c, http.StatusOK, StatusResponse{
		UpdatedAt: res.FinishedAt,
		Down:      res.Down(),
		Services:  res.Services,
	})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// New builds a standalone HTTP server for the configured listen address,
// applying TLS when configured. The caller starts and shuts it down.
func New(cfg config.ServerConfig, mon *monitor.Monitor) (*http.Server, error) {
	r := NewRouter(mon, cfg.BasePath)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tlsConf, err := itls.Setup(cfg.TLS)
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = tlsConf
	return srv, nil
}
