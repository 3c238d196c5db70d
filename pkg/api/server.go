package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/metrics"
	"github.com/jitbridge/jitbridge/pkg/orchestrator"
	"github.com/jitbridge/jitbridge/pkg/pairing"
	"github.com/jitbridge/jitbridge/pkg/registry"
	"github.com/jitbridge/jitbridge/pkg/session"
	"github.com/jitbridge/jitbridge/pkg/types"
	"github.com/jitbridge/jitbridge/pkg/wireguard"
)

// Server is the HTTP front door. Request parsing lives here; everything of
// consequence happens in the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	version  string
	srv      *http.Server
}

// NewServer creates the API server
func NewServer(orch *orchestrator.Orchestrator, reg *registry.Registry, version string) *Server {
	return &Server{orch: orch, registry: reg, version: version}
}

// router builds the gin engine with all routes attached
func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe)

	r.POST("/register", s.handleRegister)
	r.POST("/activate/:udid", s.handleActivate)
	r.GET("/status/:udid", s.handleStatus)
	r.GET("/devices", s.handleListDevices)
	r.DELETE("/devices/:udid", s.handleRemoveDevice)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": s.version})
	})
	return r
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// observe records request metrics and logs failures
func (s *Server) observe(c *gin.Context) {
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := strconv.Itoa(c.Writer.Status())
	metrics.APIRequestsTotal.WithLabelValues(route, status).Inc()

	if c.Writer.Status() >= http.StatusInternalServerError {
		logger := log.WithComponent("api")
		logger.Error().
			Str("route", route).
			Str("status", status).
			Msg("request failed")
	}
}

// handleRegister accepts a pairing plist and answers with the client's
// tunnel configuration as plain text
func (s *Server) handleRegister(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed", "error": "missing pairing record"})
		return
	}

	peer, err := s.orch.RegisterDevice(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="jitbridge.conf"`)
	c.String(http.StatusOK, wireguard.RenderClientConfig(peer))
}

// handleActivate admits an activation request and returns immediately
func (s *Server) handleActivate(c *gin.Context) {
	udid := c.Param("udid")

	handle, err := s.orch.Activate(udid)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "dispatched",
		"session_id": handle.ID,
	})
}

// handleStatus reports the latest session for a device
func (s *Server) handleStatus(c *gin.Context) {
	udid := c.Param("udid")

	status, err := s.orch.Status(udid)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := gin.H{
		"session_id": status.Session.ID,
		"status":     dispositionOf(status.Session),
	}
	if status.Session.Error != "" {
		resp["error"] = status.Session.Error
	}
	if !status.Session.State.Terminal() && status.QueuePosition >= 0 {
		resp["queue_position"] = status.QueuePosition
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.registry.List()
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		out = append(out, gin.H{
			"udid":      d.UDID,
			"address":   d.Address.String(),
			"last_seen": d.LastSeen,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (s *Server) handleRemoveDevice(c *gin.Context) {
	if err := s.orch.RemoveDevice(c.Param("udid")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := metrics.GetHealth()
	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

// writeError maps orchestrator errors onto the stable wire statuses
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pairing.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed", "error": err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "failed", "error": "device not registered"})
	case errors.Is(err, registry.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"status": "already_registered", "error": err.Error()})
	case errors.Is(err, registry.ErrRegistrationDisabled), errors.Is(err, registry.ErrDeviceCapReached):
		c.JSON(http.StatusForbidden, gin.H{"status": "failed", "error": err.Error()})
	case errors.Is(err, session.ErrTooSoon):
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "too_soon", "error": err.Error()})
	case errors.Is(err, wireguard.ErrPoolExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "pool_exhausted", "error": err.Error()})
	case errors.Is(err, wireguard.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"status": "failed", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "error": fmt.Sprintf("internal error: %v", err)})
	}
}

// dispositionOf maps a session to its caller-facing status word
func dispositionOf(s types.Session) string {
	switch s.State {
	case types.SessionSucceeded:
		return "activated"
	case types.SessionFailed:
		return "failed"
	case types.SessionTimedOut:
		return "timed_out"
	case types.SessionCancelled:
		return "cancelled"
	case types.SessionDispatched:
		return "in_progress"
	default:
		return "queued"
	}
}
