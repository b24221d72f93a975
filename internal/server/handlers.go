package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ngenohkevin/homedeck-agent/config"
	"github.com/ngenohkevin/homedeck-agent/internal/compose"
	"github.com/ngenohkevin/homedeck-agent/internal/docker"
	"github.com/ngenohkevin/homedeck-agent/internal/system"
)

// Version is reported by /health and /api/info
var Version = "dev"

// Handlers holds all HTTP handlers
type Handlers struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector *system.Collector
	docker    *docker.Client
	compose   *compose.Runner
	startedAt time.Time
}

// NewHandlers wires handlers. dockerClient may be nil when the engine is disabled.
func NewHandlers(cfg *config.Config, logger zerolog.Logger, dockerClient *docker.Client, runner *compose.Runner, collector *system.Collector) *Handlers {
	return &Handlers{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		docker:    dockerClient,
		compose:   runner,
		startedAt: time.Now(),
	}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	engine := "disabled"
	if h.docker != nil {
		engine = "unavailable"
		if h.docker.Transport().Available() {
			engine = "ok"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"docker":    engine,
	})
}

// GetInfo handles GET /api/info
func (h *Handlers) GetInfo(c *gin.Context) {
	hostInfo, err := system.GetHostInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	info := gin.H{
		"host":           hostInfo,
		"agent":          "homedeck-agent",
		"version":        Version,
		"agent_uptime":   time.Since(h.startedAt).Round(time.Second).String(),
		"docker_enabled": h.docker != nil,
	}
	if h.docker != nil {
		info["docker_available"] = h.docker.IsAvailable(c.Request.Context())
		info["docker_socket"] = h.docker.Transport().SocketPath()
	}

	c.JSON(http.StatusOK, info)
}

// GetMetrics handles GET /api/metrics
func (h *Handlers) GetMetrics(c *gin.Context) {
	metrics, err := h.collector.Metrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, metrics)
}
