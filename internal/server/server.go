package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ngenohkevin/homedeck-agent/config"
	"github.com/ngenohkevin/homedeck-agent/internal/compose"
	"github.com/ngenohkevin/homedeck-agent/internal/docker"
	"github.com/ngenohkevin/homedeck-agent/internal/system"
)

// shutdownTimeout bounds how long in-flight requests get after a stop signal
const shutdownTimeout = 10 * time.Second

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     *gin.Engine
	handlers   *Handlers
	docker     *docker.Client
	limiter    *RateLimiter
	httpServer *http.Server
}

// New creates a new server instance. No engine I/O happens here; Run
// initializes the registries.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var dockerClient *docker.Client
	if cfg.DockerEnabled {
		dockerClient = docker.NewClient(docker.Options{
			SocketPath:    cfg.DockerSocket,
			Timeout:       cfg.EngineTimeout,
			CacheLifetime: cfg.CacheLifetime,
			StopTimeout:   cfg.StopTimeout,
		}, system.AddressResolver{}, logger)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With().Str("component", "server").Logger(),
		router:  gin.New(),
		docker:  dockerClient,
		limiter: NewRateLimiter(cfg.RateLimitRPS),
		handlers: NewHandlers(cfg, logger, dockerClient,
			compose.NewRunner(cfg.ComposeBinary, cfg.ComposeTimeout, logger),
			system.NewCollector(cfg.MetricsCacheLifetime)),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(RateLimitMiddleware(s.limiter))
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		api.GET("/info", h.GetInfo)
		api.GET("/metrics", h.GetMetrics)
	}

	dockerAPI := api.Group("/docker")
	dockerAPI.Use(h.RequireDocker)
	{
		containers := dockerAPI.Group("/containers")
		containers.GET("", h.ListContainers)
		containers.POST("/prune", h.PruneContainers)
		containers.GET("/:id", h.GetContainer)
		containers.DELETE("/:id", h.DeleteContainer)
		containers.GET("/:id/stats", h.GetContainerStats)
		containers.GET("/:id/logs", h.StreamContainerLogs)
		containers.POST("/:id/start", h.StartContainer)
		containers.POST("/:id/stop", h.StopContainer)
		containers.POST("/:id/restart", h.RestartContainer)
		containers.POST("/:id/kill", h.KillContainer)
		containers.POST("/:id/pause", h.PauseContainer)
		containers.POST("/:id/unpause", h.UnpauseContainer)
		containers.POST("/:id/own", h.OwnContainer)
		containers.POST("/:id/disown", h.DisownContainer)
		containers.GET("/:id/compose", h.GetComposeServices)
		containers.POST("/:id/compose/:action", h.RunComposeAction)

		images := dockerAPI.Group("/images")
		images.GET("", h.ListImages)
		images.POST("/prune", h.PruneImages)
		images.GET("/:id", h.GetImage)
		images.DELETE("/:id", h.DeleteImage)
	}
}

// Run initializes the engine registries, serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.docker != nil {
		if err := s.docker.Init(ctx); err != nil {
			// The registries retry on the next read
			s.logger.Warn().Err(err).Str("socket", s.cfg.DockerSocket).Msg("Docker engine not reachable at startup")
		} else {
			s.logger.Info().Str("socket", s.cfg.DockerSocket).Msg("Docker registries loaded")
		}
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr()).Str("version", Version).Msg("Starting Homedeck Agent")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.notify(daemon.SdNotifyReady)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	s.notify(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// notify reports state to systemd when running as a Type=notify unit
func (s *Server) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to notify systemd")
		return
	}
	if sent {
		s.logger.Debug().Str("state", state).Msg("Notified systemd")
	}
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
