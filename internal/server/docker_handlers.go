package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ngenohkevin/homedeck-agent/internal/compose"
	"github.com/ngenohkevin/homedeck-agent/internal/docker"
)

// RequireDocker rejects docker routes when the engine integration is disabled
func (h *Handlers) RequireDocker(c *gin.Context) {
	if h.docker == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "docker integration disabled"})
		return
	}
	c.Next()
}

// ListContainers handles GET /api/docker/containers
func (h *Handlers) ListContainers(c *gin.Context) {
	containers, err := h.docker.ListContainers(c.Request.Context(), queryBool(c, "refresh"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"containers": containers,
		"total":      len(containers),
		"updated_at": h.docker.ContainersUpdatedAt(),
	})
}

// GetContainer handles GET /api/docker/containers/:id
func (h *Handlers) GetContainer(c *gin.Context) {
	container, err := h.docker.GetContainer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, container)
}

// GetContainerStats handles GET /api/docker/containers/:id/stats
func (h *Handlers) GetContainerStats(c *gin.Context) {
	stats, err := h.docker.GetContainerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// StreamContainerLogs handles GET /api/docker/containers/:id/logs (SSE).
// Each decoded frame is pushed as a "log" event as soon as it arrives.
func (h *Handlers) StreamContainerLogs(c *gin.Context) {
	opts := docker.LogOptions{
		Tail:       c.DefaultQuery("tail", "100"),
		Since:      c.Query("since"),
		Until:      c.Query("until"),
		Timestamps: queryBool(c, "timestamps"),
		Follow:     c.DefaultQuery("follow", "true") != "false",
	}

	ctx := c.Request.Context()
	stream, err := h.docker.OpenLogs(ctx, c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sent := 0
	stream.Each(ctx, func(event docker.LogEvent) bool {
		c.SSEvent("log", event)
		c.Writer.Flush()
		sent++
		return ctx.Err() == nil
	})

	if ctx.Err() == nil {
		c.SSEvent("end", gin.H{"lines": sent})
		c.Writer.Flush()
	}

	h.logger.Debug().Str("container", c.Param("id")).Int("lines", sent).Msg("Log stream closed")
}

// StartContainer handles POST /api/docker/containers/:id/start
func (h *Handlers) StartContainer(c *gin.Context) {
	h.runAction(c, h.docker.StartContainer)
}

// StopContainer handles POST /api/docker/containers/:id/stop
func (h *Handlers) StopContainer(c *gin.Context) {
	h.runAction(c, h.docker.StopContainer)
}

// RestartContainer handles POST /api/docker/containers/:id/restart
func (h *Handlers) RestartContainer(c *gin.Context) {
	h.runAction(c, h.docker.RestartContainer)
}

// KillContainer handles POST /api/docker/containers/:id/kill?signal=
func (h *Handlers) KillContainer(c *gin.Context) {
	action, err := h.docker.KillContainer(c.Request.Context(), c.Param("id"), c.Query("signal"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondAction(c, action)
}

// PauseContainer handles POST /api/docker/containers/:id/pause
func (h *Handlers) PauseContainer(c *gin.Context) {
	h.runAction(c, h.docker.PauseContainer)
}

// UnpauseContainer handles POST /api/docker/containers/:id/unpause
func (h *Handlers) UnpauseContainer(c *gin.Context) {
	h.runAction(c, h.docker.UnpauseContainer)
}

// OwnContainer handles POST /api/docker/containers/:id/own
func (h *Handlers) OwnContainer(c *gin.Context) {
	h.runAction(c, h.docker.OwnContainer)
}

// DisownContainer handles POST /api/docker/containers/:id/disown
func (h *Handlers) DisownContainer(c *gin.Context) {
	h.runAction(c, h.docker.DisownContainer)
}

// DeleteContainer handles DELETE /api/docker/containers/:id
func (h *Handlers) DeleteContainer(c *gin.Context) {
	opts := docker.DeleteOptions{
		Force:            queryBool(c, "force"),
		RemoveVolumes:    queryBool(c, "volumes"),
		DeleteComposeDir: queryBool(c, "compose_dir"),
	}

	action, err := h.docker.DeleteContainer(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondAction(c, action)
}

// PruneContainers handles POST /api/docker/containers/prune
func (h *Handlers) PruneContainers(c *gin.Context) {
	opts, ok := pruneOptions(c)
	if !ok {
		return
	}

	report, err := h.docker.PruneContainers(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(outcomeStatus(report.Outcome), report)
}

// GetComposeServices handles GET /api/docker/containers/:id/compose
func (h *Handlers) GetComposeServices(c *gin.Context) {
	container, ok := h.composeContainer(c)
	if !ok {
		return
	}

	services, err := compose.Services(*container.ComposePath)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"compose_path": *container.ComposePath,
		"project":      container.ComposeProject,
		"is_managed":   container.IsManaged(),
		"services":     services,
	})
}

// RunComposeAction handles POST /api/docker/containers/:id/compose/:action
func (h *Handlers) RunComposeAction(c *gin.Context) {
	action, err := compose.ParseAction(c.Param("action"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	container, ok := h.composeContainer(c)
	if !ok {
		return
	}

	result, err := h.compose.Run(c.Request.Context(), action, *container.ComposePath)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	h.docker.InvalidateContainers()

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

// composeContainer resolves :id to a compose-managed container, writing the
// error response itself when it cannot.
func (h *Handlers) composeContainer(c *gin.Context) (docker.Container, bool) {
	container, err := h.docker.GetContainer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return docker.Container{}, false
	}
	if !container.IsCompose {
		c.JSON(http.StatusConflict, gin.H{"error": "container is not compose-managed"})
		return docker.Container{}, false
	}
	return container, true
}

// ListImages handles GET /api/docker/images
func (h *Handlers) ListImages(c *gin.Context) {
	images, err := h.docker.ListImages(c.Request.Context(), queryBool(c, "refresh"))
	if err != nil {
		respondError(c, err)
		return
	}

	var size int64
	for _, img := range images {
		size += img.Size
	}

	c.JSON(http.StatusOK, gin.H{
		"images":     images,
		"total":      len(images),
		"total_size": size,
		"updated_at": h.docker.ImagesUpdatedAt(),
	})
}

// GetImage handles GET /api/docker/images/:id
func (h *Handlers) GetImage(c *gin.Context) {
	image, err := h.docker.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, image)
}

// DeleteImage handles DELETE /api/docker/images/:id
func (h *Handlers) DeleteImage(c *gin.Context) {
	action, err := h.docker.DeleteImage(c.Request.Context(), c.Param("id"), queryBool(c, "force"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondAction(c, action)
}

// PruneImages handles POST /api/docker/images/prune
func (h *Handlers) PruneImages(c *gin.Context) {
	opts, ok := pruneOptions(c)
	if !ok {
		return
	}

	report, err := h.docker.PruneImages(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(outcomeStatus(report.Outcome), report)
}

type containerCommand func(ctx context.Context, id string) (*docker.ContainerAction, error)

func (h *Handlers) runAction(c *gin.Context, run containerCommand) {
	action, err := run(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondAction(c, action)
}

// pruneOptions reads ?until=<duration>&all=<bool>
func pruneOptions(c *gin.Context) (docker.PruneOptions, bool) {
	opts := docker.PruneOptions{Until: c.Query("until"), All: queryBool(c, "all")}
	if opts.Until != "" {
		if _, err := time.ParseDuration(opts.Until); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be a duration such as 24h"})
			return opts, false
		}
	}
	return opts, true
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
