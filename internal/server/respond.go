package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngenohkevin/homedeck-agent/internal/docker"
)

// outcomeStatus maps a command outcome to the HTTP status returned to callers
func outcomeStatus(o docker.Outcome) int {
	switch o {
	case docker.OutcomeSuccess:
		return http.StatusOK
	case docker.OutcomeNotModified:
		return http.StatusNotModified
	case docker.OutcomeNotFound:
		return http.StatusNotFound
	case docker.OutcomeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// errorStatus maps a client error to an HTTP status
func errorStatus(err error) int {
	var upstream *docker.UpstreamError
	var protocol *docker.ProtocolError

	switch {
	case errors.Is(err, docker.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, docker.ErrContainerNotFound), errors.Is(err, docker.ErrImageNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream), errors.As(err, &protocol):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// respondAction writes a command result. 304 carries no body, so the result
// is echoed in a header for clients that want it.
func respondAction(c *gin.Context, action *docker.ContainerAction) {
	status := outcomeStatus(action.Outcome)
	if status == http.StatusNotModified {
		c.Header("X-Homedeck-Outcome", action.Outcome.String())
		c.Status(status)
		return
	}
	c.JSON(status, action)
}
