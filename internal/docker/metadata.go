package docker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Metadata is the key/value content of a sidecar file
type Metadata map[string]string

// ReadMetadata loads the sidecar beside a compose-managed container's compose file
func ReadMetadata(c Container) (Metadata, error) {
	path := c.MetadataPath()
	if path == "" {
		return nil, fmt.Errorf("container %s is not compose-managed", c.Name)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return Metadata(values), nil
}

// OwnContainer marks a compose-managed container as managed by writing its
// sidecar file. The engine is not involved.
func (c *Client) OwnContainer(ctx context.Context, id string) (*ContainerAction, error) {
	ct, err := c.GetContainer(ctx, id)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return &ContainerAction{ID: id, Action: "own", Outcome: OutcomeNotFound, Message: "container not found"}, nil
		}
		return nil, err
	}

	if !ct.IsCompose {
		return &ContainerAction{ID: id, Action: "own", Outcome: OutcomeConflict, Message: "container is not compose-managed"}, nil
	}
	if info, err := os.Stat(*ct.ComposePath); err != nil || !info.Mode().IsRegular() {
		return &ContainerAction{ID: id, Action: "own", Outcome: OutcomeConflict, Message: "compose file not found on this host"}, nil
	}
	if ct.IsManaged() {
		return &ContainerAction{ID: id, Action: "own", Outcome: OutcomeNotModified, Message: "container is already managed"}, nil
	}

	meta := map[string]string{
		"CONTAINER_NAME": ct.Name,
		"COMPOSE_FILE":   *ct.ComposePath,
		"OWNED_AT":       time.Now().UTC().Format(time.RFC3339),
	}
	if ct.ComposeProject != nil {
		meta["COMPOSE_PROJECT"] = *ct.ComposeProject
	}

	if err := godotenv.Write(meta, ct.MetadataPath()); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	c.logger.Info().Str("container", ct.Name).Str("path", ct.MetadataPath()).Msg("Container owned")
	return &ContainerAction{ID: ct.ID, Action: "own", Outcome: OutcomeSuccess, Message: "container is now managed"}, nil
}

// DisownContainer removes the sidecar file of a compose-managed container
func (c *Client) DisownContainer(ctx context.Context, id string) (*ContainerAction, error) {
	ct, err := c.GetContainer(ctx, id)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return &ContainerAction{ID: id, Action: "disown", Outcome: OutcomeNotFound, Message: "container not found"}, nil
		}
		return nil, err
	}

	if !ct.IsCompose {
		return &ContainerAction{ID: id, Action: "disown", Outcome: OutcomeConflict, Message: "container is not compose-managed"}, nil
	}

	if err := os.Remove(ct.MetadataPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ContainerAction{ID: ct.ID, Action: "disown", Outcome: OutcomeNotModified, Message: "container is not managed"}, nil
		}
		return nil, fmt.Errorf("failed to remove metadata: %w", err)
	}

	c.logger.Info().Str("container", ct.Name).Msg("Container disowned")
	return &ContainerAction{ID: ct.ID, Action: "disown", Outcome: OutcomeSuccess, Message: "container is no longer managed"}, nil
}
