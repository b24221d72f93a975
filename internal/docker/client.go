package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ngenohkevin/homedeck-agent/internal/cache"
)

// Options configures a Client
type Options struct {
	SocketPath    string
	Timeout       time.Duration
	CacheLifetime time.Duration
	StopTimeout   time.Duration
}

// Client is the container control-plane: it owns the container and image
// registries and issues lifecycle commands through the transport.
type Client struct {
	transport   *Transport
	containers  *cache.Snapshot[[]Container]
	images      *cache.Snapshot[[]Image]
	resolver    HostAddressResolver
	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewClient wires a client. It performs no I/O; call Init once at startup.
func NewClient(opts Options, resolver HostAddressResolver, logger zerolog.Logger) *Client {
	c := &Client{
		transport:   NewTransport(opts.SocketPath, opts.Timeout),
		resolver:    resolver,
		stopTimeout: opts.StopTimeout,
		logger:      logger.With().Str("component", "docker").Logger(),
	}
	c.containers = cache.NewSnapshot(opts.CacheLifetime, c.fetchContainers)
	c.images = cache.NewSnapshot(opts.CacheLifetime, c.fetchImages)
	return c
}

// Init loads both registries. A failure leaves the client usable; the next
// read retries.
func (c *Client) Init(ctx context.Context) error {
	if err := c.containers.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load containers: %w", err)
	}
	if err := c.images.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}
	return nil
}

// Transport exposes the underlying transport
func (c *Client) Transport() *Transport {
	return c.transport
}

// IsAvailable checks that the engine answers a ping
func (c *Client) IsAvailable(ctx context.Context) bool {
	resp, err := c.transport.SendRequest(ctx, http.MethodGet, "/_ping", nil)
	return err == nil && resp.Success
}

// ListContainers returns the cached container list, refreshing it first when
// stale or when force is set.
func (c *Client) ListContainers(ctx context.Context, force bool) ([]Container, error) {
	if force {
		if err := c.containers.Refresh(ctx); err != nil {
			return nil, err
		}
		list, _ := c.containers.Get()
		return list, nil
	}
	return c.containers.Load(ctx)
}

// GetContainer finds a container by ID, name or unambiguous ID prefix
func (c *Client) GetContainer(ctx context.Context, ref string) (Container, error) {
	list, err := c.containers.Load(ctx)
	if err != nil {
		return Container{}, err
	}
	if ct, ok := FindContainer(list, ref); ok {
		return ct, nil
	}
	return Container{}, fmt.Errorf("%w: %s", ErrContainerNotFound, ref)
}

// ContainersUpdatedAt returns when the container registry was last refreshed
func (c *Client) ContainersUpdatedAt() time.Time {
	return c.containers.LastUpdate()
}

// ListImages returns the cached image list, refreshing it first when stale
// or when force is set.
func (c *Client) ListImages(ctx context.Context, force bool) ([]Image, error) {
	if force {
		if err := c.images.Refresh(ctx); err != nil {
			return nil, err
		}
		list, _ := c.images.Get()
		return list, nil
	}
	return c.images.Load(ctx)
}

// GetImage finds an image by ID, tag or unambiguous short ID
func (c *Client) GetImage(ctx context.Context, ref string) (Image, error) {
	list, err := c.images.Load(ctx)
	if err != nil {
		return Image{}, err
	}
	if img, ok := FindImage(list, ref); ok {
		return img, nil
	}
	return Image{}, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
}

// ImagesUpdatedAt returns when the image registry was last refreshed
func (c *Client) ImagesUpdatedAt() time.Time {
	return c.images.LastUpdate()
}

// GetContainerStats fetches a fresh one-shot stats sample
func (c *Client) GetContainerStats(ctx context.Context, id string) (ContainerStats, error) {
	resp, err := c.transport.SendRequest(ctx, http.MethodGet,
		"/containers/"+url.PathEscape(id)+"/stats?stream=false", nil)
	if err != nil {
		return ContainerStats{}, err
	}

	switch {
	case resp.Success:
		return ParseStats(resp.Body)
	case resp.Status == http.StatusNotFound:
		return ContainerStats{}, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	default:
		return ContainerStats{}, &UpstreamError{Status: resp.Status, Body: engineMessage(resp.Body)}
	}
}

func (c *Client) fetchContainers(ctx context.Context) ([]Container, error) {
	records, err := c.fetchList(ctx, "/containers/json?all=true")
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	hostIP := sync.OnceValue(func() netip.Addr {
		if c.resolver == nil {
			return netip.Addr{}
		}
		return c.resolver.OutboundIP()
	})

	list := make([]Container, 0, len(records))
	for _, raw := range records {
		ct, err := ParseContainer(raw, hostIP)
		if err != nil {
			return nil, fmt.Errorf("failed to list containers: %w", err)
		}
		list = append(list, ct)
	}

	c.logger.Debug().Int("count", len(list)).Msg("Refreshed container registry")
	return list, nil
}

func (c *Client) fetchImages(ctx context.Context) ([]Image, error) {
	records, err := c.fetchList(ctx, "/images/json")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	list := make([]Image, 0, len(records))
	for _, raw := range records {
		img, err := ParseImage(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}
		list = append(list, img)
	}

	c.logger.Debug().Int("count", len(list)).Msg("Refreshed image registry")
	return list, nil
}

func (c *Client) fetchList(ctx context.Context, path string) ([]json.RawMessage, error) {
	resp, err := c.transport.SendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &UpstreamError{Status: resp.Status, Body: engineMessage(resp.Body)}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return nil, &ProtocolError{Model: "list", Err: err}
	}
	return records, nil
}

// InvalidateContainers marks the container registry stale, for changes made
// outside the engine API such as compose runs.
func (c *Client) InvalidateContainers() {
	c.containers.Invalidate()
}
