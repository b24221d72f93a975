package docker

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/homedeck-agent/internal/docker/enginetest"
)

type staticResolver netip.Addr

func (r staticResolver) OutboundIP() netip.Addr { return netip.Addr(r) }

func newTestClient(t *testing.T, engine *enginetest.Engine) *Client {
	t.Helper()
	return NewClient(Options{
		SocketPath:    engine.SocketPath,
		Timeout:       2 * time.Second,
		CacheLifetime: time.Minute,
		StopTimeout:   5 * time.Second,
	}, staticResolver(netip.MustParseAddr("192.168.1.20")), zerolog.Nop())
}

func containerJSON(id, name, state string, labels map[string]string) map[string]any {
	return map[string]any{
		"Id":         id,
		"Names":      []string{"/" + name},
		"Image":      name + ":latest",
		"ImageID":    "sha256:" + id,
		"Command":    "/entrypoint",
		"Created":    1700000000,
		"State":      state,
		"Status":     state,
		"Labels":     labels,
		"HostConfig": map[string]any{"NetworkMode": "host"},
	}
}

func TestNewClientPerformsNoIO(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{})

	_ = newTestClient(t, engine)
	assert.Empty(t, engine.Requests())
}

func TestInitLoadsRegistries(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{containerJSON("aaa111", "web", "running", nil)})
	engine.JSON("GET /images/json", http.StatusOK, []any{
		map[string]any{"Id": "sha256:img", "RepoTags": []string{"web:latest"}, "Created": 1, "Size": 10},
	})

	client := newTestClient(t, engine)
	require.NoError(t, client.Init(context.Background()))

	containers, err := client.ListContainers(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "web", containers[0].Name)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), containers[0].IPAddress)

	images, err := client.ListImages(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, images, 1)

	assert.Equal(t, 1, engine.Hits("GET /containers/json"))
	assert.Equal(t, 1, engine.Hits("GET /images/json"))
	assert.False(t, client.ContainersUpdatedAt().IsZero())
}

func TestInitMissingSocket(t *testing.T) {
	client := NewClient(Options{SocketPath: filepath.Join(t.TempDir(), "none.sock"), Timeout: time.Second}, nil, zerolog.Nop())
	err := client.Init(context.Background())
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.False(t, client.IsAvailable(context.Background()))
}

func TestListContainersForceRefresh(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{})

	client := newTestClient(t, engine)
	_, err := client.ListContainers(context.Background(), false)
	require.NoError(t, err)
	_, err = client.ListContainers(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Hits("GET /containers/json"))

	_, err = client.ListContainers(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Hits("GET /containers/json"))
}

func TestListContainersConcurrentReadersShareFetch(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Handle("GET /containers/json", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		enginetest.WriteJSON(w, http.StatusOK, []any{containerJSON("aaa111", "web", "running", nil)})
	})

	client := newTestClient(t, engine)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := client.ListContainers(context.Background(), false)
			assert.NoError(t, err)
			assert.Len(t, list, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, engine.Hits("GET /containers/json"))
}

func TestCommandDuringListingLeavesRegistryStale(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Status("POST /containers/{id}/start", http.StatusNoContent)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	engine.Handle("GET /containers/json", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			enginetest.WriteJSON(w, http.StatusOK, []any{containerJSON("aaa111", "web", "exited", nil)})
			return
		}
		enginetest.WriteJSON(w, http.StatusOK, []any{containerJSON("aaa111", "web", "running", nil)})
	})

	client := newTestClient(t, engine)

	listed := make(chan error, 1)
	go func() {
		_, err := client.ListContainers(context.Background(), false)
		listed <- err
	}()

	<-started
	action, err := client.StartContainer(context.Background(), "web")
	require.NoError(t, err)
	assert.True(t, action.Succeeded())
	close(release)
	require.NoError(t, <-listed)

	ct, err := client.GetContainer(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "running", ct.State)
	assert.Equal(t, 2, engine.Hits("GET /containers/json"))
}

func TestListContainersMalformedRecordKeepsPrevious(t *testing.T) {
	engine := enginetest.Start(t)
	var calls atomic.Int32
	engine.Handle("GET /containers/json", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			enginetest.WriteJSON(w, http.StatusOK, []any{containerJSON("aaa111", "web", "running", nil)})
			return
		}
		enginetest.WriteJSON(w, http.StatusOK, []any{map[string]any{"Id": "broken"}})
	})

	client := newTestClient(t, engine)
	_, err := client.ListContainers(context.Background(), false)
	require.NoError(t, err)

	_, err = client.ListContainers(context.Background(), true)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)

	ct, err := client.GetContainer(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "aaa111", ct.ID)
}

func TestListContainersUpstreamError(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/json", http.StatusInternalServerError, `{"message":"boom"}`)

	client := newTestClient(t, engine)
	_, err := client.ListContainers(context.Background(), false)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "boom", upstream.Body)
}

func TestGetContainerNotFound(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{})

	client := newTestClient(t, engine)
	_, err := client.GetContainer(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrContainerNotFound)

	engine.JSON("GET /images/json", http.StatusOK, []any{})
	_, err = client.GetImage(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestGetContainerStats(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Handle("GET /containers/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("stream"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, statsRecord)
	})

	client := newTestClient(t, engine)
	stats, err := client.GetContainerStats(context.Background(), "sonarr")
	require.NoError(t, err)
	assert.Equal(t, 80.0, stats.CPUPercent)

	// Stats are never cached
	_, err = client.GetContainerStats(context.Background(), "sonarr")
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Hits("GET /containers/{id}/stats"))
}

func TestGetContainerStatsNotFound(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/{id}/stats", http.StatusNotFound, `{"message":"No such container"}`)

	client := newTestClient(t, engine)
	_, err := client.GetContainerStats(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestOwnAndDisown(t *testing.T) {
	dir := t.TempDir()
	composeFile := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(composeFile, []byte("services: {}\n"), 0o644))

	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{
		containerJSON("aaa111", "web", "running", map[string]string{
			LabelComposeConfigFiles: composeFile,
			LabelComposeProject:     "stack",
		}),
		containerJSON("bbb222", "loose", "running", nil),
	})

	client := newTestClient(t, engine)
	ctx := context.Background()

	action, err := client.OwnContainer(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, action.Outcome)

	ct, err := client.GetContainer(ctx, "web")
	require.NoError(t, err)
	assert.True(t, ct.IsManaged())

	meta, err := ReadMetadata(ct)
	require.NoError(t, err)
	assert.Equal(t, "web", meta["CONTAINER_NAME"])
	assert.Equal(t, "stack", meta["COMPOSE_PROJECT"])

	action, err = client.OwnContainer(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotModified, action.Outcome)

	action, err = client.DisownContainer(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, action.Outcome)
	assert.False(t, ct.IsManaged())

	action, err = client.DisownContainer(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotModified, action.Outcome)

	action, err = client.OwnContainer(ctx, "loose")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, action.Outcome)

	action, err = client.OwnContainer(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, action.Outcome)
}
