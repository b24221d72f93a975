package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/homedeck-agent/config"
	"github.com/ngenohkevin/homedeck-agent/internal/docker"
	"github.com/ngenohkevin/homedeck-agent/internal/docker/enginetest"
)

func newTestServer(t *testing.T, engine *enginetest.Engine) *Server {
	t.Helper()
	cfg := config.LoadWithDefaults()
	cfg.RateLimitRPS = 0
	if engine != nil {
		cfg.DockerSocket = engine.SocketPath
	} else {
		cfg.DockerEnabled = false
	}
	return New(cfg, zerolog.Nop())
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func testContainer(id, name string, labels map[string]string) map[string]any {
	return map[string]any{
		"Id":         id,
		"Names":      []string{"/" + name},
		"Image":      "img",
		"ImageID":    "sha256:img",
		"Command":    "run",
		"Created":    1700000000,
		"State":      "running",
		"Status":     "Up",
		"Labels":     labels,
		"HostConfig": map[string]any{"NetworkMode": "bridge"},
		"NetworkSettings": map[string]any{"Networks": map[string]any{
			"bridge": map[string]any{"IPAddress": "172.17.0.2"},
		}},
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w := serve(s, "GET", "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["docker"])
}

func TestDockerRoutesDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	w := serve(s, "GET", "/api/docker/containers")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDockerSocketMissing(t *testing.T) {
	cfg := config.LoadWithDefaults()
	cfg.DockerSocket = filepath.Join(t.TempDir(), "missing.sock")
	s := New(cfg, zerolog.Nop())

	w := serve(s, "GET", "/api/docker/containers")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListContainers(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{testContainer("aaa111", "web", map[string]string{"homedeck.icon": "si:nginx"})})

	s := newTestServer(t, engine)
	w := serve(s, "GET", "/api/docker/containers")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Containers []map[string]any `json:"containers"`
		Total      int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "web", body.Containers[0]["name"])
	assert.Equal(t, "172.17.0.2", body.Containers[0]["ip_address"])
	assert.Equal(t, "https://cdn.simpleicons.org/nginx", body.Containers[0]["icon_url"])
	assert.Equal(t, false, body.Containers[0]["is_managed"])

	serve(s, "GET", "/api/docker/containers?refresh=true")
	assert.Equal(t, 2, engine.Hits("GET /containers/json"))
}

func TestListContainersMalformed(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{map[string]any{"Id": "x"}})

	w := serve(newTestServer(t, engine), "GET", "/api/docker/containers")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetContainerNotFound(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{})

	w := serve(newTestServer(t, engine), "GET", "/api/docker/containers/ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContainerCommandStatuses(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Status("POST /containers/{id}/start", http.StatusNotModified)
	engine.Status("POST /containers/{id}/stop", http.StatusNoContent)
	engine.Raw("POST /containers/{id}/kill", http.StatusConflict, `{"message":"is not running"}`)
	engine.Raw("POST /containers/{id}/pause", http.StatusInternalServerError, `{"message":"cgroups"}`)
	engine.Status("POST /containers/{id}/restart", http.StatusNotFound)

	s := newTestServer(t, engine)

	w := serve(s, "POST", "/api/docker/containers/web/start")
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, "not_modified", w.Header().Get("X-Homedeck-Outcome"))

	w = serve(s, "POST", "/api/docker/containers/web/stop")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"success"`)

	w = serve(s, "POST", "/api/docker/containers/web/kill")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(s, "POST", "/api/docker/containers/web/pause")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "cgroups")

	w = serve(s, "POST", "/api/docker/containers/web/restart")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteContainerForwardsQuery(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Status("DELETE /containers/{id}", http.StatusNoContent)

	w := serve(newTestServer(t, engine), "DELETE", "/api/docker/containers/web?force=true&volumes=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, engine.Requests(), "DELETE /containers/web?force=true&v=true")
}

func TestContainerStats(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/{id}/stats", http.StatusOK, `{"id":"x","name":"/web",
		"cpu_stats":{"cpu_usage":{"total_usage":300},"system_cpu_usage":1000,"online_cpus":1},
		"precpu_stats":{"cpu_usage":{"total_usage":100},"system_cpu_usage":0},
		"memory_stats":{"usage":50,"limit":100}}`)

	w := serve(newTestServer(t, engine), "GET", "/api/docker/containers/web/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats docker.ContainerStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 20.0, stats.CPUPercent)
	assert.Equal(t, 50.0, stats.MemoryPercent)
}

func TestStreamContainerLogs(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Handle("GET /containers/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("tail"))
		w.WriteHeader(http.StatusOK)
		w.Write(enginetest.Frame(1, "hello\n"))
		w.Write(enginetest.Frame(2, "oops\n"))
	})

	w := serve(newTestServer(t, engine), "GET", "/api/docker/containers/web/logs?tail=5&follow=false")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:log"))
	assert.Contains(t, body, `"stream":"stdout","text":"hello\n"`)
	assert.Contains(t, body, `"stream":"stderr","text":"oops\n"`)
	assert.Contains(t, body, "event:end")
}

func TestStreamContainerLogsNotFound(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/{id}/logs", http.StatusNotFound, `{"message":"No such container"}`)

	w := serve(newTestServer(t, engine), "GET", "/api/docker/containers/ghost/logs")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "container not found")
}

func TestOwnDisownRoutes(t *testing.T) {
	dir := t.TempDir()
	composeFile := filepath.Join(dir, "compose.yaml")
	require.NoError(t, os.WriteFile(composeFile, []byte("services:\n  web:\n    image: nginx\n"), 0o644))

	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{
		testContainer("aaa111", "web", map[string]string{docker.LabelComposeConfigFiles: composeFile}),
	})

	s := newTestServer(t, engine)

	w := serve(s, "POST", "/api/docker/containers/web/own")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, "GET", "/api/docker/containers/web")
	assert.Contains(t, w.Body.String(), `"is_managed":true`)

	w = serve(s, "GET", "/api/docker/containers/web/compose")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"web"`)

	w = serve(s, "POST", "/api/docker/containers/web/disown")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, "POST", "/api/docker/containers/web/disown")
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestRunComposeAction(t *testing.T) {
	dir := t.TempDir()
	composeFile := filepath.Join(dir, "compose.yaml")
	require.NoError(t, os.WriteFile(composeFile, []byte("services: {}\n"), 0o644))
	script := filepath.Join(dir, "fake-compose")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755))

	engine := enginetest.Start(t)
	engine.JSON("GET /containers/json", http.StatusOK, []any{
		testContainer("aaa111", "web", map[string]string{docker.LabelComposeConfigFiles: composeFile}),
		testContainer("bbb222", "loose", nil),
	})

	cfg := config.LoadWithDefaults()
	cfg.DockerSocket = engine.SocketPath
	cfg.ComposeBinary = script
	s := New(cfg, zerolog.Nop())

	w := serve(s, "POST", "/api/docker/containers/web/compose/pull")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), "pull")

	w = serve(s, "POST", "/api/docker/containers/web/compose/build")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, "POST", "/api/docker/containers/loose/compose/up")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestImages(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("GET /images/json", http.StatusOK, []any{
		map[string]any{"Id": "sha256:abc", "RepoTags": []string{"nginx:latest"}, "Created": 1, "Size": 100},
		map[string]any{"Id": "sha256:def", "RepoTags": nil, "Created": 1, "Size": 50},
	})
	engine.Raw("DELETE /images/{id}", http.StatusConflict, `{"message":"in use"}`)
	engine.JSON("POST /images/prune", http.StatusOK, map[string]any{"ImagesDeleted": nil, "SpaceReclaimed": 0})

	s := newTestServer(t, engine)

	w := serve(s, "GET", "/api/docker/images")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_size":150`)

	w = serve(s, "GET", "/api/docker/images/nginx:latest")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, "DELETE", "/api/docker/images/nginx:latest")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(s, "POST", "/api/docker/images/prune?until=bogus")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, "POST", "/api/docker/images/prune")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":[]`)
}

func TestPruneContainersRoute(t *testing.T) {
	engine := enginetest.Start(t)
	engine.JSON("POST /containers/prune", http.StatusOK, map[string]any{"ContainersDeleted": []string{"a"}, "SpaceReclaimed": 1})

	w := serve(newTestServer(t, engine), "POST", "/api/docker/containers/prune")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":["a"]`)
}
