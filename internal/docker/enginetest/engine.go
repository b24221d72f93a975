// Package enginetest runs a scripted container engine on a Unix socket so
// the real client can be exercised end to end in tests.
package enginetest

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// Engine is an HTTP server on a Unix socket. Routes use http.ServeMux
// patterns such as "GET /containers/json" or "POST /containers/{id}/start".
type Engine struct {
	SocketPath string

	mux      *http.ServeMux
	server   *http.Server
	mu       sync.Mutex
	requests []string
	hits     map[string]int
}

// Start listens on a fresh socket and stops the engine when the test ends
func Start(t testing.TB) *Engine {
	t.Helper()

	// t.TempDir can exceed the sun_path limit for Unix sockets
	dir, err := os.MkdirTemp("", "engine-*")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}

	socketPath := filepath.Join(dir, "docker.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("listen unix: %v", err)
	}

	e := &Engine{
		SocketPath: socketPath,
		mux:        http.NewServeMux(),
		hits:       make(map[string]int),
	}
	e.server = &http.Server{Handler: http.HandlerFunc(e.serve)}
	e.Handle("GET /_ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	go func() {
		if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fake engine serve: %v", err)
		}
	}()

	t.Cleanup(func() {
		e.server.Close()
		os.RemoveAll(dir)
	})

	return e
}

// Handle registers a handler for a route pattern
func (e *Engine) Handle(pattern string, h http.HandlerFunc) {
	e.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.hits[pattern]++
		e.mu.Unlock()
		h(w, r)
	})
}

// JSON registers a route answering status with v encoded as JSON
func (e *Engine) JSON(pattern string, status int, v any) {
	e.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, v)
	})
}

// Raw registers a route answering status with body verbatim
func (e *Engine) Raw(pattern string, status int, body string) {
	e.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

// Status registers a route answering status with an empty body
func (e *Engine) Status(pattern string, status int) {
	e.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// Hits returns how many times a pattern was served
func (e *Engine) Hits(pattern string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits[pattern]
}

// Requests returns "METHOD /path?query" for every request received
func (e *Engine) Requests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.requests...)
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.requests = append(e.requests, r.Method+" "+r.URL.RequestURI())
	e.mu.Unlock()
	e.mux.ServeHTTP(w, r)
}

// WriteJSON writes v as a JSON response
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Frame encodes one multiplexed log frame: stream byte, three zero bytes,
// big-endian payload length, payload.
func Frame(stream byte, payload string) []byte {
	header := make([]byte, 8, 8+len(payload))
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}
