package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// DefaultSocketPath is the engine's well-known control socket
const DefaultSocketPath = "/var/run/docker.sock"

// maxErrorBody caps how much of a refused stream's body is kept for diagnostics
const maxErrorBody = 64 * 1024

// Response is the outcome of one request/response exchange with the engine
type Response struct {
	Status  int
	Success bool
	Body    []byte
}

// Transport performs HTTP exchanges with the engine over its Unix socket.
// Every call dials its own connection and closes it before returning.
type Transport struct {
	socketPath string
	timeout    time.Duration
	client     *http.Client
}

// NewTransport creates a transport for the given socket path. A zero timeout
// leaves one-shot requests bounded only by the caller's context.
func NewTransport(socketPath string, timeout time.Duration) *Transport {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	return &Transport{
		socketPath: socketPath,
		timeout:    timeout,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
				DisableKeepAlives: true,
			},
		},
	}
}

// SocketPath returns the control socket this transport dials
func (t *Transport) SocketPath() string {
	return t.socketPath
}

// Available reports whether the control socket file exists
func (t *Transport) Available() bool {
	_, err := os.Stat(t.socketPath)
	return err == nil
}

// SendRequest performs one exchange. Non-2xx responses are returned as values;
// only socket-level failures are errors.
func (t *Transport) SendRequest(ctx context.Context, method, path string, body any) (*Response, error) {
	return t.SendRequestGrace(ctx, 0, method, path, body)
}

// SendRequestGrace is SendRequest with the timeout extended by grace, for
// engine calls that wait on the container themselves such as stop.
func (t *Transport) SendRequestGrace(ctx context.Context, grace time.Duration, method, path string, body any) (*Response, error) {
	if !t.Available() {
		return nil, ErrTransportUnavailable
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout+grace)
		defer cancel()
	}

	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:    data,
	}, nil
}

// OpenStream issues a GET and hands the open body to the caller, who must close it.
// The connection stays open until the body is closed or ctx is cancelled.
func (t *Transport) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	if !t.Available() {
		return nil, ErrTransportUnavailable
	}

	req, err := t.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: engineMessage(data)}
	}

	return resp.Body, nil
}

func (t *Transport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	// The host is ignored by the dialer but required for a well-formed request line.
	req, err := http.NewRequestWithContext(ctx, method, "http://docker"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s %s: %w", method, path, err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// engineMessage extracts the "message" field the engine puts in error bodies,
// falling back to the raw body.
func engineMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	return string(bytes.TrimSpace(body))
}

// isNotFound reports whether err is a refused stream with status 404
func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound
}
