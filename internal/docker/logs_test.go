package docker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/homedeck-agent/internal/docker/enginetest"
)

func collect(ctx context.Context, r io.Reader) []LogEvent {
	var events []LogEvent
	Demux(ctx, r, func(e LogEvent) bool {
		events = append(events, e)
		return true
	})
	return events
}

func TestDemuxSingleFrame(t *testing.T) {
	data := append([]byte{1, 0, 0, 0, 0, 0, 0, 5}, "hello"...)

	events := collect(context.Background(), bytes.NewReader(data))
	require.Len(t, events, 1)
	assert.Equal(t, LogEvent{Stream: StreamStdout, Text: "hello"}, events[0])
}

func TestDemuxShortHeaderStopsCleanly(t *testing.T) {
	events := collect(context.Background(), bytes.NewReader([]byte{1, 0, 0, 0, 0}))
	assert.Empty(t, events)
}

func TestDemuxTruncatedPayloadIsDropped(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(enginetest.Frame(1, "first\n"))
	buf.Write([]byte{2, 0, 0, 0, 0, 0, 0, 10})
	buf.WriteString("abc")

	events := collect(context.Background(), &buf)
	require.Len(t, events, 1)
	assert.Equal(t, "first\n", events[0].Text)
}

func TestDemuxUnframedStreamStaysBounded(t *testing.T) {
	// A TTY container sends raw text; its first bytes decode as a ~750MB length.
	raw := []byte("2024-01-01T00:00:00 hello world from a tty\n")

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	events := collect(context.Background(), bytes.NewReader(raw))
	runtime.ReadMemStats(&after)

	assert.Empty(t, events)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestDemuxMultipleStreams(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(enginetest.Frame(1, "out\n"))
	buf.Write(enginetest.Frame(2, "err\n"))
	buf.Write(enginetest.Frame(1, ""))

	events := collect(context.Background(), &buf)
	require.Len(t, events, 3)
	assert.Equal(t, StreamStderr, events[1].Stream)
	assert.Equal(t, "err\n", events[1].Text)
	assert.Equal(t, "", events[2].Text)
}

func TestDemuxStopsWhenEmitDeclines(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(enginetest.Frame(1, "a"))
	buf.Write(enginetest.Frame(1, "b"))

	var got []string
	Demux(context.Background(), &buf, func(e LogEvent) bool {
		got = append(got, e.Text)
		return false
	})
	assert.Equal(t, []string{"a"}, got)
}

func TestDemuxCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(ctx, bytes.NewReader(enginetest.Frame(1, "never")))
	assert.Empty(t, events)
}

func TestDemuxInvalidUTF8(t *testing.T) {
	events := collect(context.Background(), bytes.NewReader(enginetest.Frame(1, "ok\xff")))
	require.Len(t, events, 1)
	assert.Equal(t, "ok�", events[0].Text)
}

func TestStreamString(t *testing.T) {
	assert.Equal(t, "stdout", StreamStdout.String())
	assert.Equal(t, "stderr", StreamStderr.String())
	assert.Equal(t, "stream-7", Stream(7).String())
}

func TestLogOptionsQuery(t *testing.T) {
	q := LogOptions{Follow: true, Timestamps: true, Since: "10m"}.query()
	assert.Contains(t, q, "follow=1")
	assert.Contains(t, q, "timestamps=1")
	assert.Contains(t, q, "tail=100")
	assert.Contains(t, q, "since=10m")
	assert.Contains(t, q, "stdout=1")
	assert.Contains(t, q, "stderr=1")
}

func TestOpenLogsFollow(t *testing.T) {
	engine := enginetest.Start(t)
	release := make(chan struct{})
	engine.Handle("GET /containers/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(enginetest.Frame(1, "line 1\n"))
		w.(http.Flusher).Flush()
		<-release
		w.Write(enginetest.Frame(2, "line 2\n"))
	})

	client := NewClient(Options{SocketPath: engine.SocketPath, Timeout: time.Second}, nil, zerolog.Nop())
	stream, err := client.OpenLogs(context.Background(), "web", LogOptions{Follow: true})
	require.NoError(t, err)

	events := make(chan LogEvent, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.Each(context.Background(), func(e LogEvent) bool {
			events <- e
			return true
		})
	}()

	// The first frame arrives before the engine sends the rest
	select {
	case e := <-events:
		assert.Equal(t, "line 1\n", e.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("first frame not delivered")
	}

	close(release)
	<-done

	require.Len(t, events, 1)
	e := <-events
	assert.Equal(t, StreamStderr, e.Stream)
	assert.Equal(t, "line 2\n", e.Text)
}

func TestOpenLogsNotFound(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/{id}/logs", http.StatusNotFound, `{"message":"No such container"}`)

	client := NewClient(Options{SocketPath: engine.SocketPath, Timeout: time.Second}, nil, zerolog.Nop())
	_, err := client.OpenLogs(context.Background(), "ghost", LogOptions{})
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestOpenLogsUpstreamError(t *testing.T) {
	engine := enginetest.Start(t)
	engine.Raw("GET /containers/{id}/logs", http.StatusNotImplemented, `{"message":"configured logging driver does not support reading"}`)

	client := NewClient(Options{SocketPath: engine.SocketPath, Timeout: time.Second}, nil, zerolog.Nop())
	_, err := client.OpenLogs(context.Background(), "web", LogOptions{})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusNotImplemented, upstream.Status)
}
