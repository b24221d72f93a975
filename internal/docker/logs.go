package docker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Stream identifies the origin of a multiplexed log frame
type Stream byte

const (
	StreamStdin  Stream = 0
	StreamStdout Stream = 1
	StreamStderr Stream = 2
)

func (s Stream) String() string {
	switch s {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "stream-" + strconv.Itoa(int(s))
	}
}

// MarshalText renders the stream name in JSON
func (s Stream) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// frameHeaderSize is the fixed header preceding every multiplexed frame
const frameHeaderSize = 8

// LogEvent is one decoded frame
type LogEvent struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// LogOptions controls which log lines the engine sends
type LogOptions struct {
	Tail       string `json:"tail,omitempty"`
	Since      string `json:"since,omitempty"`
	Until      string `json:"until,omitempty"`
	Timestamps bool   `json:"timestamps,omitempty"`
	Follow     bool   `json:"follow,omitempty"`
}

func (o LogOptions) query() string {
	q := url.Values{}
	q.Set("stdout", "1")
	q.Set("stderr", "1")
	if o.Follow {
		q.Set("follow", "1")
	}
	if o.Timestamps {
		q.Set("timestamps", "1")
	}
	tail := o.Tail
	if tail == "" {
		tail = "100"
	}
	q.Set("tail", tail)
	if o.Since != "" {
		q.Set("since", o.Since)
	}
	if o.Until != "" {
		q.Set("until", o.Until)
	}
	return q.Encode()
}

// Demux decodes the engine's multiplexed log framing from r, handing each
// frame to emit as soon as it is complete. It returns when the stream ends,
// a header or payload read comes up short, ctx is cancelled (checked between
// frames only), or emit returns false. Read errors end the loop silently.
func Demux(ctx context.Context, r io.Reader, emit func(LogEvent) bool) {
	header := make([]byte, frameHeaderSize)
	var payload bytes.Buffer

	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := io.ReadFull(r, header); err != nil {
			return
		}

		// The declared size is untrusted; the buffer grows only as bytes arrive.
		size := int64(binary.BigEndian.Uint32(header[4:frameHeaderSize]))
		payload.Reset()
		if n, err := io.CopyN(&payload, r, size); err != nil || n != size {
			return
		}

		event := LogEvent{
			Stream: Stream(header[0]),
			Text:   strings.ToValidUTF8(payload.String(), "�"),
		}
		if !emit(event) {
			return
		}
	}
}

// LogStream is an open log connection for one container
type LogStream struct {
	ContainerID string
	body        io.ReadCloser
}

// Each demultiplexes the stream into emit until it ends, then closes it
func (s *LogStream) Each(ctx context.Context, emit func(LogEvent) bool) {
	defer s.body.Close()
	Demux(ctx, s.body, emit)
}

// Close releases the connection without reading
func (s *LogStream) Close() error {
	return s.body.Close()
}

// OpenLogs opens the log stream for a container. Failures to open are
// reported here, before any frame is read.
func (c *Client) OpenLogs(ctx context.Context, id string, opts LogOptions) (*LogStream, error) {
	body, err := c.transport.OpenStream(ctx, "/containers/"+url.PathEscape(id)+"/logs?"+opts.query())
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, &UpstreamError{Status: statusErr.Status, Body: statusErr.Body}
		}
		return nil, err
	}

	c.logger.Debug().Str("container", id).Bool("follow", opts.Follow).Msg("Opened container log stream")

	return &LogStream{ContainerID: id, body: body}, nil
}
