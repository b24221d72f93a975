package docker

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable is returned when the engine control socket does not exist
	ErrTransportUnavailable = errors.New("docker engine socket unavailable")

	// ErrContainerNotFound is returned when the engine or the registry has no such container
	ErrContainerNotFound = errors.New("container not found")

	// ErrImageNotFound is returned when the engine or the registry has no such image
	ErrImageNotFound = errors.New("image not found")
)

// ProtocolError reports a malformed or incomplete record from the engine
type ProtocolError struct {
	Model string
	Field string
	Err   error
}

func newMissingFieldError(model, field string) *ProtocolError {
	return &ProtocolError{Model: model, Field: field}
}

func (e *ProtocolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s record: missing field %q", e.Model, e.Field)
	}
	return fmt.Sprintf("malformed %s record: %v", e.Model, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UpstreamError reports an engine response with an unrecognized status code
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("docker engine returned %d: %s", e.Status, e.Body)
}

// StatusError is returned by OpenStream when the engine refuses to open a stream
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream refused with status %d: %s", e.Status, e.Body)
}
