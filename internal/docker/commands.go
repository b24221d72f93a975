package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
)

// Outcome is the domain-level result of a lifecycle command
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotModified
	OutcomeNotFound
	OutcomeConflict
	OutcomeUpstreamError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	default:
		return "upstream_error"
	}
}

// MarshalText renders the outcome name in JSON
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// outcomeTable maps engine status codes for one operation. Codes missing
// from the table are upstream errors.
type outcomeTable map[int]Outcome

func (t outcomeTable) resolve(status int) Outcome {
	if o, ok := t[status]; ok {
		return o
	}
	return OutcomeUpstreamError
}

// Per-operation status handling, as documented by the engine API.
var (
	startOutcomes = outcomeTable{
		http.StatusNoContent:   OutcomeSuccess,
		http.StatusNotModified: OutcomeNotModified,
		http.StatusNotFound:    OutcomeNotFound,
	}
	stopOutcomes = outcomeTable{
		http.StatusNoContent:   OutcomeSuccess,
		http.StatusNotModified: OutcomeNotModified,
		http.StatusNotFound:    OutcomeNotFound,
	}
	restartOutcomes = outcomeTable{
		http.StatusNoContent: OutcomeSuccess,
		http.StatusNotFound:  OutcomeNotFound,
	}
	killOutcomes = outcomeTable{
		http.StatusNoContent: OutcomeSuccess,
		http.StatusNotFound:  OutcomeNotFound,
		http.StatusConflict:  OutcomeConflict,
	}
	pauseOutcomes = outcomeTable{
		http.StatusNoContent: OutcomeSuccess,
		http.StatusNotFound:  OutcomeNotFound,
		http.StatusConflict:  OutcomeConflict,
	}
	unpauseOutcomes = outcomeTable{
		http.StatusNoContent: OutcomeSuccess,
		http.StatusNotFound:  OutcomeNotFound,
		http.StatusConflict:  OutcomeConflict,
	}
	removeOutcomes = outcomeTable{
		http.StatusNoContent: OutcomeSuccess,
		http.StatusNotFound:  OutcomeNotFound,
		http.StatusConflict:  OutcomeConflict,
	}
	pruneOutcomes = outcomeTable{
		http.StatusOK: OutcomeSuccess,
	}
	imageRemoveOutcomes = outcomeTable{
		http.StatusOK:       OutcomeSuccess,
		http.StatusNotFound: OutcomeNotFound,
		http.StatusConflict: OutcomeConflict,
	}
)

// ContainerAction represents the result of a command on a container or image
type ContainerAction struct {
	ID      string  `json:"id"`
	Action  string  `json:"action"`
	Outcome Outcome `json:"outcome"`
	Status  int     `json:"status,omitempty"`
	Message string  `json:"message"`
}

// Succeeded reports whether the command took effect
func (a *ContainerAction) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}

// DeleteOptions controls container removal
type DeleteOptions struct {
	Force            bool `json:"force"`
	RemoveVolumes    bool `json:"remove_volumes"`
	DeleteComposeDir bool `json:"delete_compose_dir"`
}

// PruneOptions controls container and image pruning
type PruneOptions struct {
	Until string `json:"until,omitempty"`
	All   bool   `json:"all,omitempty"`
}

// PruneReport summarizes what a prune removed
type PruneReport struct {
	Action         string   `json:"action"`
	Outcome        Outcome  `json:"outcome"`
	Status         int      `json:"status,omitempty"`
	Message        string   `json:"message"`
	Deleted        []string `json:"deleted"`
	SpaceReclaimed uint64   `json:"space_reclaimed"`
}

// StartContainer starts a container
func (c *Client) StartContainer(ctx context.Context, id string) (*ContainerAction, error) {
	return c.containerCommand(ctx, id, "start", "/start", nil, startOutcomes)
}

// StopContainer stops a container, giving it the configured grace period
func (c *Client) StopContainer(ctx context.Context, id string) (*ContainerAction, error) {
	q := url.Values{}
	if c.stopTimeout > 0 {
		q.Set("t", strconv.Itoa(int(c.stopTimeout.Seconds())))
	}
	return c.containerCommandGrace(ctx, id, "stop", "/stop", q, stopOutcomes, c.stopTimeout)
}

// RestartContainer restarts a container
func (c *Client) RestartContainer(ctx context.Context, id string) (*ContainerAction, error) {
	q := url.Values{}
	if c.stopTimeout > 0 {
		q.Set("t", strconv.Itoa(int(c.stopTimeout.Seconds())))
	}
	return c.containerCommandGrace(ctx, id, "restart", "/restart", q, restartOutcomes, c.stopTimeout)
}

// KillContainer sends a signal (SIGKILL when empty) to a running container
func (c *Client) KillContainer(ctx context.Context, id, signal string) (*ContainerAction, error) {
	q := url.Values{}
	if signal != "" {
		q.Set("signal", signal)
	}
	return c.containerCommand(ctx, id, "kill", "/kill", q, killOutcomes)
}

// PauseContainer freezes a running container
func (c *Client) PauseContainer(ctx context.Context, id string) (*ContainerAction, error) {
	return c.containerCommand(ctx, id, "pause", "/pause", nil, pauseOutcomes)
}

// UnpauseContainer resumes a paused container
func (c *Client) UnpauseContainer(ctx context.Context, id string) (*ContainerAction, error) {
	return c.containerCommand(ctx, id, "unpause", "/unpause", nil, unpauseOutcomes)
}

// DeleteContainer removes a container. With DeleteComposeDir, the compose
// directory of a compose-managed container is removed after the engine has
// deleted the container.
func (c *Client) DeleteContainer(ctx context.Context, id string, opts DeleteOptions) (*ContainerAction, error) {
	var composeDir string
	if opts.DeleteComposeDir {
		ct, err := c.GetContainer(ctx, id)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				return &ContainerAction{ID: id, Action: "delete", Outcome: OutcomeNotFound, Message: "container not found"}, nil
			}
			return nil, err
		}
		if !ct.IsCompose {
			return &ContainerAction{ID: id, Action: "delete", Outcome: OutcomeConflict, Message: "container is not compose-managed"}, nil
		}
		if !ct.IsManaged() {
			return &ContainerAction{ID: ct.ID, Action: "delete", Outcome: OutcomeConflict, Message: "compose project is not managed by this agent"}, nil
		}
		composeDir = filepath.Dir(*ct.ComposePath)
		// The engine must delete the container whose directory is removed.
		id = ct.ID
	}

	q := url.Values{}
	q.Set("force", strconv.FormatBool(opts.Force))
	q.Set("v", strconv.FormatBool(opts.RemoveVolumes))

	resp, err := c.transport.SendRequest(ctx, http.MethodDelete, "/containers/"+url.PathEscape(id)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	action := c.toAction(id, "delete", resp, removeOutcomes)
	if action.Outcome == OutcomeSuccess && composeDir != "" {
		if err := removeComposeDir(composeDir); err != nil {
			return nil, fmt.Errorf("container deleted but failed to remove compose directory: %w", err)
		}
		action.Message = "container and compose directory deleted"
		c.logger.Info().Str("container", id).Str("dir", composeDir).Msg("Removed compose directory")
	}

	return action, nil
}

// PruneContainers removes stopped containers
func (c *Client) PruneContainers(ctx context.Context, opts PruneOptions) (*PruneReport, error) {
	path, err := prunePath("/containers/prune", opts, filters.NewArgs())
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.SendRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	report := &PruneReport{Action: "prune", Status: resp.Status, Outcome: pruneOutcomes.resolve(resp.Status)}
	if report.Outcome != OutcomeSuccess {
		report.Message = engineMessage(resp.Body)
		return report, nil
	}

	var body types.ContainersPruneReport
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &ProtocolError{Model: "prune report", Err: err}
	}
	report.Deleted = nonNil(body.ContainersDeleted)
	report.SpaceReclaimed = body.SpaceReclaimed
	report.Message = fmt.Sprintf("%d containers pruned", len(report.Deleted))

	c.containers.Invalidate()
	return report, nil
}

// DeleteImage removes an image
func (c *Client) DeleteImage(ctx context.Context, id string, force bool) (*ContainerAction, error) {
	q := url.Values{}
	q.Set("force", strconv.FormatBool(force))

	resp, err := c.transport.SendRequest(ctx, http.MethodDelete, "/images/"+url.PathEscape(id)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	action := toAction(id, "delete_image", resp, imageRemoveOutcomes)
	if action.Outcome == OutcomeSuccess {
		c.images.Invalidate()
	}
	return action, nil
}

// PruneImages removes dangling images, or every unused image with All
func (c *Client) PruneImages(ctx context.Context, opts PruneOptions) (*PruneReport, error) {
	args := filters.NewArgs()
	if opts.All {
		args.Add("dangling", "false")
	}

	path, err := prunePath("/images/prune", opts, args)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.SendRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	report := &PruneReport{Action: "prune_images", Status: resp.Status, Outcome: pruneOutcomes.resolve(resp.Status)}
	if report.Outcome != OutcomeSuccess {
		report.Message = engineMessage(resp.Body)
		return report, nil
	}

	var body types.ImagesPruneReport
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &ProtocolError{Model: "prune report", Err: err}
	}
	report.Deleted = []string{}
	for _, item := range body.ImagesDeleted {
		if item.Deleted != "" {
			report.Deleted = append(report.Deleted, item.Deleted)
		}
	}
	report.SpaceReclaimed = body.SpaceReclaimed
	report.Message = fmt.Sprintf("%d images pruned", len(report.Deleted))

	c.images.Invalidate()
	return report, nil
}

func (c *Client) containerCommand(ctx context.Context, id, action, suffix string, q url.Values, table outcomeTable) (*ContainerAction, error) {
	return c.containerCommandGrace(ctx, id, action, suffix, q, table, 0)
}

// containerCommandGrace allows the engine grace beyond the transport timeout
// for commands that block until the container exits.
func (c *Client) containerCommandGrace(ctx context.Context, id, action, suffix string, q url.Values, table outcomeTable, grace time.Duration) (*ContainerAction, error) {
	path := "/containers/" + url.PathEscape(id) + suffix
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.transport.SendRequestGrace(ctx, grace, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	return c.toAction(id, action, resp, table), nil
}

// toAction resolves the outcome and invalidates the container registry when
// the engine state may have changed.
func (c *Client) toAction(id, action string, resp *Response, table outcomeTable) *ContainerAction {
	result := toAction(id, action, resp, table)

	switch result.Outcome {
	case OutcomeSuccess, OutcomeNotModified:
		c.containers.Invalidate()
	}

	c.logger.Info().
		Str("container", id).
		Str("action", action).
		Stringer("outcome", result.Outcome).
		Int("status", resp.Status).
		Msg("Container command")

	return result
}

func toAction(id, action string, resp *Response, table outcomeTable) *ContainerAction {
	outcome := table.resolve(resp.Status)

	msg := engineMessage(resp.Body)
	switch outcome {
	case OutcomeSuccess:
		msg = action + " succeeded"
	case OutcomeNotModified:
		msg = "already in requested state"
	case OutcomeNotFound:
		if msg == "" {
			msg = "not found"
		}
	}

	return &ContainerAction{
		ID:      id,
		Action:  action,
		Outcome: outcome,
		Status:  resp.Status,
		Message: msg,
	}
}

func prunePath(base string, opts PruneOptions, args filters.Args) (string, error) {
	if opts.Until != "" {
		args.Add("until", opts.Until)
	}
	if args.Len() == 0 {
		return base, nil
	}

	encoded, err := filters.ToJSON(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode prune filters: %w", err)
	}
	return base + "?filters=" + url.QueryEscape(encoded), nil
}

// removeComposeDir deletes a compose project directory. It refuses relative
// paths, top-level directories such as /opt, and the user's home directory.
func removeComposeDir(dir string) error {
	dir = filepath.Clean(dir)
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("refusing to remove %q: path is not absolute", dir)
	}

	sep := string(filepath.Separator)
	if len(strings.Split(strings.Trim(dir, sep), sep)) < 2 {
		return fmt.Errorf("refusing to remove %q: path is too shallow", dir)
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == dir {
		return fmt.Errorf("refusing to remove %q: path is the home directory", dir)
	}

	return os.RemoveAll(dir)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
