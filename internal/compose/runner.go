package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Action is a compose project operation
type Action string

const (
	ActionUp      Action = "up"
	ActionDown    Action = "down"
	ActionPull    Action = "pull"
	ActionRestart Action = "restart"
)

// ErrUnknownAction is returned for actions outside the supported set
var ErrUnknownAction = errors.New("unknown compose action")

// ParseAction validates an action name
func ParseAction(name string) (Action, error) {
	switch a := Action(strings.ToLower(name)); a {
	case ActionUp, ActionDown, ActionPull, ActionRestart:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
}

func (a Action) args() []string {
	switch a {
	case ActionUp:
		return []string{"up", "-d", "--remove-orphans"}
	default:
		return []string{string(a)}
	}
}

// Runner executes compose commands against project files on this host
type Runner struct {
	binary  []string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRunner creates a runner. binary may contain arguments, e.g. "docker compose".
func NewRunner(binary string, timeout time.Duration, logger zerolog.Logger) *Runner {
	fields := strings.Fields(binary)
	if len(fields) == 0 {
		fields = []string{"docker", "compose"}
	}
	return &Runner{
		binary:  fields,
		timeout: timeout,
		logger:  logger.With().Str("component", "compose").Logger(),
	}
}

// Run executes action for the project described by composePath
func (r *Runner) Run(ctx context.Context, action Action, composePath string) (*Result, error) {
	if !filepath.IsAbs(composePath) {
		return nil, fmt.Errorf("compose path must be absolute: %s", composePath)
	}
	info, err := os.Stat(composePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat compose file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("compose path is not a file: %s", composePath)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append([]string{}, r.binary[1:]...)
	args = append(args, "-f", composePath)
	args = append(args, action.args()...)

	cmd := exec.CommandContext(ctx, r.binary[0], args...)
	cmd.Dir = filepath.Dir(composePath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err = cmd.Run()

	result := &Result{
		Action:      action,
		ComposePath: composePath,
		Output:      combine(stdout.String(), stderr.String()),
		StartedAt:   startTime,
		Duration:    time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if ctx.Err() != nil {
			result.Error = fmt.Sprintf("compose %s timed out after %s", action, r.timeout)
		} else {
			result.Error = err.Error()
		}
	} else {
		result.Success = true
	}

	r.logger.Info().
		Str("action", string(action)).
		Str("path", composePath).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Compose command finished")

	return result, nil
}

func combine(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}
