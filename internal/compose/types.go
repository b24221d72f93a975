package compose

import "time"

// Result represents the outcome of one compose invocation
type Result struct {
	Action      Action        `json:"action"`
	ComposePath string        `json:"compose_path"`
	Output      string        `json:"output"`
	ExitCode    int           `json:"exit_code"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Service is one entry of a compose file's services section
type Service struct {
	Name          string   `json:"name"`
	Image         string   `json:"image,omitempty"`
	ContainerName string   `json:"container_name,omitempty"`
	Ports         []string `json:"ports,omitempty"`
	Restart       string   `json:"restart,omitempty"`
}
