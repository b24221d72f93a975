package docker

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
)

// Container is an immutable snapshot of one engine container-list record
type Container struct {
	ID               string            `json:"id"`
	Names            []string          `json:"names"`
	Name             string            `json:"name"`
	Title            *string           `json:"title,omitempty"`
	Image            string            `json:"image"`
	ImageID          string            `json:"image_id"`
	ImageURL         *string           `json:"image_url,omitempty"`
	ImageVersion     *string           `json:"image_version,omitempty"`
	ImageDescription *string           `json:"image_description,omitempty"`
	ComposePath      *string           `json:"compose_path,omitempty"`
	WorkingPath      *string           `json:"working_path,omitempty"`
	ComposeProject   *string           `json:"compose_project,omitempty"`
	Command          string            `json:"command"`
	Created          *time.Time        `json:"created,omitempty"`
	State            string            `json:"state"`
	Status           string            `json:"status"`
	IsCompose        bool              `json:"is_compose"`
	IconURL          *string           `json:"icon_url,omitempty"`
	IPAddress        netip.Addr        `json:"ip_address"`
	NetworkMode      *string           `json:"network_mode,omitempty"`
	Ports            []PortBinding     `json:"ports"`
	Mounts           []MountBinding    `json:"mounts"`
	Labels           map[string]string `json:"labels"`
}

// PortBinding is a published or exposed container port
type PortBinding struct {
	IP          string `json:"ip,omitempty"`
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port,omitempty"`
	Type        string `json:"type"`
}

// MountBinding is a volume, bind or tmpfs mount
type MountBinding struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	RW          bool   `json:"rw"`
}

// HostAddressResolver supplies the host's outbound address for containers
// whose network reports no address of its own (host networking).
type HostAddressResolver interface {
	OutboundIP() netip.Addr
}

// MetadataFileName is the sidecar file that marks a compose project as managed
const MetadataFileName = ".homedeck"

// IsRunning reports whether the engine considers the container running
func (c Container) IsRunning() bool {
	return c.State == "running"
}

// MetadataPath returns the sidecar path beside the compose file, or "" for
// containers not started from a compose file.
func (c Container) MetadataPath() string {
	if c.ComposePath == nil {
		return ""
	}
	return filepath.Join(filepath.Dir(*c.ComposePath), MetadataFileName)
}

// IsManaged reports whether the compose file exists and carries a sidecar.
// It is recomputed from the filesystem on every call.
func (c Container) IsManaged() bool {
	if c.ComposePath == nil {
		return false
	}
	info, err := os.Stat(*c.ComposePath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	_, err = os.Stat(c.MetadataPath())
	return err == nil
}

// MarshalJSON adds the derived is_managed flag
func (c Container) MarshalJSON() ([]byte, error) {
	type plain Container
	return json.Marshal(struct {
		plain
		IsManaged bool `json:"is_managed"`
	}{plain(c), c.IsManaged()})
}

// HasName reports whether ref is one of the container's names, with or
// without the leading slash.
func (c Container) HasName(ref string) bool {
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" {
		return false
	}
	for _, n := range c.Names {
		if strings.TrimPrefix(n, "/") == ref {
			return true
		}
	}
	return false
}

// FindContainer resolves ref the way the engine does: full ID first, then
// exact name, then an ID prefix matching exactly one container.
func FindContainer(list []Container, ref string) (Container, bool) {
	if ref == "" {
		return Container{}, false
	}
	for _, ct := range list {
		if ct.ID == ref {
			return ct, true
		}
	}
	for _, ct := range list {
		if ct.HasName(ref) {
			return ct, true
		}
	}

	var found Container
	matches := 0
	for _, ct := range list {
		if strings.HasPrefix(ct.ID, ref) {
			found = ct
			matches++
		}
	}
	return found, matches == 1
}

// ParseContainer builds a Container from one element of GET /containers/json.
// hostIP is consulted only when the container's network has no address.
func ParseContainer(data []byte, hostIP func() netip.Addr) (Container, error) {
	if err := requireFields(data, "container",
		"Id", "Names", "Image", "ImageID", "Command", "State", "Status"); err != nil {
		return Container{}, err
	}

	var rec types.Container
	if err := json.Unmarshal(data, &rec); err != nil {
		return Container{}, &ProtocolError{Model: "container", Err: err}
	}
	if len(rec.Names) == 0 {
		return Container{}, newMissingFieldError("container", "Names")
	}

	var nested struct {
		Ports      []json.RawMessage
		Mounts     []json.RawMessage
		Created    *int64
		HostConfig *struct {
			NetworkMode *string
		}
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return Container{}, &ProtocolError{Model: "container", Err: err}
	}

	ports := make([]PortBinding, 0, len(nested.Ports))
	for _, raw := range nested.Ports {
		p, err := ParsePortBinding(raw)
		if err != nil {
			return Container{}, err
		}
		ports = append(ports, p)
	}

	mounts := make([]MountBinding, 0, len(nested.Mounts))
	for _, raw := range nested.Mounts {
		m, err := ParseMountBinding(raw)
		if err != nil {
			return Container{}, err
		}
		mounts = append(mounts, m)
	}

	labels := rec.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	c := Container{
		ID:               rec.ID,
		Names:            rec.Names,
		Name:             strings.TrimPrefix(rec.Names[0], "/"),
		Title:            labelPtr(labels, LabelTitle, LabelImageTitle),
		Image:            rec.Image,
		ImageID:          rec.ImageID,
		ImageURL:         strPtr(ResolveImageURL(firstLabel(labels, LabelURL, LabelImageURL))),
		ImageVersion:     labelPtr(labels, LabelImageVersion),
		ImageDescription: labelPtr(labels, LabelImageDescription),
		ComposePath:      composePath(labels),
		WorkingPath:      labelPtr(labels, LabelComposeWorkingDir),
		ComposeProject:   labelPtr(labels, LabelComposeProject),
		Command:          rec.Command,
		State:            rec.State,
		Status:           rec.Status,
		IconURL:          strPtr(ResolveIcon(labels[LabelIcon])),
		Ports:            ports,
		Mounts:           mounts,
		Labels:           labels,
	}
	if nested.Created != nil {
		created := time.Unix(*nested.Created, 0).UTC()
		c.Created = &created
	}
	if nested.HostConfig != nil && nested.HostConfig.NetworkMode != nil {
		c.NetworkMode = nested.HostConfig.NetworkMode
	}
	c.IsCompose = c.ComposePath != nil
	c.IPAddress = resolveIP(rec, hostIP)

	return c, nil
}

// ParsePortBinding builds a PortBinding from one element of a container's Ports
func ParsePortBinding(data []byte) (PortBinding, error) {
	if err := requireFields(data, "port", "PrivatePort", "Type"); err != nil {
		return PortBinding{}, err
	}

	var rec types.Port
	if err := json.Unmarshal(data, &rec); err != nil {
		return PortBinding{}, &ProtocolError{Model: "port", Err: err}
	}

	return PortBinding{
		IP:          rec.IP,
		PrivatePort: rec.PrivatePort,
		PublicPort:  rec.PublicPort,
		Type:        rec.Type,
	}, nil
}

// ParseMountBinding builds a MountBinding from one element of a container's Mounts
func ParseMountBinding(data []byte) (MountBinding, error) {
	if err := requireFields(data, "mount", "Type", "Destination"); err != nil {
		return MountBinding{}, err
	}

	var rec types.MountPoint
	if err := json.Unmarshal(data, &rec); err != nil {
		return MountBinding{}, &ProtocolError{Model: "mount", Err: err}
	}

	return MountBinding{
		Type:        string(rec.Type),
		Name:        rec.Name,
		Source:      rec.Source,
		Destination: rec.Destination,
		Mode:        rec.Mode,
		RW:          rec.RW,
	}, nil
}

// resolveIP looks up the address on the container's own network, falling back
// to the host address when the network is missing or reports none.
func resolveIP(rec types.Container, hostIP func() netip.Addr) netip.Addr {
	var reported string
	if rec.NetworkSettings != nil {
		if ep, ok := rec.NetworkSettings.Networks[rec.HostConfig.NetworkMode]; ok && ep != nil {
			reported = ep.IPAddress
		}
	}

	if reported == "" {
		if hostIP == nil {
			return netip.Addr{}
		}
		return hostIP()
	}

	addr, err := netip.ParseAddr(reported)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

// composePath returns the first configured compose file, if any
func composePath(labels map[string]string) *string {
	files := strings.TrimSpace(labels[LabelComposeConfigFiles])
	if files == "" {
		return nil
	}
	first, _, _ := strings.Cut(files, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return nil
	}
	p := filepath.Clean(first)
	return &p
}

func firstLabel(labels map[string]string, keys ...string) string {
	if v := labelPtr(labels, keys...); v != nil {
		return *v
	}
	return ""
}

// requireFields checks that every field is present and non-null in a JSON object
func requireFields(data []byte, model string, fields ...string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return &ProtocolError{Model: model, Err: err}
	}
	for _, f := range fields {
		v, ok := obj[f]
		if !ok || string(v) == "null" {
			return newMissingFieldError(model, f)
		}
	}
	return nil
}
