package docker

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
)

// Image is an immutable snapshot of one engine image-list record
type Image struct {
	ID          string            `json:"id"`
	RepoTags    []string          `json:"repo_tags"`
	RepoDigests []string          `json:"repo_digests"`
	Created     time.Time         `json:"created"`
	Size        int64             `json:"size"`
	Containers  *int64            `json:"containers,omitempty"`
	Dangling    bool              `json:"dangling"`
	Title       *string           `json:"title,omitempty"`
	Version     *string           `json:"version,omitempty"`
	URL         *string           `json:"url,omitempty"`
	Labels      map[string]string `json:"labels"`
}

// HasTag reports whether ref is one of the image's repository tags
func (i Image) HasTag(ref string) bool {
	for _, tag := range i.RepoTags {
		if tag == ref {
			return true
		}
	}
	return false
}

// FindImage resolves ref by full ID, then tag, then a short ID matching
// exactly one image.
func FindImage(list []Image, ref string) (Image, bool) {
	if ref == "" {
		return Image{}, false
	}
	digest := strings.TrimPrefix(ref, "sha256:")
	if digest == "" {
		return Image{}, false
	}
	for _, img := range list {
		if strings.TrimPrefix(img.ID, "sha256:") == digest {
			return img, true
		}
	}
	for _, img := range list {
		if img.HasTag(ref) {
			return img, true
		}
	}

	var found Image
	matches := 0
	for _, img := range list {
		if strings.HasPrefix(strings.TrimPrefix(img.ID, "sha256:"), digest) {
			found = img
			matches++
		}
	}
	return found, matches == 1
}

// ParseImage builds an Image from one element of GET /images/json
func ParseImage(data []byte) (Image, error) {
	if err := requireFields(data, "image", "Id", "Created", "Size"); err != nil {
		return Image{}, err
	}

	var rec types.ImageSummary
	if err := json.Unmarshal(data, &rec); err != nil {
		return Image{}, &ProtocolError{Model: "image", Err: err}
	}

	tags := make([]string, 0, len(rec.RepoTags))
	for _, t := range rec.RepoTags {
		if t != "<none>:<none>" {
			tags = append(tags, t)
		}
	}

	labels := rec.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	img := Image{
		ID:          rec.ID,
		RepoTags:    tags,
		RepoDigests: rec.RepoDigests,
		Created:     time.Unix(rec.Created, 0).UTC(),
		Size:        rec.Size,
		Dangling:    len(tags) == 0,
		Title:       labelPtr(labels, LabelImageTitle),
		Version:     labelPtr(labels, LabelImageVersion),
		URL:         strPtr(ResolveImageURL(labels[LabelImageURL])),
		Labels:      labels,
	}

	// The engine reports -1 when it did not compute container counts.
	if rec.Containers >= 0 {
		n := rec.Containers
		img.Containers = &n
	}

	return img, nil
}
