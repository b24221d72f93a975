package docker

import (
	"net/url"
	"strings"
)

// Label keys read from container records
const (
	LabelComposeConfigFiles = "com.docker.compose.project.config_files"
	LabelComposeWorkingDir  = "com.docker.compose.project.working_dir"
	LabelComposeProject     = "com.docker.compose.project"
	LabelComposeService     = "com.docker.compose.service"

	LabelImageTitle       = "org.opencontainers.image.title"
	LabelImageURL         = "org.opencontainers.image.url"
	LabelImageVersion     = "org.opencontainers.image.version"
	LabelImageDescription = "org.opencontainers.image.description"

	LabelTitle = "homedeck.title"
	LabelIcon  = "homedeck.icon"
	LabelURL   = "homedeck.url"
)

// Icon CDN templates keyed by label prefix
var iconTemplates = map[string]string{
	"di:": "https://cdn.jsdelivr.net/gh/homarr-labs/dashboard-icons/svg/%s.svg",
	"sh:": "https://cdn.jsdelivr.net/gh/selfhst/icons/svg/%s.svg",
	"si:": "https://cdn.simpleicons.org/%s",
}

// ResolveIcon turns an icon label value into a URL. Unknown shapes yield "".
func ResolveIcon(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if isHTTPURL(value) {
		return value
	}

	for prefix, tmpl := range iconTemplates {
		if slug, ok := strings.CutPrefix(value, prefix); ok {
			if slug == "" || strings.ContainsAny(slug, "/?#") {
				return ""
			}
			return strings.Replace(tmpl, "%s", url.PathEscape(slug), 1)
		}
	}

	return ""
}

// ResolveImageURL accepts a labeled URL only when it is absolute http(s)
func ResolveImageURL(value string) string {
	value = strings.TrimSpace(value)
	if isHTTPURL(value) {
		return value
	}
	return ""
}

func isHTTPURL(value string) bool {
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// labelPtr returns a pointer to a trimmed, non-empty label value
func labelPtr(labels map[string]string, keys ...string) *string {
	for _, key := range keys {
		if v := strings.TrimSpace(labels[key]); v != "" {
			return &v
		}
	}
	return nil
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
