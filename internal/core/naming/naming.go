// Package naming maps service names onto the container names the runtime
// knows them by.
package naming

import "strings"

// DefaultContainerPrefix is used when no prefix is configured.
const DefaultContainerPrefix = "cloud-sim-"

// =============================================================================
// Container Naming
// =============================================================================

// Convention derives container names from service names by prefixing them.
// The zero value uses DefaultContainerPrefix.
type Convention struct {
	Prefix string
}

// NewConvention returns a convention for prefix. An empty prefix selects
// DefaultContainerPrefix.
func NewConvention(prefix string) Convention {
	return Convention{Prefix: prefix}
}

func (c Convention) prefix() string {
	if c.Prefix == "" {
		return DefaultContainerPrefix
	}
	return c.Prefix
}

// ContainerPrefix returns the prefix in effect.
func (c Convention) ContainerPrefix() string {
	return c.prefix()
}

// ContainerName returns the container name for a service. Names that already
// carry the prefix are returned unchanged.
//
// Example:
//
//	Convention{Prefix: "cloud-sim-"}.ContainerName("nginx")           // "cloud-sim-nginx"
//	Convention{Prefix: "cloud-sim-"}.ContainerName("cloud-sim-nginx") // "cloud-sim-nginx"
func (c Convention) ContainerName(service string) string {
	service = strings.TrimPrefix(strings.TrimSpace(service), "/")
	if service == "" {
		return ""
	}
	if strings.HasPrefix(service, c.prefix()) {
		return service
	}
	return c.prefix() + service
}

// ServiceName is the inverse of ContainerName. It also strips the leading
// slash the Docker API puts on container names.
//
// Example:
//
//	Convention{Prefix: "cloud-sim-"}.ServiceName("/cloud-sim-nginx") // "nginx"
func (c Convention) ServiceName(container string) string {
	return strings.TrimPrefix(strings.TrimPrefix(container, "/"), c.prefix())
}

// Owns reports whether a container name belongs to the managed project.
func (c Convention) Owns(container string) bool {
	return strings.HasPrefix(strings.TrimPrefix(container, "/"), c.prefix())
}
