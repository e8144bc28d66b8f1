// Package docker is the container runtime the healer acts on.
package docker

import (
	"context"
	"time"
)

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// Down reports whether the status means the workload is not serving.
func (s ContainerStatus) Down() bool {
	return s == ContainerStatusExited || s == ContainerStatusDead || s == ContainerStatusRestarting
}

// PortBinding is a published container port.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 when not published
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID           string
	Name         string
	Image        string
	Status       ContainerStatus
	Health       string // "healthy", "unhealthy", "starting", ""
	OOMKilled    bool
	ExitCode     int
	RestartCount int
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Ports        []PortBinding
	Labels       map[string]string
}

// Running reports whether the container is up.
func (c ContainerInfo) Running() bool {
	return c.Status == ContainerStatusRunning
}

// HostPort returns the first published TCP host port, or 0.
func (c ContainerInfo) HostPort() int {
	for _, p := range c.Ports {
		if p.HostPort != 0 && (p.Protocol == "" || p.Protocol == "tcp") {
			return p.HostPort
		}
	}
	return 0
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines options for listing containers.
type ListOptions struct {
	All        bool   // Include stopped containers
	NamePrefix string // Only containers whose name starts with this
}

// PruneOptions defines options for Prune.
type PruneOptions struct {
	KeepPrefix string // Stopped containers with this name prefix are not removed
}

// PruneReport summarises a cleanup.
type PruneReport struct {
	ContainersDeleted int
	ImagesDeleted     int
	SpaceReclaimed    uint64
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the container runtime operations the healer relies on.
type Client interface {
	// Container operations
	InspectContainer(ctx context.Context, name string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string, timeout *time.Duration) error
	RestartContainer(ctx context.Context, name string, timeout *time.Duration) error
	RecreateContainer(ctx context.Context, name string) error
	ContainerLogs(ctx context.Context, name string, tail int) ([]string, error)

	// Cleanup operations
	Prune(ctx context.Context, opts PruneOptions) (PruneReport, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}
