package faults

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/shell/docker"
)

// ContainerLister lists containers. Down containers must carry their exit
// code, restart count and OOM flag.
type ContainerLister interface {
	ListContainers(ctx context.Context, opts docker.ListOptions) ([]docker.ContainerInfo, error)
}

// ContainerSource reports managed containers that are not serving.
type ContainerSource struct {
	client ContainerLister
	names  naming.Convention
	logger *slog.Logger
	now    func() time.Time
}

// NewContainerSource creates a container fault source. Only containers
// carrying the convention's prefix are considered.
func NewContainerSource(client ContainerLister, names naming.Convention, logger *slog.Logger) *ContainerSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerSource{
		client: client,
		names:  names,
		logger: logger.With("component", "container_source"),
		now:    time.Now,
	}
}

// RecentFaults lists managed containers and returns a service_crash fault
// for each one that has exited, died or is restarting.
func (s *ContainerSource) RecentFaults(ctx context.Context, limit int, level string) ([]domain.Fault, error) {
	containers, err := s.client.ListContainers(ctx, docker.ListOptions{
		All:        true,
		NamePrefix: s.names.ContainerPrefix(),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var out []domain.Fault
	for _, c := range containers {
		if !c.Status.Down() || !s.names.Owns(c.Name) {
			continue
		}
		out = append(out, s.faultFor(c))
	}
	return limitFaults(FilterLevel(out, level), limit), nil
}

// faultFor builds the fault for a down container. The message depends only
// on the container's state so repeated detections share a signature.
func (s *ContainerSource) faultFor(c docker.ContainerInfo) domain.Fault {
	var (
		severity = domain.SeverityCritical
		message  string
	)
	switch c.Status {
	case docker.ContainerStatusRestarting:
		severity = domain.SeverityHigh
		message = fmt.Sprintf("container %s is restarting", c.Name)
	case docker.ContainerStatusDead:
		message = fmt.Sprintf("container %s is dead", c.Name)
	default:
		message = fmt.Sprintf("container %s exited with code %d", c.Name, c.ExitCode)
	}
	if c.OOMKilled {
		message += " (OOM killed)"
	}

	f := domain.Fault{
		Type:      domain.FaultServiceCrash,
		Service:   s.names.ServiceName(c.Name),
		Severity:  severity,
		Message:   message,
		Timestamp: s.now().UTC(),
		Details: domain.FaultDetails{
			Container:    c.Name,
			RestartCount: c.RestartCount,
			Port:         c.HostPort(),
			Extra: map[string]string{
				"status": string(c.Status),
				"image":  c.Image,
			},
		},
	}
	if c.Status != docker.ContainerStatusRestarting {
		code := c.ExitCode
		f.Details.ExitCode = &code
	}
	if c.OOMKilled {
		f.Details.Extra["oom_killed"] = strconv.FormatBool(true)
	}
	return f
}
