package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// maxLogBytes bounds how much log output is read for one request.
const maxLogBytes = 1 << 20

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, pingErr := cli.Ping(ctx); pingErr != nil && host == "" {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// wrap translates SDK errors into DockerErrors with the package sentinels.
func wrap(op, entity, id string, err error) error {
	switch {
	case client.IsErrNotFound(err):
		return NewDockerError(op, entity, id, entity+" not found", ErrContainerNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return NewDockerError(op, entity, id, "timed out", ErrTimeout)
	case client.IsErrConnectionFailed(err):
		return NewDockerError(op, entity, id, err.Error(), ErrConnectionFailed)
	}
	return NewDockerError(op, entity, id, err.Error(), err)
}

// =============================================================================
// Container Inspection
// =============================================================================

// InspectContainer returns detailed information about a container.
func (d *DockerClient) InspectContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, wrap("InspectContainer", "container", name, err)
	}

	info := &ContainerInfo{
		ID:           resp.ID,
		Name:         strings.TrimPrefix(resp.Name, "/"),
		RestartCount: resp.RestartCount,
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, resp.Created)

	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
		info.ExitCode = resp.State.ExitCode
		info.OOMKilled = resp.State.OOMKilled
		info.StartedAt = parseStateTime(resp.State.StartedAt)
		info.FinishedAt = parseStateTime(resp.State.FinishedAt)
		if resp.State.Health != nil {
			info.Health = resp.State.Health.Status
		}
	}
	if resp.NetworkSettings != nil {
		info.Ports = parsePortMap(resp.NetworkSettings.Ports)
	}
	// A stopped container has no live bindings; report the configured ones.
	if info.HostPort() == 0 && resp.HostConfig != nil {
		if configured := parsePortMap(resp.HostConfig.PortBindings); len(configured) > 0 {
			info.Ports = configured
		}
	}
	return info, nil
}

func parseStateTime(s string) *time.Time {
	if s == "" || s == "0001-01-01T00:00:00Z" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// parsePortMap flattens a port map into bindings, published ports first in
// the order Docker reports them.
func parsePortMap(pm nat.PortMap) []PortBinding {
	var ports []PortBinding
	for containerPort, bindings := range pm {
		port, proto := containerPort.Int(), containerPort.Proto()
		if len(bindings) == 0 {
			ports = append(ports, PortBinding{ContainerPort: port, Protocol: proto})
			continue
		}
		for _, binding := range bindings {
			hostPort, _ := strconv.Atoi(binding.HostPort)
			ports = append(ports, PortBinding{
				ContainerPort: port,
				HostPort:      hostPort,
				Protocol:      proto,
				HostIP:        binding.HostIP,
			})
		}
	}
	return ports
}

// IsRunning reports whether the named container is running. A container
// that does not exist is not running; that is not an error.
func (d *DockerClient) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := d.InspectContainer(ctx, name)
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			return false, nil
		}
		return false, err
	}
	return info.Running(), nil
}

// ListContainers returns a list of containers matching the given options.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}
	if opts.NamePrefix != "" {
		// The name filter is a substring match; the prefix is enforced below.
		listOpts.Filters = filters.NewArgs(filters.Arg("name", opts.NamePrefix))
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, wrap("ListContainers", "container", "", err)
	}

	var result []ContainerInfo
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if opts.NamePrefix != "" && !strings.HasPrefix(name, opts.NamePrefix) {
			continue
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		info := ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		}
		if info.Status.Down() {
			d.fillState(ctx, &info)
		}
		result = append(result, info)
	}

	return result, nil
}

// fillState copies the fields the list endpoint does not report (exit code,
// restart count, OOM flag) from an inspect of the container. A container
// that vanished between list and inspect keeps its list fields.
func (d *DockerClient) fillState(ctx context.Context, info *ContainerInfo) {
	full, err := d.InspectContainer(ctx, info.ID)
	if err != nil {
		return
	}
	info.ExitCode = full.ExitCode
	info.RestartCount = full.RestartCount
	info.OOMKilled = full.OOMKilled
	info.StartedAt = full.StartedAt
	info.FinishedAt = full.FinishedAt
	info.Health = full.Health
	if full.Status != "" {
		info.Status = full.Status
	}
	if len(info.Ports) == 0 {
		info.Ports = full.Ports
	}
}

// =============================================================================
// Container Lifecycle
// =============================================================================

func stopOptions(timeout *time.Duration) container.StopOptions {
	opts := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		opts.Timeout = &seconds
	}
	return opts
}

// StartContainer starts a stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerStart(ctx, name, container.StartOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "is already running") {
			return NewDockerError("StartContainer", "container", name, "container is already running", ErrContainerAlreadyRunning)
		}
		return wrap("StartContainer", "container", name, err)
	}
	return nil
}

// StopContainer stops a running container.
func (d *DockerClient) StopContainer(ctx context.Context, name string, timeout *time.Duration) error {
	err := d.cli.ContainerStop(ctx, name, stopOptions(timeout))
	if err != nil {
		if strings.Contains(err.Error(), "is not running") {
			return NewDockerError("StopContainer", "container", name, "container is not running", ErrContainerNotRunning)
		}
		return wrap("StopContainer", "container", name, err)
	}
	return nil
}

// RestartContainer stops and starts a container. Stopped containers are
// simply started.
func (d *DockerClient) RestartContainer(ctx context.Context, name string, timeout *time.Duration) error {
	if err := d.cli.ContainerRestart(ctx, name, stopOptions(timeout)); err != nil {
		return wrap("RestartContainer", "container", name, err)
	}
	return nil
}

// RecreateContainer replaces a container with a fresh one built from the
// same image, configuration, host configuration and networks.
func (d *DockerClient) RecreateContainer(ctx context.Context, name string) error {
	resp, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return wrap("RecreateContainer", "container", name, err)
	}
	if resp.Config == nil {
		return NewDockerError("RecreateContainer", "container", name, "inspect returned no config", ErrContainerNotFound)
	}

	var netConfig *network.NetworkingConfig
	if resp.NetworkSettings != nil && len(resp.NetworkSettings.Networks) > 0 {
		netConfig = &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{}}
		for netName, ep := range resp.NetworkSettings.Networks {
			settings := &network.EndpointSettings{}
			if ep != nil {
				settings.Aliases = ep.Aliases
				settings.IPAMConfig = ep.IPAMConfig
			}
			netConfig.EndpointsConfig[netName] = settings
		}
	}

	timeout := 10 * time.Second
	if err := d.cli.ContainerStop(ctx, resp.ID, stopOptions(&timeout)); err != nil && !client.IsErrNotFound(err) {
		if !strings.Contains(err.Error(), "is not running") {
			return wrap("RecreateContainer", "container", name, err)
		}
	}
	if err := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return wrap("RecreateContainer", "container", name, err)
	}

	created, err := d.cli.ContainerCreate(ctx, resp.Config, resp.HostConfig, netConfig, nil, strings.TrimPrefix(resp.Name, "/"))
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return NewDockerError("RecreateContainer", "container", name, "container already exists", ErrContainerAlreadyExists)
		}
		return wrap("RecreateContainer", "container", name, err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return wrap("RecreateContainer", "container", name, err)
	}
	return nil
}

// =============================================================================
// Logs
// =============================================================================

// ContainerLogs returns up to tail of the most recent log lines of a
// container, stdout and stderr interleaved.
func (d *DockerClient) ContainerLogs(ctx context.Context, name string, tail int) ([]string, error) {
	if tail <= 0 {
		return nil, nil
	}
	reader, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, wrap("ContainerLogs", "container", name, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxLogBytes))
	if err != nil {
		return nil, wrap("ContainerLogs", "container", name, err)
	}
	return splitLines(demux(raw), tail), nil
}

// demux strips the multiplexing headers Docker adds to non-TTY log streams.
// TTY streams have no headers and are returned as-is.
func demux(raw []byte) []byte {
	if len(raw) < 8 || raw[0] > 2 || raw[1] != 0 || raw[2] != 0 || raw[3] != 0 {
		return raw
	}
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil && out.Len() == 0 {
		return raw
	}
	return out.Bytes()
}

func splitLines(data []byte, limit int) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLogBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// =============================================================================
// Cleanup
// =============================================================================

// Prune removes stopped containers and dangling images. Stopped containers
// whose name starts with opts.KeepPrefix are kept: they are the managed
// services waiting to be restarted.
func (d *DockerClient) Prune(ctx context.Context, opts PruneOptions) (PruneReport, error) {
	var report PruneReport

	stopped, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:  true,
		Size: true,
		Filters: filters.NewArgs(
			filters.Arg("status", "exited"),
			filters.Arg("status", "dead"),
			filters.Arg("status", "created"),
		),
	})
	if err != nil {
		return report, wrap("Prune", "container", "", err)
	}

	var errs []error
	for _, c := range stopped {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if opts.KeepPrefix != "" && strings.HasPrefix(name, opts.KeepPrefix) {
			continue
		}
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{}); err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			errs = append(errs, wrap("Prune", "container", name, err))
			continue
		}
		report.ContainersDeleted++
		if c.SizeRw > 0 {
			report.SpaceReclaimed += uint64(c.SizeRw)
		}
	}
	if report.ContainersDeleted == 0 && len(errs) > 0 {
		return report, errors.Join(errs...)
	}

	images, err := d.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return report, wrap("Prune", "image", "", err)
	}
	report.ImagesDeleted = len(images.ImagesDeleted)
	report.SpaceReclaimed += images.SpaceReclaimed

	return report, nil
}
