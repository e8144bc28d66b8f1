package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/validation"
	"github.com/artpar/healer/internal/shell/docker"
	"github.com/artpar/healer/internal/shell/sysinfo"
)

// ErrRuntimeUnavailable is returned by container actions when no container
// runtime is configured.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// =============================================================================
// Dependencies
// =============================================================================

// ContainerRuntime is the subset of the container runtime actions need.
type ContainerRuntime interface {
	RestartContainer(ctx context.Context, name string, timeout *time.Duration) error
	RecreateContainer(ctx context.Context, name string) error
	Prune(ctx context.Context, opts docker.PruneOptions) (docker.PruneReport, error)
}

// Deps are the side-effecting collaborators of the built-in handlers. Nil
// fields are replaced with host implementations by NewHandlers.
type Deps struct {
	Runtime    ContainerRuntime
	Runner     CommandRunner
	DropCaches func(ctx context.Context, level int) error
	Zombies    func(ctx context.Context) ([]sysinfo.ProcessInfo, error)
	Signal     func(ctx context.Context, pid int32) error
}

// unavailableRuntime is the null runtime used when Docker is not configured.
type unavailableRuntime struct{}

func (unavailableRuntime) RestartContainer(context.Context, string, *time.Duration) error {
	return ErrRuntimeUnavailable
}

func (unavailableRuntime) RecreateContainer(context.Context, string) error {
	return ErrRuntimeUnavailable
}

func (unavailableRuntime) Prune(context.Context, docker.PruneOptions) (docker.PruneReport, error) {
	return docker.PruneReport{}, ErrRuntimeUnavailable
}

func (d Deps) withDefaults() Deps {
	if d.Runtime == nil {
		d.Runtime = unavailableRuntime{}
	}
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.DropCaches == nil {
		d.DropCaches = dropCaches
	}
	if d.Zombies == nil {
		d.Zombies = sysinfo.Zombies
	}
	if d.Signal == nil {
		d.Signal = func(ctx context.Context, pid int32) error {
			return sysinfo.Signal(ctx, pid, sysinfo.SIGCHLD)
		}
	}
	return d
}

func dropCaches(_ context.Context, level int) error {
	return os.WriteFile("/proc/sys/vm/drop_caches", []byte(strconv.Itoa(level)), 0o200)
}

// =============================================================================
// Built-in Handlers
// =============================================================================

// New builds a registry with every built-in handler.
func New(cfg Config, deps Deps, logger *slog.Logger) *Registry {
	return NewRegistry(NewHandlers(cfg, deps), cfg.Timeout, logger)
}

// NewHandlers returns the built-in handler map.
func NewHandlers(cfg Config, deps Deps) map[domain.ActionType]Handler {
	deps = deps.withDefaults()
	h := &handlers{cfg: cfg, deps: deps}
	return map[domain.ActionType]Handler{
		domain.ActionRestartService:    h.restartService,
		domain.ActionRestartContainer:  h.restartContainer,
		domain.ActionRecreateContainer: h.recreateContainer,
		domain.ActionFreeDiskSpace:     h.freeDiskSpace,
		domain.ActionCleanupResources:  h.cleanupResources,
		domain.ActionClearCache:        h.clearCache,
		domain.ActionRestoreNetwork:    h.restartNetwork,
		domain.ActionRestartNetwork:    h.restartNetwork,
		domain.ActionFixPermissions:    h.fixPermissions,
		domain.ActionRotateLogs:        h.rotateLogs,
		domain.ActionKillZombie:        h.killZombies,
	}
}

type handlers struct {
	cfg  Config
	deps Deps
}

func (h *handlers) restartService(ctx context.Context, p domain.ActionParams) (string, error) {
	if res := validation.CheckService(h.cfg.Policy, p.Service); !res.Allowed {
		return "", fmt.Errorf("%w: %s", ErrNotAllowed, res.Reason)
	}
	if _, err := h.deps.Runner.Run(ctx, "systemctl", "restart", p.Service); err != nil {
		return "", err
	}
	return fmt.Sprintf("restarted service %s", p.Service), nil
}

func (h *handlers) restartContainer(ctx context.Context, p domain.ActionParams) (string, error) {
	stop := 10 * time.Second
	if err := h.deps.Runtime.RestartContainer(ctx, p.Container, &stop); err != nil {
		return "", err
	}
	return fmt.Sprintf("restarted container %s", p.Container), nil
}

func (h *handlers) recreateContainer(ctx context.Context, p domain.ActionParams) (string, error) {
	if err := h.deps.Runtime.RecreateContainer(ctx, p.Container); err != nil {
		return "", err
	}
	return fmt.Sprintf("recreated container %s", p.Container), nil
}

// steps runs independent cleanup steps. It succeeds if any step succeeded
// and fails with every step's error otherwise.
func steps(fns ...func() (string, error)) (string, error) {
	var outputs []string
	var errs []error
	for _, fn := range fns {
		out, err := fn()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 {
		return "", errors.Join(errs...)
	}
	for _, err := range errs {
		outputs = append(outputs, "skipped: "+err.Error())
	}
	return strings.Join(outputs, "; "), nil
}

func (h *handlers) prune(ctx context.Context) func() (string, error) {
	return func() (string, error) {
		report, err := h.deps.Runtime.Prune(ctx, docker.PruneOptions{KeepPrefix: h.cfg.KeepPrefix})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("pruned %d containers and %d images, reclaimed %d bytes",
			report.ContainersDeleted, report.ImagesDeleted, report.SpaceReclaimed), nil
	}
}

func (h *handlers) dropCaches(ctx context.Context, level int) func() (string, error) {
	return func() (string, error) {
		if _, err := h.deps.Runner.Run(ctx, "sync"); err != nil {
			return "", err
		}
		if err := h.deps.DropCaches(ctx, level); err != nil {
			return "", fmt.Errorf("drop caches: %w", err)
		}
		return fmt.Sprintf("dropped caches (level %d)", level), nil
	}
}

func (h *handlers) freeDiskSpace(ctx context.Context, _ domain.ActionParams) (string, error) {
	return steps(
		func() (string, error) {
			if _, err := h.deps.Runner.Run(ctx, "journalctl", "--vacuum-size="+h.cfg.JournalMaxSize); err != nil {
				return "", err
			}
			return "vacuumed journal to " + h.cfg.JournalMaxSize, nil
		},
		h.prune(ctx),
	)
}

func (h *handlers) cleanupResources(ctx context.Context, _ domain.ActionParams) (string, error) {
	return steps(h.dropCaches(ctx, 3), h.prune(ctx))
}

func (h *handlers) clearCache(ctx context.Context, _ domain.ActionParams) (string, error) {
	return h.dropCaches(ctx, 1)()
}

func (h *handlers) restartNetwork(ctx context.Context, _ domain.ActionParams) (string, error) {
	if _, err := h.deps.Runner.Run(ctx, "systemctl", "restart", h.cfg.NetworkService); err != nil {
		return "", err
	}
	return "restarted " + h.cfg.NetworkService, nil
}

func (h *handlers) fixPermissions(_ context.Context, p domain.ActionParams) (string, error) {
	if res := validation.CheckPath(h.cfg.Policy, p.Path); !res.Allowed {
		return "", fmt.Errorf("%w: %s", ErrNotAllowed, res.Reason)
	}
	info, err := os.Lstat(p.Path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s is a symlink", ErrNotAllowed, p.Path)
	}
	mode := RepairedMode(info.Mode())
	if err := os.Chmod(p.Path, mode); err != nil {
		return "", err
	}
	return fmt.Sprintf("set mode %04o on %s", mode.Perm(), p.Path), nil
}

// RepairedMode returns the mode fix_permissions applies: owner read/write
// plus group and world read, with execute bits for directories and for files
// that were already executable.
func RepairedMode(current os.FileMode) os.FileMode {
	if current.IsDir() || current.Perm()&0o111 != 0 {
		return 0o755
	}
	return 0o644
}

func (h *handlers) rotateLogs(ctx context.Context, _ domain.ActionParams) (string, error) {
	if _, err := h.deps.Runner.Run(ctx, "logrotate", "-f", h.cfg.LogrotateConf); err != nil {
		return "", err
	}
	return "rotated logs using " + h.cfg.LogrotateConf, nil
}

func (h *handlers) killZombies(ctx context.Context, _ domain.ActionParams) (string, error) {
	zombies, err := h.deps.Zombies(ctx)
	if err != nil {
		return "", err
	}
	parents := sysinfo.ZombieParents(zombies)
	if len(parents) == 0 {
		return fmt.Sprintf("found %d zombie processes, none with a signalable parent", len(zombies)), nil
	}

	signalled := 0
	var errs []error
	for _, pid := range parents {
		if err := h.deps.Signal(ctx, pid); err != nil {
			errs = append(errs, fmt.Errorf("signal %d: %w", pid, err))
			continue
		}
		signalled++
	}
	if signalled == 0 {
		return "", errors.Join(errs...)
	}
	return fmt.Sprintf("signalled %d parent(s) of %d zombie processes", signalled, len(zombies)), nil
}
