// Package sysinfo samples host resource usage and process state with
// gopsutil.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Host Sampler
// =============================================================================

// Sampler returns point-in-time host utilisation.
type Sampler interface {
	Snapshot(ctx context.Context) (domain.ResourceSnapshot, error)
}

// HostSampler samples the local host.
type HostSampler struct {
	// DiskPath is the mount point whose usage is reported. Defaults to "/".
	DiskPath string
	// CPUWindow is how long CPU usage is measured over. Defaults to 500ms.
	CPUWindow time.Duration

	now func() time.Time
}

// NewHostSampler creates a sampler for the filesystem holding diskPath.
func NewHostSampler(diskPath string, cpuWindow time.Duration) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	if cpuWindow <= 0 {
		cpuWindow = 500 * time.Millisecond
	}
	return &HostSampler{DiskPath: diskPath, CPUWindow: cpuWindow, now: time.Now}
}

// Snapshot measures CPU, memory and disk usage. It blocks for CPUWindow.
func (s *HostSampler) Snapshot(ctx context.Context) (domain.ResourceSnapshot, error) {
	var snap domain.ResourceSnapshot

	cpus, err := cpu.PercentWithContext(ctx, s.CPUWindow, false)
	if err != nil {
		return snap, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpus) == 0 {
		return snap, fmt.Errorf("sample cpu: no data")
	}
	snap.CPUPercent = cpus[0]

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("sample memory: %w", err)
	}
	snap.MemoryPercent = vm.UsedPercent

	usage, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return snap, fmt.Errorf("sample disk %s: %w", s.DiskPath, err)
	}
	snap.DiskPercent = usage.UsedPercent

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	snap.CollectedAt = now().UTC()
	return snap, nil
}

// =============================================================================
// Processes
// =============================================================================

// ProcessInfo identifies a process.
type ProcessInfo struct {
	PID  int32
	PPID int32
	Name string
}

// Zombies lists defunct processes. Processes that vanish while being read
// are skipped.
func Zombies(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var zombies []ProcessInfo
	for _, p := range procs {
		status, err := p.StatusWithContext(ctx)
		if err != nil || !isZombie(status) {
			continue
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		zombies = append(zombies, ProcessInfo{PID: p.Pid, PPID: ppid, Name: name})
	}
	return zombies, nil
}

func isZombie(status []string) bool {
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}

// ZombieParents returns the distinct parents of the given zombies, skipping
// init, which reaps on its own.
func ZombieParents(zombies []ProcessInfo) []int32 {
	seen := make(map[int32]bool)
	var parents []int32
	for _, z := range zombies {
		if z.PPID <= 1 || seen[z.PPID] {
			continue
		}
		seen[z.PPID] = true
		parents = append(parents, z.PPID)
	}
	return parents
}

// Signal sends sig to pid.
func Signal(ctx context.Context, pid int32, sig Sig) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return p.SendSignalWithContext(ctx, sig)
}
