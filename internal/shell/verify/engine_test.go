package verify

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/shell/docker"
)

// =============================================================================
// Stubs
// =============================================================================

type stubInspector struct {
	info *docker.ContainerInfo
	err  error
	seen string
}

func (s *stubInspector) InspectContainer(_ context.Context, name string) (*docker.ContainerInfo, error) {
	s.seen = name
	return s.info, s.err
}

type stubSampler struct {
	snap domain.ResourceSnapshot
	err  error
}

func (s stubSampler) Snapshot(context.Context) (domain.ResourceSnapshot, error) {
	return s.snap, s.err
}

type stubRunner struct {
	out string
	err error
}

func (s stubRunner) Run(context.Context, string, ...string) (string, error) {
	return s.out, s.err
}

type stubFaults struct {
	faults []domain.Fault
	err    error
}

func (s stubFaults) RecentFaults(context.Context, int, string) ([]domain.Fault, error) {
	return s.faults, s.err
}

func newEngine(opts ...Option) *Engine {
	return NewEngine(Config{Names: naming.NewConvention("")}, nil, opts...)
}

func crash() domain.Fault {
	return domain.NewFault(domain.FaultServiceCrash, "nginx", domain.SeverityHigh, "exited")
}

// =============================================================================
// Container Check Tests
// =============================================================================

func TestVerify_Container_Running(t *testing.T) {
	inspector := &stubInspector{info: &docker.ContainerInfo{Status: docker.ContainerStatusRunning}}
	e := newEngine(WithContainers(inspector))

	res := e.Verify(context.Background(), crash(), domain.ActionSpec{Type: domain.ActionRestartContainer}, time.Now())

	assert.True(t, res.Success, res.Details)
	assert.Equal(t, domain.VerifyContainerCheck, res.Method)
	assert.Equal(t, "cloud-sim-nginx", inspector.seen)
}

func TestVerify_Container_PrefersActionTarget(t *testing.T) {
	inspector := &stubInspector{info: &docker.ContainerInfo{Status: docker.ContainerStatusRunning}}
	e := newEngine(WithContainers(inspector))
	spec := domain.ActionSpec{Type: domain.ActionRestartContainer, Params: domain.ActionParams{Container: "web-1"}}

	e.Verify(context.Background(), crash(), spec, time.Now())

	assert.Equal(t, "web-1", inspector.seen)
}

func TestVerify_Container_Unhealthy(t *testing.T) {
	inspector := &stubInspector{info: &docker.ContainerInfo{Status: docker.ContainerStatusRunning, Health: "unhealthy"}}
	e := newEngine(WithContainers(inspector))

	res := e.Verify(context.Background(), crash(), domain.ActionSpec{Type: domain.ActionRestartContainer}, time.Now())

	assert.False(t, res.Success)
}

func TestVerify_Container_NotFoundIsNotRunning(t *testing.T) {
	inspector := &stubInspector{err: docker.NewDockerError("inspect", "container", "x", "gone", docker.ErrContainerNotFound)}
	e := newEngine(WithContainers(inspector))

	res := e.Verify(context.Background(), crash(), domain.ActionSpec{Type: domain.ActionRestartContainer}, time.Now())

	assert.False(t, res.Success)
	assert.NotContains(t, res.Details, "verification error")
}

func TestVerify_Container_ErrorFailsClosed(t *testing.T) {
	inspector := &stubInspector{err: errors.New("daemon unreachable")}
	e := newEngine(WithContainers(inspector))

	res := e.Verify(context.Background(), crash(), domain.ActionSpec{Type: domain.ActionRestartContainer}, time.Now())

	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "verification error")
	assert.Contains(t, res.Details, "daemon unreachable")
}

func TestVerify_Container_NoRuntime(t *testing.T) {
	e := newEngine()

	res := e.Verify(context.Background(), crash(), domain.ActionSpec{Type: domain.ActionRestartContainer}, time.Now())

	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "verification error")
}

// =============================================================================
// Resource Check Tests
// =============================================================================

func TestVerify_Resource(t *testing.T) {
	fault := domain.NewFault(domain.FaultDiskFull, "", domain.SeverityHigh, "disk at 97%")
	spec := domain.ActionSpec{Type: domain.ActionFreeDiskSpace}

	tests := []struct {
		name string
		disk float64
		want bool
	}{
		{"recovered", 70, true},
		{"at threshold", 90, false},
		{"still full", 96, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(WithSampler(stubSampler{snap: domain.ResourceSnapshot{DiskPercent: tc.disk}}))

			res := e.Verify(context.Background(), fault, spec, time.Now())

			assert.Equal(t, tc.want, res.Success, res.Details)
			assert.Equal(t, domain.VerifyResourceCheck, res.Method)
		})
	}
}

func TestVerify_Resource_SamplerErrorFailsClosed(t *testing.T) {
	fault := domain.NewFault(domain.FaultCPUExhaustion, "", domain.SeverityHigh, "cpu")
	e := newEngine(WithSampler(stubSampler{err: errors.New("no /proc")}))

	res := e.Verify(context.Background(), fault, domain.ActionSpec{Type: domain.ActionCleanupResources}, time.Now())

	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "no /proc")
}

// =============================================================================
// Port Check Tests
// =============================================================================

func TestVerify_Port_Open(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	fault := domain.NewFault(domain.FaultNetworkIssue, "api", domain.SeverityHigh, "unreachable")
	fault.Details.Port = ln.Addr().(*net.TCPAddr).Port
	e := newEngine()

	res := e.Verify(context.Background(), fault, domain.ActionSpec{Type: domain.ActionRestoreNetwork}, time.Now())

	assert.True(t, res.Success, res.Details)
	assert.Equal(t, domain.VerifyPortCheck, res.Method)
}

func TestVerify_Port_Closed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	fault := domain.NewFault(domain.FaultNetworkIssue, "api", domain.SeverityHigh, "unreachable")
	fault.Details.Port = port
	e := newEngine()

	res := e.Verify(context.Background(), fault, domain.ActionSpec{Type: domain.ActionRestoreNetwork}, time.Now())

	assert.False(t, res.Success)
	assert.Contains(t, res.Details, strconv.Itoa(port))
}

func TestVerify_Port_Missing(t *testing.T) {
	fault := domain.NewFault(domain.FaultNetworkIssue, "api", domain.SeverityHigh, "unreachable")
	e := newEngine()

	res := e.Verify(context.Background(), fault, domain.ActionSpec{Type: domain.ActionRestoreNetwork}, time.Now())

	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "verification error")
}

func TestNewEngine_ClampsDialTimeout(t *testing.T) {
	e := NewEngine(Config{DialTimeout: time.Minute}, nil)

	assert.Equal(t, MaxDialTimeout, e.cfg.DialTimeout)
	assert.Equal(t, "127.0.0.1", e.cfg.DialHost)
}

// =============================================================================
// Service, Path and Recurrence Tests
// =============================================================================

func TestVerify_Service(t *testing.T) {
	fault := domain.NewFault(domain.FaultLogError, "", domain.SeverityHigh, "nginx failed")
	spec := domain.ActionSpec{Type: domain.ActionRestartService, Params: domain.ActionParams{Service: "nginx"}}

	active := newEngine(WithRunner(stubRunner{out: "active\n"}))
	res := active.Verify(context.Background(), fault, spec, time.Now())
	assert.True(t, res.Success, res.Details)
	assert.Equal(t, domain.VerifyServiceCheck, res.Method)

	failed := newEngine(WithRunner(stubRunner{out: "failed\n", err: errors.New("exit status 3")}))
	res = failed.Verify(context.Background(), fault, spec, time.Now())
	assert.False(t, res.Success)
	assert.NotContains(t, res.Details, "verification error")

	broken := newEngine(WithRunner(stubRunner{err: errors.New("systemctl: not found")}))
	res = broken.Verify(context.Background(), fault, spec, time.Now())
	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "verification error")
}

func TestVerify_Path(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	fault := domain.NewFault(domain.FaultLogError, "", domain.SeverityHigh, "permission denied: "+file)
	spec := domain.ActionSpec{Type: domain.ActionFixPermissions, Params: domain.ActionParams{Path: file}}
	e := newEngine()

	res := e.Verify(context.Background(), fault, spec, time.Now())
	assert.True(t, res.Success, res.Details)
	assert.Equal(t, domain.VerifyPathCheck, res.Method)

	require.NoError(t, os.Chmod(file, 0o200))
	res = e.Verify(context.Background(), fault, spec, time.Now())
	assert.False(t, res.Success)

	spec.Params.Path = filepath.Join(dir, "missing")
	res = e.Verify(context.Background(), fault, spec, time.Now())
	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "verification error")
}

func TestVerify_Recurrence(t *testing.T) {
	fault := domain.NewFault(domain.FaultLogError, "", domain.SeverityMedium, "cache corrupted")
	actedAt := time.Now()
	spec := domain.ActionSpec{Type: domain.ActionClearCache}

	before := fault
	before.Timestamp = actedAt.Add(-time.Minute)
	other := domain.NewFault(domain.FaultLogError, "", domain.SeverityMedium, "something else")
	other.Timestamp = actedAt.Add(time.Second)

	quiet := newEngine(WithFaults(stubFaults{faults: []domain.Fault{before, other}}))
	res := quiet.Verify(context.Background(), fault, spec, actedAt)
	assert.True(t, res.Success, res.Details)
	assert.Equal(t, domain.VerifyLogCheck, res.Method)

	again := fault
	again.Timestamp = actedAt.Add(time.Second)
	noisy := newEngine(WithFaults(stubFaults{faults: []domain.Fault{again}}))
	res = noisy.Verify(context.Background(), fault, spec, actedAt)
	assert.False(t, res.Success)

	broken := newEngine(WithFaults(stubFaults{err: errors.New("journal unavailable")}))
	res = broken.Verify(context.Background(), fault, spec, actedAt)
	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "journal unavailable")
}
