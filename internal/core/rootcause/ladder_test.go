package rootcause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/healer/internal/core/domain"
)

func intPtr(i int) *int { return &i }

func crash(msg string) domain.Fault {
	return domain.NewFault(domain.FaultServiceCrash, "api", domain.SeverityCritical, msg)
}

// =============================================================================
// Ladder Tests
// =============================================================================

func TestLadder_NoRuleFires(t *testing.T) {
	got := Ladder(crash("stopped"), domain.Evidence{})

	assert.Equal(t, domain.UnknownRootCause, got.RootCause)
	assert.Equal(t, domain.UnknownConfidence, got.Confidence)
	assert.Equal(t, "service_crash", got.FaultClassification)
	assert.Empty(t, got.Candidates)
	assert.NotNil(t, got.RecommendedActions)
}

func TestLadder_OOMInLogs(t *testing.T) {
	ev := domain.Evidence{Logs: []string{"starting", "Out of memory: Killed process 4242 (api)"}}

	got := Ladder(crash("exited"), ev)

	assert.Equal(t, "Process killed by the OOM killer", got.RootCause)
	assert.Equal(t, ConfidenceOOM, got.Confidence)
	assert.NotEmpty(t, got.RecommendedActions)
}

func TestLadder_OOMExitCode(t *testing.T) {
	f := crash("exited")
	f.Details.ExitCode = intPtr(137)

	got := Ladder(f, domain.Evidence{})

	assert.Equal(t, ConfidenceOOM, got.Confidence)
	// exit code rule also fires but ranks lower
	require.Len(t, got.Candidates, 2)
	assert.Equal(t, ConfidenceExitCode, got.Candidates[1].Confidence)
}

func TestLadder_RestartLoop(t *testing.T) {
	got := Ladder(crash("exited"), domain.Evidence{RestartCount: intPtr(6)})

	assert.Equal(t, "Container restart loop", got.RootCause)
	assert.Equal(t, ConfidenceRestartLoop, got.Confidence)
}

func TestLadder_RestartLoop_AtThresholdDoesNotFire(t *testing.T) {
	got := Ladder(crash("exited"), domain.Evidence{RestartCount: intPtr(RestartLoopThreshold)})

	assert.Equal(t, domain.UnknownRootCause, got.RootCause)
}

func TestLadder_RestartLoop_FromFaultDetails(t *testing.T) {
	f := crash("exited")
	f.Details.RestartCount = 9

	got := Ladder(f, domain.Evidence{})

	assert.Equal(t, ConfidenceRestartLoop, got.Confidence)
}

func TestLadder_MemoryPressure(t *testing.T) {
	ev := domain.Evidence{Resources: &domain.ResourceSnapshot{MemoryPercent: 96.5}}

	got := Ladder(crash("exited"), ev)

	assert.Equal(t, "Memory exhaustion", got.RootCause)
	assert.Equal(t, ConfidenceMemory, got.Confidence)
}

func TestLadder_HighestConfidenceWins(t *testing.T) {
	ev := domain.Evidence{
		Logs:         []string{"oom-kill event"},
		RestartCount: intPtr(10),
		Resources:    &domain.ResourceSnapshot{MemoryPercent: 99},
	}

	got := Ladder(crash("exited"), ev)

	assert.Equal(t, ConfidenceOOM, got.Confidence)
	require.Len(t, got.Candidates, 3)
	assert.Equal(t, ConfidenceRestartLoop, got.Candidates[1].Confidence)
	assert.Equal(t, ConfidenceMemory, got.Candidates[2].Confidence)
}

func TestLadder_ByFaultType(t *testing.T) {
	tests := []struct {
		name  string
		fault domain.Fault
		ev    domain.Evidence
		want  string
	}{
		{
			"cpu",
			domain.Fault{Type: domain.FaultCPUExhaustion, Details: domain.FaultDetails{Value: 97}},
			domain.Evidence{},
			"Sustained CPU saturation",
		},
		{
			"disk from snapshot",
			domain.Fault{Type: domain.FaultDiskFull},
			domain.Evidence{Resources: &domain.ResourceSnapshot{DiskPercent: 93}},
			"Disk nearly full",
		},
		{
			"network dns",
			domain.Fault{Type: domain.FaultNetworkIssue, Message: "lookup db: no such host"},
			domain.Evidence{},
			"DNS resolution failure",
		},
		{
			"network refused",
			domain.Fault{Type: domain.FaultNetworkIssue, Message: "dial tcp 127.0.0.1:5432: connection refused"},
			domain.Evidence{},
			"Target service not listening",
		},
		{
			"log permission",
			domain.Fault{Type: domain.FaultLogError, Message: "open /var/x: permission denied"},
			domain.Evidence{},
			"Insufficient file permissions",
		},
		{
			"memory leak",
			domain.Fault{Type: domain.FaultMemoryExhaustion, Message: "cannot allocate memory"},
			domain.Evidence{},
			"Application memory leak",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Ladder(tc.fault, tc.ev).RootCause)
		})
	}
}

func TestLadder_UnknownType(t *testing.T) {
	got := Ladder(domain.Fault{Type: "bogus", Message: "out of memory"}, domain.Evidence{})

	assert.Equal(t, domain.UnknownRootCause, got.RootCause)
}

func TestLadder_Deterministic(t *testing.T) {
	ev := domain.Evidence{Logs: []string{"panic: nil map", "connection refused"}}

	a := Ladder(crash("exited"), ev)
	b := Ladder(crash("exited"), ev)

	assert.Equal(t, a, b)
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_AIOverridesWhenMoreConfident(t *testing.T) {
	base := Ladder(crash("exited"), domain.Evidence{})
	ai := &domain.AIInsights{Provider: "anthropic", RootCause: "bad config rollout", Confidence: 0.7}

	got := Merge(base, ai)

	assert.Equal(t, "bad config rollout", got.RootCause)
	assert.Equal(t, 0.7, got.Confidence)
	require.NotNil(t, got.AIInsights)
	assert.Equal(t, "anthropic", got.AIInsights.Provider)
}

func TestMerge_LadderKeptWhenMoreConfident(t *testing.T) {
	base := Ladder(crash("exited"), domain.Evidence{RestartCount: intPtr(8)})
	ai := &domain.AIInsights{RootCause: "cosmic rays", Confidence: 0.5}

	got := Merge(base, ai)

	assert.Equal(t, "Container restart loop", got.RootCause)
	assert.Equal(t, ConfidenceRestartLoop, got.Confidence)
	require.NotNil(t, got.AIInsights)
	assert.Equal(t, "cosmic rays", got.AIInsights.RootCause)
}

func TestMerge_EqualConfidenceKeepsLadder(t *testing.T) {
	base := Ladder(crash("exited"), domain.Evidence{RestartCount: intPtr(8)})

	got := Merge(base, &domain.AIInsights{RootCause: "other", Confidence: ConfidenceRestartLoop})

	assert.Equal(t, "Container restart loop", got.RootCause)
}

func TestMerge_NilOrEmpty(t *testing.T) {
	base := Ladder(crash("exited"), domain.Evidence{})

	assert.Equal(t, base, Merge(base, nil))
	assert.Equal(t, base, Merge(base, &domain.AIInsights{RootCause: " ", Confidence: 1}))
}

func TestMerge_ClampsConfidence(t *testing.T) {
	base := Ladder(crash("exited"), domain.Evidence{})

	got := Merge(base, &domain.AIInsights{RootCause: "x", Confidence: 7})

	assert.Equal(t, 1.0, got.Confidence)
}
