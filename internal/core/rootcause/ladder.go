// Package rootcause correlates fault evidence into a ranked set of probable
// causes. The rule ladder is deterministic and pure; the orchestrator may
// merge in an external AI opinion with Merge.
package rootcause

import (
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/healer/internal/core/domain"
)

// Rule thresholds.
const (
	RestartLoopThreshold  = 5
	MemoryCriticalPercent = 95.0
	CPUCriticalPercent    = 90.0
	DiskCriticalPercent   = 90.0
)

// Confidence assigned by individual rules.
const (
	ConfidenceOOM          = 0.9
	ConfidenceRestartLoop  = 0.85
	ConfidenceMemory       = 0.8
	ConfidenceDisk         = 0.8
	ConfidencePermission   = 0.8
	ConfidenceDNS          = 0.75
	ConfidenceCPU          = 0.75
	ConfidenceAppCrash     = 0.7
	ConfidenceLogGrowth    = 0.7
	ConfidenceRefused      = 0.7
	ConfidenceDependency   = 0.6
	ConfidenceExitCode     = 0.6
	ConfidenceNetworkDelay = 0.6
)

// candidate is a rule hit plus the follow-up it recommends.
type candidate struct {
	domain.CauseCandidate
	recommend []string
}

type rule func(f domain.Fault, ev domain.Evidence) (candidate, bool)

// =============================================================================
// Ladder
// =============================================================================

// Ladder runs the rules for f's type over the evidence and returns the
// analysis built from the highest-confidence hit. When nothing fires the
// analysis reports domain.UnknownRootCause with domain.UnknownConfidence.
func Ladder(f domain.Fault, ev domain.Evidence) domain.RootCauseAnalysis {
	var hits []candidate
	for _, r := range rulesFor(f.Type) {
		if c, ok := r(f, ev); ok {
			hits = append(hits, c)
		}
	}

	analysis := domain.PlaceholderAnalysis(f)
	if len(hits) == 0 {
		return analysis
	}

	// Stable so that equal confidences keep ladder order.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Confidence > hits[j].Confidence
	})

	best := hits[0]
	analysis.RootCause = best.Cause
	analysis.Confidence = best.Confidence
	analysis.RecommendedActions = append([]string{}, best.recommend...)
	analysis.Candidates = make([]domain.CauseCandidate, 0, len(hits))
	for _, h := range hits {
		analysis.Candidates = append(analysis.Candidates, h.CauseCandidate)
	}
	return analysis
}

// Merge folds an AI opinion into a ladder result. The AI root cause and
// confidence replace the ladder's only when its confidence is strictly
// higher; the opinion is recorded as insights either way. A nil or empty
// opinion leaves the analysis unchanged.
func Merge(analysis domain.RootCauseAnalysis, ai *domain.AIInsights) domain.RootCauseAnalysis {
	if ai == nil || strings.TrimSpace(ai.RootCause) == "" {
		return analysis
	}
	insights := *ai
	insights.Confidence = clamp(insights.Confidence)
	analysis.AIInsights = &insights

	if insights.Confidence > analysis.Confidence {
		analysis.RootCause = insights.RootCause
		analysis.Confidence = insights.Confidence
	}
	return analysis
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// =============================================================================
// Rules
// =============================================================================

func rulesFor(t domain.FaultType) []rule {
	switch t {
	case domain.FaultServiceCrash:
		return []rule{oomKill, restartLoop, memoryPressure, appCrash, dependencyDown, exitCode}
	case domain.FaultMemoryExhaustion:
		return []rule{oomKill, memoryPressure, memoryLeak}
	case domain.FaultCPUExhaustion:
		return []rule{cpuSaturation, restartLoop}
	case domain.FaultDiskFull:
		return []rule{diskPressure, logGrowth}
	case domain.FaultNetworkIssue:
		return []rule{dnsFailure, connectionRefused, networkDelay}
	case domain.FaultLogError:
		return []rule{oomKill, permissionDenied, noSpace, dnsFailure, connectionRefused, appCrash}
	}
	return nil
}

func hit(cause string, confidence float64, evidence string, recommend ...string) (candidate, bool) {
	return candidate{
		CauseCandidate: domain.CauseCandidate{Cause: cause, Confidence: confidence, Evidence: evidence},
		recommend:      recommend,
	}, true
}

func oomKill(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "out of memory", "oom-kill", "oomkilled", "oom killer", "killed process"); ok {
		return hit("Process killed by the OOM killer", ConfidenceOOM, line,
			"Raise the memory limit of the service",
			"Investigate memory growth in the application")
	}
	if f.Details.ExitCode != nil && *f.Details.ExitCode == 137 {
		return hit("Process killed by the OOM killer", ConfidenceOOM, "exit code 137 (SIGKILL)",
			"Raise the memory limit of the service")
	}
	return candidate{}, false
}

func restartLoop(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	count := f.Details.RestartCount
	if ev.RestartCount != nil && *ev.RestartCount > count {
		count = *ev.RestartCount
	}
	if count > RestartLoopThreshold {
		return hit("Container restart loop", ConfidenceRestartLoop,
			fmt.Sprintf("restart count %d exceeds %d", count, RestartLoopThreshold),
			"Inspect container logs for the startup failure",
			"Check configuration and dependencies before restarting again")
	}
	return candidate{}, false
}

func memoryPressure(_ domain.Fault, ev domain.Evidence) (candidate, bool) {
	if ev.Resources != nil && ev.Resources.MemoryPercent > MemoryCriticalPercent {
		return hit("Memory exhaustion", ConfidenceMemory,
			fmt.Sprintf("memory at %.1f%%", ev.Resources.MemoryPercent),
			"Free memory by stopping unused workloads",
			"Add swap or memory to the host")
	}
	return candidate{}, false
}

func memoryLeak(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "memory leak", "cannot allocate memory", "allocation failed"); ok {
		return hit("Application memory leak", ConfidenceAppCrash, line,
			"Restart the leaking process and capture a heap profile")
	}
	return candidate{}, false
}

func cpuSaturation(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	pct := f.Details.Value
	if ev.Resources != nil && ev.Resources.CPUPercent > pct {
		pct = ev.Resources.CPUPercent
	}
	if pct > CPUCriticalPercent {
		return hit("Sustained CPU saturation", ConfidenceCPU, fmt.Sprintf("cpu at %.1f%%", pct),
			"Identify the top CPU consumers",
			"Scale out or throttle the busiest workload")
	}
	return candidate{}, false
}

func diskPressure(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	pct := f.Details.Value
	if ev.Resources != nil && ev.Resources.DiskPercent > pct {
		pct = ev.Resources.DiskPercent
	}
	if pct > DiskCriticalPercent {
		return hit("Disk nearly full", ConfidenceDisk, fmt.Sprintf("disk at %.1f%%", pct),
			"Remove unused images, volumes and old logs",
			"Grow the filesystem")
	}
	return candidate{}, false
}

func logGrowth(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "log size", "logrotate", "journal"); ok {
		return hit("Log files consuming disk", ConfidenceLogGrowth, line,
			"Rotate and compress logs",
			"Lower log retention")
	}
	return candidate{}, false
}

func appCrash(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "panic:", "segmentation fault", "segfault", "fatal error", "traceback"); ok {
		return hit("Application crash", ConfidenceAppCrash, line,
			"Inspect the stack trace in the service logs")
	}
	return candidate{}, false
}

func dependencyDown(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "connection refused", "could not connect", "no route to host"); ok {
		return hit("Dependency unavailable", ConfidenceDependency, line,
			"Check that upstream services are running")
	}
	return candidate{}, false
}

func exitCode(f domain.Fault, _ domain.Evidence) (candidate, bool) {
	if f.Details.ExitCode != nil && *f.Details.ExitCode != 0 {
		return hit("Application exited with an error", ConfidenceExitCode,
			fmt.Sprintf("exit code %d", *f.Details.ExitCode),
			"Inspect the service logs around the exit")
	}
	return candidate{}, false
}

func permissionDenied(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "permission denied", "operation not permitted"); ok {
		return hit("Insufficient file permissions", ConfidencePermission, line,
			"Restore ownership and mode of the affected path")
	}
	return candidate{}, false
}

func noSpace(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "no space left", "disk full"); ok {
		return hit("Disk nearly full", ConfidenceDisk, line,
			"Remove unused images, volumes and old logs")
	}
	return candidate{}, false
}

func dnsFailure(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "dns", "name resolution", "no such host"); ok {
		return hit("DNS resolution failure", ConfidenceDNS, line,
			"Check resolver configuration and upstream DNS servers")
	}
	return candidate{}, false
}

func connectionRefused(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "connection refused"); ok {
		return hit("Target service not listening", ConfidenceRefused, line,
			"Check that the service bound to the port is running")
	}
	return candidate{}, false
}

func networkDelay(f domain.Fault, ev domain.Evidence) (candidate, bool) {
	if line, ok := findText(f, ev, "timeout", "timed out", "unreachable"); ok {
		return hit("Network latency or packet loss", ConfidenceNetworkDelay, line,
			"Check interface status and routes")
	}
	return candidate{}, false
}

// findText searches the fault message and then the evidence logs, newest
// line first, for any of the keywords. It returns the matching text.
func findText(f domain.Fault, ev domain.Evidence, keywords ...string) (string, bool) {
	if containsAny(strings.ToLower(f.Message), keywords) {
		return f.Message, true
	}
	for i := len(ev.Logs) - 1; i >= 0; i-- {
		if containsAny(strings.ToLower(ev.Logs[i]), keywords) {
			return ev.Logs[i], true
		}
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
