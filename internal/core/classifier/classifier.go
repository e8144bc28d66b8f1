// Package classifier maps faults onto candidate remediation actions.
//
// All functions are pure. The orchestrator executes the first candidate
// (or records them for approval); an empty result means no action applies.
package classifier

import (
	"regexp"
	"strings"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
)

// =============================================================================
// Classification
// =============================================================================

// Classify returns the candidate actions for f, most applicable first.
//
// Example:
//
//	f := domain.NewFault(domain.FaultServiceCrash, "nginx", domain.SeverityHigh, "exited")
//	Classify(f, naming.NewConvention("cloud-sim-"))
//	// [{restart_container {Container: "cloud-sim-nginx"}}]
func Classify(f domain.Fault, names naming.Convention) []domain.ActionSpec {
	switch f.Type {
	case domain.FaultServiceCrash:
		container := f.Details.Container
		if container == "" {
			container = names.ContainerName(f.Service)
		}
		if container == "" {
			return []domain.ActionSpec{}
		}
		return []domain.ActionSpec{{
			Type:   domain.ActionRestartContainer,
			Params: domain.ActionParams{Service: f.Service, Container: container},
		}}
	case domain.FaultCPUExhaustion, domain.FaultMemoryExhaustion:
		return []domain.ActionSpec{{Type: domain.ActionCleanupResources}}
	case domain.FaultDiskFull:
		return []domain.ActionSpec{{Type: domain.ActionFreeDiskSpace}}
	case domain.FaultNetworkIssue:
		return []domain.ActionSpec{{Type: domain.ActionRestoreNetwork}}
	case domain.FaultLogError:
		return classifyLogError(f)
	default:
		return []domain.ActionSpec{}
	}
}

// =============================================================================
// Log Error Rules
// =============================================================================

// logRule matches keywords in a lowercased message and builds an action.
// build returns false when the rule matched but lacks the target it needs.
type logRule struct {
	keywords []string
	build    func(f domain.Fault, lower string) (domain.ActionSpec, bool)
}

// serviceKeywords maps keywords found in log messages to the unit to restart.
// An empty unit means the fault's own service is used.
var serviceKeywords = []struct {
	keyword string
	unit    string
}{
	{"systemd", ""},
	{"docker", "docker"},
	{"nginx", "nginx"},
	{"apache", "apache2"},
	{"cron", "cron"},
}

var logRules = []logRule{
	{
		keywords: []string{"permission denied"},
		build: func(f domain.Fault, _ string) (domain.ActionSpec, bool) {
			path := f.Details.Path
			if path == "" {
				path = ExtractPath(f.Message)
			}
			if path == "" {
				return domain.ActionSpec{}, false
			}
			return domain.ActionSpec{Type: domain.ActionFixPermissions, Params: domain.ActionParams{Path: path}}, true
		},
	},
	{
		keywords: []string{"disk full", "no space"},
		build:    simple(domain.ActionFreeDiskSpace),
	},
	{
		keywords: []string{"log size", "rotate"},
		build:    simple(domain.ActionRotateLogs),
	},
	{
		keywords: []string{"cache"},
		build:    simple(domain.ActionClearCache),
	},
	{
		keywords: []string{"network", "dns"},
		build:    simple(domain.ActionRestartNetwork),
	},
	{
		keywords: []string{"systemd", "docker", "nginx", "apache", "cron"},
		build: func(f domain.Fault, lower string) (domain.ActionSpec, bool) {
			service := f.Service
			if service == "" {
				for _, sk := range serviceKeywords {
					if sk.unit != "" && strings.Contains(lower, sk.keyword) {
						service = sk.unit
						break
					}
				}
			}
			if service == "" {
				return domain.ActionSpec{}, false
			}
			return domain.ActionSpec{Type: domain.ActionRestartService, Params: domain.ActionParams{Service: service}}, true
		},
	},
}

func simple(t domain.ActionType) func(domain.Fault, string) (domain.ActionSpec, bool) {
	return func(domain.Fault, string) (domain.ActionSpec, bool) {
		return domain.ActionSpec{Type: t}, true
	}
}

func classifyLogError(f domain.Fault) []domain.ActionSpec {
	lower := strings.ToLower(f.Message)
	out := []domain.ActionSpec{}
	seen := make(map[domain.ActionType]bool)

	for _, rule := range logRules {
		if !containsAny(lower, rule.keywords) {
			continue
		}
		spec, ok := rule.build(f, lower)
		if !ok || seen[spec.Type] {
			continue
		}
		seen[spec.Type] = true
		out = append(out, spec)
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// =============================================================================
// Parameter Extraction
// =============================================================================

var pathPattern = regexp.MustCompile(`(/[A-Za-z0-9._\-]+)+/?`)

// ExtractPath returns the first absolute path in msg, or "" if none.
//
// Example:
//
//	ExtractPath("open /var/log/app.log: permission denied") // "/var/log/app.log"
func ExtractPath(msg string) string {
	return strings.TrimRight(pathPattern.FindString(msg), ".")
}
