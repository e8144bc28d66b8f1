// Package remediation renders the human-facing text of a healing attempt:
// manual follow-up steps when automated healing fails, and notification
// titles and bodies. Pure functions only.
package remediation

import (
	"fmt"
	"strings"

	"github.com/artpar/healer/internal/core/domain"
)

// =============================================================================
// Manual Instructions
// =============================================================================

// ManualInstructions returns numbered operator steps for a fault whose
// automated remediation failed. The container name is used for service
// crashes and may be empty.
func ManualInstructions(f domain.Fault, container string) string {
	var steps []string
	switch f.Type {
	case domain.FaultServiceCrash:
		if container == "" {
			container = f.Service
		}
		steps = []string{
			fmt.Sprintf("Check container status: docker ps -a --filter name=%s", container),
			fmt.Sprintf("Inspect recent logs: docker logs --tail 100 %s", container),
			fmt.Sprintf("Restart manually: docker restart %s", container),
			"If it keeps exiting, check the image, configuration and resource limits",
		}
	case domain.FaultCPUExhaustion:
		steps = []string{
			"Identify top consumers: top -o %CPU or docker stats --no-stream",
			"Stop or throttle runaway processes",
			"Consider scaling the workload out or adding CPU capacity",
		}
	case domain.FaultMemoryExhaustion:
		steps = []string{
			"Identify top consumers: ps aux --sort=-%mem | head",
			"Check for OOM kills: dmesg | grep -i 'killed process'",
			"Restart leaking services and review memory limits",
			"Consider adding swap or memory",
		}
	case domain.FaultDiskFull:
		steps = []string{
			"Find large directories: du -xh / --max-depth=2 | sort -rh | head",
			"Vacuum the journal: journalctl --vacuum-size=200M",
			"Remove unused Docker data: docker system prune",
			"Rotate and compress logs: logrotate -f /etc/logrotate.conf",
		}
	case domain.FaultNetworkIssue:
		steps = []string{
			"Check interfaces and routes: ip addr; ip route",
			"Check DNS resolution: resolvectl status",
		}
		if f.Details.Port > 0 {
			steps = append(steps, fmt.Sprintf("Check the listener: ss -ltnp 'sport = :%d'", f.Details.Port))
		}
		steps = append(steps, "Restart networking: systemctl restart systemd-networkd")
	case domain.FaultLogError:
		steps = []string{
			"Review the full log context around the error",
		}
		if f.Service != "" {
			steps = append(steps, fmt.Sprintf("Check the service: systemctl status %s", f.Service))
		}
		if f.Details.Path != "" {
			steps = append(steps, fmt.Sprintf("Check ownership and mode: ls -ld %s", f.Details.Path))
		}
		steps = append(steps, "Apply the fix indicated by the error and watch for recurrence")
	default:
		steps = []string{"Investigate the fault manually"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Automated healing failed for %s", f.Type)
	if f.Service != "" {
		fmt.Fprintf(&b, " on %s", f.Service)
	}
	b.WriteString(". Manual steps:\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(b.String(), "\n")
}
