package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// promptLogLines bounds how many evidence log lines go into a prompt.
const promptLogLines = 20

// maxFreeTextCause bounds a root cause taken from a non-JSON reply.
const maxFreeTextCause = 200

// FreeTextConfidence is assigned when the reply is not the requested JSON.
const FreeTextConfidence = 0.5

// BuildPrompt renders the analysis request.
func BuildPrompt(req Request) string {
	var b strings.Builder
	f := req.Fault

	b.WriteString("You are a site reliability engineer diagnosing a fault on a single Linux host.\n\n")
	fmt.Fprintf(&b, "Fault type: %s\n", f.Type)
	if f.Service != "" {
		fmt.Fprintf(&b, "Service: %s\n", f.Service)
	}
	fmt.Fprintf(&b, "Severity: %s\n", f.Severity)
	fmt.Fprintf(&b, "Message: %s\n", f.Message)

	if details := detailLines(req); len(details) > 0 {
		b.WriteString("\nDetails:\n")
		for _, d := range details {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	if logs := req.Evidence.Logs; len(logs) > 0 {
		if len(logs) > promptLogLines {
			logs = logs[len(logs)-promptLogLines:]
		}
		b.WriteString("\nRecent logs:\n")
		for _, l := range logs {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}

	if req.Ladder.RootCause != "" {
		fmt.Fprintf(&b, "\nRule-based guess: %s (confidence %.2f)\n", req.Ladder.RootCause, req.Ladder.Confidence)
	}

	b.WriteString(`
Reply with a single JSON object and nothing else:
{"root_cause": "<one sentence>", "confidence": <0.0-1.0>, "analysis": "<short reasoning>"}
`)
	return b.String()
}

func detailLines(req Request) []string {
	d := req.Fault.Details
	var out []string
	if d.Container != "" {
		out = append(out, "container: "+d.Container)
	}
	if d.RestartCount > 0 {
		out = append(out, fmt.Sprintf("restart_count: %d", d.RestartCount))
	}
	if d.ExitCode != nil {
		out = append(out, fmt.Sprintf("exit_code: %d", *d.ExitCode))
	}
	if d.Port > 0 {
		out = append(out, fmt.Sprintf("port: %d", d.Port))
	}
	if d.Path != "" {
		out = append(out, "path: "+d.Path)
	}
	if d.Value > 0 {
		out = append(out, fmt.Sprintf("value: %.1f%% (threshold %.0f%%)", d.Value, d.Threshold))
	}
	keys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+": "+d.Extra[k])
	}
	if r := req.Evidence.Resources; r != nil {
		out = append(out, fmt.Sprintf("host: cpu %.1f%%, memory %.1f%%, disk %.1f%%", r.CPUPercent, r.MemoryPercent, r.DiskPercent))
	}
	return out
}

type reply struct {
	RootCause  string   `json:"root_cause"`
	Confidence *float64 `json:"confidence"`
	Analysis   string   `json:"analysis"`
}

// ParseReply extracts a Result from model output. The requested JSON object
// may be wrapped in code fences or prose. Anything else is read as free text:
// its first line becomes the root cause at FreeTextConfidence.
func ParseReply(text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}, ErrEmptyReply
	}

	if obj, ok := extractObject(trimmed); ok {
		var r reply
		if err := json.Unmarshal([]byte(obj), &r); err == nil && strings.TrimSpace(r.RootCause) != "" {
			conf := FreeTextConfidence
			if r.Confidence != nil {
				conf = clamp(*r.Confidence)
			}
			raw := r.Analysis
			if raw == "" {
				raw = trimmed
			}
			return Result{RootCause: strings.TrimSpace(r.RootCause), Confidence: conf, Raw: raw}, nil
		}
	}

	cause := firstLine(stripFences(trimmed))
	if cause == "" {
		return Result{}, ErrEmptyReply
	}
	if len(cause) > maxFreeTextCause {
		cause = cause[:maxFreeTextCause]
	}
	return Result{RootCause: cause, Confidence: FreeTextConfidence, Raw: trimmed}, nil
}

func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func stripFences(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		lines = append(lines, l)
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
