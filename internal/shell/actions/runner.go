package actions

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// =============================================================================
// Command Runner
// =============================================================================

// CommandRunner runs one external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run executes name with args. The command is killed when ctx is done.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		if output != "" {
			return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, output)
		}
		return output, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return output, nil
}
