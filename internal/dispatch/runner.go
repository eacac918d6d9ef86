package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner invokes a local command-line agent runner as the fallback transport.
// The prompt is passed as a discrete argument vector entry, never through a
// shell, so no escaping of the prompt text is needed.
type Runner struct {
	bin     string
	timeout time.Duration
}

// NewRunner creates a CLI runner transport for the given binary.
func NewRunner(bin string, timeout time.Duration) *Runner {
	return &Runner{bin: bin, timeout: timeout}
}

// Send runs `<bin> send --agent <id> --message <text> --channel <name>` with a
// bounded timeout.
func (r *Runner) Send(ctx context.Context, agentID, message, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin,
		"send",
		"--agent", agentID,
		"--message", message,
		"--channel", channel,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return fmt.Errorf("runner %s: %w (%s)", r.bin, err, detail)
	}
	return nil
}
