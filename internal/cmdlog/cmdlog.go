// Package cmdlog wraps CLI subcommands with a counter and a structured outcome line.
package cmdlog

import (
	"time"

	"xwatch/internal/logging"
	"xwatch/internal/metrics"
)

// Run executes f as subcommand cmd.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	fields := map[string]any{"command": cmd, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error("command_failed", fields)
	} else {
		logging.Info("command_ok", fields)
	}
	return err
}
