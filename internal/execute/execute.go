// Package execute is the lowest-level layer that physically interacts with
// the outside world. It spawns exactly one external process per Run call,
// owns that process's lifetime, and guarantees process-group termination
// when the caller's context is cancelled so no orphaned tools survive a
// timeout or kill.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxOutputBytes caps captured stdout/stderr per stream.
const DefaultMaxOutputBytes = 10 << 20 // 10MB

// Command is the invocation specification a plugin builds.
type Command struct {
	// Binary is the executable to run (e.g., "nmap", "whois").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// MaxOutputBytes limits captured output per stream.
	// Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// String returns the full command for display and logging.
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result captures everything about one finished process.
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Killed    bool          `json:"killed"`
	Truncated bool          `json:"truncated"`
}

// Combined returns stdout and stderr joined for parsers that want both.
func (r *Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner abstracts process execution so the scheduler and tests can
// substitute a fake. Production code uses OSRunner.
type Runner interface {
	// Run executes cmd and blocks until the process exits or ctx is
	// cancelled. A non-zero exit code is a Result, not an error; Run
	// returns an error only when the process could not be started or
	// its lifecycle could not be observed.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// LookPath reports whether the binary is resolvable on this host.
	LookPath(binary string) error
}

// OSRunner runs commands directly on the host.
type OSRunner struct {
	logger *zap.Logger
}

// NewOSRunner creates a host process runner.
func NewOSRunner(logger *zap.Logger) *OSRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSRunner{logger: logger}
}

// LookPath reports whether the binary is available in PATH.
func (r *OSRunner) LookPath(binary string) error {
	_, err := exec.LookPath(binary)
	return err
}

// Run executes the command in its own process group. Cancellation of ctx
// kills the whole group, covering children the tool may have forked.
func (r *OSRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("execute: binary is required")
	}

	execCmd := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }
	execCmd.WaitDelay = 5 * time.Second

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	maxOutput := cmd.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	r.logger.Debug("starting process", zap.String("command", cmd.String()))

	started := time.Now()
	err := execCmd.Run()
	result := &Result{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		ExitCode:  -1,
		Duration:  time.Since(started),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case ctx.Err() != nil:
		result.Killed = true
		r.logger.Debug("process killed",
			zap.String("command", cmd.String()),
			zap.NamedError("cause", ctx.Err()))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The tool ran and returned non-zero. That is a result the
			// caller interprets, not an infrastructure failure.
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute %s: %w", cmd.Binary, err)
		}
	}

	if result.Truncated {
		r.logger.Warn("process output truncated",
			zap.String("command", cmd.String()),
			zap.Int64("limit_bytes", maxOutput))
	}
	r.logger.Debug("process finished",
		zap.String("command", cmd.String()),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// limitedWriter writes to w until max bytes, discarding the rest.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	orig := len(p)
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return orig, nil
	}
	if int64(len(p)) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return orig, nil
}
