package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Output is what an external tool wrote before exiting
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Runner invokes an external stream-processing tool and captures its pipes
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ToolError is returned when a tool exits non-zero, fails to start or times out
type ToolError struct {
	Tool     string
	Args     []string
	Stderr   string
	Err      error
	TimedOut bool
}

func (e *ToolError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out: %v", e.Tool, e.Err)
	}
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v\nOutput: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

// AsToolError extracts a *ToolError from err
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// ExecRunner runs tools as subprocesses, bounded by an optional timeout
type ExecRunner struct {
	Timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a subprocess runner. A zero timeout waits indefinitely.
func NewExecRunner(timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Timeout: timeout, logger: logger}
}

// Run executes name with args and returns its captured output
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	tool := filepath.Base(name)
	r.logger.Debug("tool finished", "tool", tool, "args", len(args), "elapsed", time.Since(start), "error", err)

	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		return out, &ToolError{
			Tool:     tool,
			Args:     args,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
	}
	return out, nil
}
