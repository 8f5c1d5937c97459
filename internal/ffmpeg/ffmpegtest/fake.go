// Package ffmpegtest provides a scripted ffmpeg.Runner for tests.
package ffmpegtest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bdougie/fresque/internal/ffmpeg"
)

// Call is one recorded tool invocation
type Call struct {
	Tool string
	Args []string
}

// Line returns the invocation as a single space-joined string
func (c Call) Line() string {
	return c.Tool + " " + strings.Join(c.Args, " ")
}

// Runner records invocations and answers them through Handler.
// A nil Handler succeeds with empty output.
type Runner struct {
	Handler func(tool string, args []string) (ffmpeg.Output, error)

	mu    sync.Mutex
	calls []Call
}

// Run implements ffmpeg.Runner
func (r *Runner) Run(ctx context.Context, name string, args ...string) (ffmpeg.Output, error) {
	tool := filepath.Base(name)
	r.mu.Lock()
	r.calls = append(r.calls, Call{Tool: tool, Args: append([]string(nil), args...)})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ffmpeg.Output{}, &ffmpeg.ToolError{Tool: tool, Args: args, Err: err}
	}
	if r.Handler == nil {
		return ffmpeg.Output{}, nil
	}
	return r.Handler(tool, args)
}

// Calls returns a copy of the recorded invocations
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded invocations of one tool
func (r *Runner) CallsTo(tool string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// ProbeJSON renders ffprobe's json output for a single video stream
func ProbeJSON(width, height int, pixFmt string) []byte {
	return []byte(fmt.Sprintf(`{"streams":[{"width":%d,"height":%d,"pix_fmt":%q}]}`, width, height, pixFmt))
}

// Failure builds the error a failing tool invocation returns
func Failure(tool, stderr string) error {
	return &ffmpeg.ToolError{Tool: tool, Stderr: stderr, Err: fmt.Errorf("exit status 1")}
}
