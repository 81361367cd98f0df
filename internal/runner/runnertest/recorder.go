// Package runnertest provides a recording runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"

	"github.com/zenwm/zenbuild/internal/runner"
)

// Recorder records every command it is asked to run. Handle, when set,
// simulates the command (typically by creating the files the real tool
// would produce) and decides its result.
type Recorder struct {
	Calls  []runner.Cmd
	Modes  []runner.Mode
	Handle func(cmd runner.Cmd) (runner.Result, error)
}

var _ runner.Runner = (*Recorder)(nil)

// Run records cmd and applies Handle.
func (r *Recorder) Run(ctx context.Context, cmd runner.Cmd, mode runner.Mode) (runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return runner.Result{}, err
	}
	r.Calls = append(r.Calls, cmd)
	r.Modes = append(r.Modes, mode)

	var res runner.Result
	if r.Handle != nil {
		var err error
		if res, err = r.Handle(cmd); err != nil {
			return res, err
		}
	}
	if !res.OK() && mode == runner.FailFast {
		return res, &runner.ExitError{Cmd: cmd, ExitCode: res.ExitCode}
	}
	return res, nil
}

// Lines returns the recorded command lines, with " @ dir" when a working
// directory was set.
func (r *Recorder) Lines() []string {
	lines := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		lines[i] = c.String()
	}
	return lines
}

// Named returns the recorded commands whose program is name.
func (r *Recorder) Named(name string) []runner.Cmd {
	var out []runner.Cmd
	for _, c := range r.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many recorded command lines start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, c := range r.Calls {
		if strings.HasPrefix(c.Line(), prefix) {
			n++
		}
	}
	return n
}

// Reset forgets all recorded calls.
func (r *Recorder) Reset() {
	r.Calls = nil
	r.Modes = nil
}
