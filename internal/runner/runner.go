// Package runner executes the external tools (git, make, meson, cmake,
// wayland-scanner, pkg-config) the build pipeline is made of.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/zenwm/zenbuild/internal/logx"
)

// Mode selects how a nonzero exit status is reported.
type Mode int

const (
	// FailFast turns a nonzero exit into an *ExitError.
	FailFast Mode = iota
	// Tolerant reports a nonzero exit through Result only.
	Tolerant
)

func (m Mode) String() string {
	if m == Tolerant {
		return "tolerant"
	}
	return "fail-fast"
}

// Cmd describes one external process invocation.
type Cmd struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Env overrides single variables of the inherited environment.
	Env map[string]string

	// Capture collects stdout into Result.Output instead of streaming it.
	Capture bool
}

// Command is a shorthand for Cmd{Name: name, Args: args}.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// In returns a copy of c running in dir.
func (c Cmd) In(dir string) Cmd {
	c.Dir = dir
	return c
}

// Line returns the command line without the working directory.
func (c Cmd) Line() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

func (c Cmd) String() string {
	if c.Dir != "" {
		return c.Line() + " @ " + c.Dir
	}
	return c.Line()
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Output   string
}

// OK reports whether the process exited with status zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// ExitError is returned in FailFast mode for a nonzero exit status.
type ExitError struct {
	Cmd      Cmd
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd.Line(), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Runner runs external commands synchronously.
type Runner interface {
	Run(ctx context.Context, cmd Cmd, mode Mode) (Result, error)
}

// Exec implements Runner with os/exec.
type Exec struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

var _ Runner = (*Exec)(nil)

// New returns an Exec streaming child output to the process streams.
func New(logger *slog.Logger) *Exec {
	return &Exec{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// Run starts cmd and waits for it. A failure to start the process is always
// returned as an error, whatever the mode.
func (e *Exec) Run(ctx context.Context, cmd Cmd, mode Mode) (Result, error) {
	logx.OrNop(e.Logger).Info(cmd.String())

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = mergeEnv(os.Environ(), cmd.Env)
	}

	var stdout, stderr bytes.Buffer
	if cmd.Capture {
		c.Stdout = &stdout
		c.Stderr = io.MultiWriter(&stderr, e.stderr())
	} else {
		c.Stdout = e.stdout()
		c.Stderr = e.stderr()
	}

	err := c.Run()
	res := Result{Output: stdout.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return res, fmt.Errorf("%s: %w", cmd.Line(), err)
	}
	res.ExitCode = exitErr.ExitCode()
	if mode == Tolerant {
		logx.OrNop(e.Logger).Debug("command failed, tolerated", "cmd", cmd.Line(), "code", res.ExitCode)
		return res, nil
	}
	return res, &ExitError{
		Cmd:      cmd,
		ExitCode: res.ExitCode,
		Stderr:   strings.TrimSpace(stderr.String()),
	}
}

func (e *Exec) stdout() io.Writer {
	if e.Stdout == nil {
		return io.Discard
	}
	return e.Stdout
}

func (e *Exec) stderr() io.Writer {
	if e.Stderr == nil {
		return io.Discard
	}
	return e.Stderr
}

// mergeEnv returns base with every key in override replaced or added,
// sorted by key.
func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(override))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
