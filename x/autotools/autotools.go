// Package autotools drives make in a prepared source tree.
package autotools

import (
	"context"

	"github.com/zenwm/zenbuild/internal/runner"
)

// AutoTools runs make in one directory.
type AutoTools struct {
	dir    string
	env    map[string]string
	runner runner.Runner
}

// New returns a ready-to-use AutoTools building in dir.
func New(dir string, r runner.Runner) *AutoTools {
	return &AutoTools{
		dir:    dir,
		env:    make(map[string]string),
		runner: r,
	}
}

// Env sets key=value for every command spawned later.
func (a *AutoTools) Env(key, value string) {
	a.env[key] = value
}

// Build runs "make" with optional extra arguments.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	cmd := runner.Command("make", args...).In(a.dir)
	if len(a.env) > 0 {
		cmd.Env = a.env
	}
	_, err := a.runner.Run(ctx, cmd, runner.FailFast)
	return runner.Fail(runner.ErrCompile, "make "+a.dir, err)
}
