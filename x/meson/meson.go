// Package meson wraps the meson setup/compile/install workflow.
package meson

import (
	"context"
	"path/filepath"
	"sort"

	"mvdan.cc/sh/v3/shell"

	"github.com/zenwm/zenbuild/internal/runner"
)

// Meson drives Meson-based builds. Setup runs in the source directory with
// absolute build and install paths, so the source tree may be anywhere.
type Meson struct {
	sourceDir      string
	buildDir       string
	installDir     string
	defaultLibrary string
	options        map[string]string
	args           []string
	runner         runner.Runner
}

// New returns a ready-to-use Meson. The default library kind is static.
func New(sourceDir, buildDir, installDir string, r runner.Runner) *Meson {
	return &Meson{
		sourceDir:      sourceDir,
		buildDir:       buildDir,
		installDir:     installDir,
		defaultLibrary: "static",
		options:        make(map[string]string),
		runner:         r,
	}
}

// DefaultLibrary sets --default-library (static, shared or both).
func (m *Meson) DefaultLibrary(kind string) { m.defaultLibrary = kind }

// Option adds a -D<key>=<value> project option.
func (m *Meson) Option(key, value string) { m.options[key] = value }

// Args appends raw setup arguments. Shell-style variable references are
// expanded with lookup when setup runs.
func (m *Meson) Args(args ...string) { m.args = append(m.args, args...) }

// SetupArgs returns the arguments Setup passes to meson.
func (m *Meson) SetupArgs(lookup func(string) string) ([]string, error) {
	build, err := filepath.Abs(m.buildDir)
	if err != nil {
		return nil, err
	}
	install, err := filepath.Abs(m.installDir)
	if err != nil {
		return nil, err
	}
	args := []string{"setup", "--reconfigure"}
	if m.defaultLibrary != "" {
		args = append(args, "--default-library", m.defaultLibrary)
	}
	args = append(args, "--prefix", install)

	keys := make([]string, 0, len(m.options))
	for k := range m.options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-D"+k+"="+m.options[k])
	}
	for _, arg := range m.args {
		arg, err := shell.Expand(arg, lookup)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return append(args, build), nil
}

// Setup configures the build directory. --reconfigure makes it safe to run
// on an existing build directory.
func (m *Meson) Setup(ctx context.Context, lookup func(string) string) error {
	args, err := m.SetupArgs(lookup)
	if err != nil {
		return runner.Fail(runner.ErrConfigure, "meson setup "+m.buildDir, err)
	}
	cmd := runner.Command("meson", args...).In(m.sourceDir)
	_, err = m.runner.Run(ctx, cmd, runner.FailFast)
	return runner.Fail(runner.ErrConfigure, "meson setup "+m.buildDir, err)
}

// Compile runs "meson compile -C <build>".
func (m *Meson) Compile(ctx context.Context) error {
	cmd := runner.Command("meson", "compile", "-C", m.buildDir).In(m.sourceDir)
	_, err := m.runner.Run(ctx, cmd, runner.FailFast)
	return runner.Fail(runner.ErrCompile, "meson compile "+m.buildDir, err)
}

// Install runs "meson install -q -C <build>".
func (m *Meson) Install(ctx context.Context) error {
	cmd := runner.Command("meson", "install", "-q", "-C", m.buildDir).In(m.sourceDir)
	_, err := m.runner.Run(ctx, cmd, runner.FailFast)
	return runner.Fail(runner.ErrInstall, "meson install "+m.buildDir, err)
}

// PkgConfigDir is where an installed package's .pc files live.
func (m *Meson) PkgConfigDir() string {
	return filepath.Join(m.installDir, "lib", "pkgconfig")
}
