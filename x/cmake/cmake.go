// Package cmake wraps the cmake configure/build workflow.
package cmake

import (
	"context"
	"log/slog"
	"sort"

	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake drives CMake-based builds.
type CMake struct {
	sourceDir string
	buildDir  string
	generator string
	buildType string
	defines   map[string]defineValue

	runner runner.Runner
	logger *slog.Logger
}

// New returns a ready-to-use CMake running its commands through r.
func New(sourceDir, buildDir string, r runner.Runner) *CMake {
	return &CMake{
		sourceDir: sourceDir,
		buildDir:  buildDir,
		defines:   make(map[string]defineValue),
		runner:    r,
	}
}

// Logger sets the logger used for progress messages.
func (c *CMake) Logger(l *slog.Logger) { c.logger = l }

// Generator sets the CMake generator (e.g. "Ninja", "Unix Makefiles").
func (c *CMake) Generator(name string) { c.generator = name }

// BuildType sets CMAKE_BUILD_TYPE (e.g. "Release", "Debug").
func (c *CMake) BuildType(name string) { c.buildType = name }

// Compilers sets CMAKE_C_COMPILER and CMAKE_CXX_COMPILER.
func (c *CMake) Compilers(cc, cxx string) {
	if cc != "" {
		c.Define("CMAKE_C_COMPILER", cc)
	}
	if cxx != "" {
		c.Define("CMAKE_CXX_COMPILER", cxx)
	}
}

// Linker sets CMAKE_LINKER_TYPE (e.g. "MOLD", "LLD").
func (c *CMake) Linker(kind string) {
	if kind != "" {
		c.Define("CMAKE_LINKER_TYPE", kind)
	}
}

// Define adds a -D<key>=<value> definition.
func (c *CMake) Define(key, value string) {
	c.defines[key] = defineValue{value: value}
}

// DefineBool adds a -D<key>:BOOL=ON/OFF definition.
func (c *CMake) DefineBool(key string, value bool) {
	v := "OFF"
	if value {
		v = "ON"
	}
	c.defines[key] = defineValue{value: v, typeName: "BOOL"}
}

// Configured reports whether the build directory exists. Its contents are
// not inspected.
func (c *CMake) Configured() bool {
	return fsutil.Exists(c.buildDir)
}

// ConfigureArgs returns the arguments Configure passes to cmake.
func (c *CMake) ConfigureArgs(args ...string) []string {
	var cmakeArgs []string
	if c.sourceDir != "" {
		cmakeArgs = append(cmakeArgs, "-S", c.sourceDir)
	}
	cmakeArgs = append(cmakeArgs, "-B", c.buildDir)
	if c.generator != "" {
		cmakeArgs = append(cmakeArgs, "-G", c.generator)
	}
	if c.buildType != "" {
		c.Define("CMAKE_BUILD_TYPE", c.buildType)
	}
	cmakeArgs = append(cmakeArgs, c.definesArgs()...)
	return append(cmakeArgs, args...)
}

// Configure runs "cmake [-S <source>] -B <build>" with all configured
// options. Extra args are appended at the end. The build directory is left
// for cmake to create, so a configure that never started leaves the build
// unconfigured.
func (c *CMake) Configure(ctx context.Context, args ...string) error {
	return runner.Fail(runner.ErrConfigure, "configure "+c.buildDir,
		c.run(ctx, c.ConfigureArgs(args...)))
}

// Build runs "cmake --build <build>" with optional extra arguments.
func (c *CMake) Build(ctx context.Context, args ...string) error {
	cmakeArgs := append([]string{"--build", c.buildDir}, args...)
	return runner.Fail(runner.ErrCompile, "compile "+c.buildDir, c.run(ctx, cmakeArgs))
}

// OutputDir returns the build directory.
func (c *CMake) OutputDir() string {
	return c.buildDir
}

func (c *CMake) run(ctx context.Context, args []string) error {
	logx.OrNop(c.logger).Debug("cmake", "args", args)
	cmd := runner.Command("cmake", args...)
	if c.sourceDir != "" {
		cmd = cmd.In(c.sourceDir)
	}
	_, err := c.runner.Run(ctx, cmd, runner.FailFast)
	return err
}

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := c.defines[k]
		if d.typeName == "" {
			args = append(args, "-D"+k+"="+d.value)
			continue
		}
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}
