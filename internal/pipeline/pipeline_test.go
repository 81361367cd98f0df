package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenwm/zenbuild/internal/config"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
	"github.com/zenwm/zenbuild/internal/runner/runnertest"
)

type fixture struct {
	root string
	home string
	rec  *runnertest.Recorder
	// fail makes the first command whose line starts with it exit 1.
	fail string
}

func write(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

// newFixture lays out a project root and a fake system protocol tree, and
// returns a recorder that simulates git, make, meson, pkg-config,
// wayland-scanner and cmake on the filesystem.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	f := &fixture{
		root: filepath.Join(tmp, "zen"),
		home: filepath.Join(tmp, "home"),
	}
	t.Setenv("HOME", f.home)
	t.Setenv("XDG_CONFIG_HOME", "")
	write(t, filepath.Join(f.root, "resources", "portals.conf"), "[preferred]\ndefault=wlr\n")
	write(t, filepath.Join(f.root, "patches", "wlroots", "keyboard_enter.patch"), "diff\n")
	write(t, filepath.Join(tmp, "protocols", "stable", "xdg-shell", "xdg-shell.xml"), "<protocol/>")

	f.rec = &runnertest.Recorder{Handle: f.handle}
	return f
}

func (f *fixture) handle(cmd runner.Cmd) (runner.Result, error) {
	if f.fail != "" && strings.HasPrefix(cmd.Line(), f.fail) {
		return runner.Result{ExitCode: 1}, nil
	}
	args := cmd.Args
	switch filepath.Base(cmd.Name) {
	case "git":
		if args[0] == "rev-parse" {
			return runner.Result{Output: "0123abcd\n"}, nil
		}
		if args[0] == "clone" {
			dir := args[len(args)-1]
			if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
				return runner.Result{}, err
			}
			if filepath.Base(dir) == "wlroots" {
				path := filepath.Join(dir, "protocol", "wlr-layer-shell-unstable-v1.xml")
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return runner.Result{}, err
				}
				return runner.Result{}, os.WriteFile(path, []byte("<protocol/>"), 0o644)
			}
		}
	case "make":
		path := filepath.Join(cmd.Dir, "src", "libluajit.a")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return runner.Result{}, err
		}
		return runner.Result{}, os.WriteFile(path, nil, 0o644)
	case "meson":
		switch args[0] {
		case "setup":
			return runner.Result{}, os.MkdirAll(args[len(args)-1], 0o755)
		case "install":
			install := strings.TrimSuffix(args[len(args)-1], "-build") + "-install"
			return runner.Result{}, os.MkdirAll(filepath.Join(install, "lib", "pkgconfig"), 0o755)
		}
	case "pkg-config":
		return runner.Result{Output: "-lwlroots-0.19 -lwayland-server\n"}, nil
	case "wayland-scanner":
		return runner.Result{}, os.WriteFile(filepath.Join(cmd.Dir, args[2]), []byte("/* generated */"), 0o644)
	case "cmake":
		for i, arg := range args {
			if arg == "-B" {
				return runner.Result{}, os.MkdirAll(args[i+1], 0o755)
			}
		}
		if args[0] == "--build" {
			bin := filepath.Join(args[1], "zen")
			if err := os.WriteFile(bin, []byte("ELF"), 0o755); err != nil {
				return runner.Result{}, err
			}
			return runner.Result{}, os.Chmod(bin, 0o755)
		}
	}
	return runner.Result{}, nil
}

func (f *fixture) config(intents config.Intents) *config.Config {
	project := config.Default()
	project.Protocols.SystemRoot = filepath.Join(filepath.Dir(f.root), "protocols")
	return &config.Config{Root: f.root, Intents: intents, Project: project}
}

func (f *fixture) run(t *testing.T, intents config.Intents) error {
	t.Helper()
	return f.runProject(t, f.config(intents), nil)
}

func (f *fixture) runProject(t *testing.T, cfg *config.Config, logger *slog.Logger) error {
	t.Helper()
	f.rec.Reset()
	_, err := New(cfg, f.rec, logger).Run(context.Background())
	return err
}

func (f *fixture) vendor(parts ...string) string {
	return filepath.Join(append([]string{f.root, ".build", "3rdparty"}, parts...)...)
}

func TestGraphOrder(t *testing.T) {
	f := newFixture(t)
	g, err := New(f.config(config.Intents{}), f.rec, nil).Graph()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fetch:backward-cpp", "fetch:magic-enum", "fetch:glm", "fetch:sol2",
		"fetch:luajit", "build:luajit", "fetch:wlroots", "build:wlroots",
		"protocols", "configure", "compile", "install",
	}, g.Order())
}

func TestTargetDirsDiffer(t *testing.T) {
	f := newFixture(t)
	debug := Target(f.config(config.Intents{Build: true}))
	release := Target(f.config(config.Intents{Build: true, Release: true}))

	assert.Equal(t, "Debug", debug.BuildType)
	assert.Equal(t, "Release", release.BuildType)
	assert.NotEqual(t, debug.OutputDir, release.OutputDir)
	assert.Equal(t, filepath.Join(f.root, ".build", "debug"), debug.OutputDir)
	assert.Equal(t, BuildTarget{
		BuildType: "Release",
		OutputDir: filepath.Join(f.root, ".build", "release"),
		CC:        "clang",
		CXX:       "clang++",
		Linker:    "MOLD",
		Generator: "Ninja",
	}, release)
}

// Empty vendor root, build intent only.
func TestFirstBuild(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Build: true}))

	for _, dep := range []string{"backward-cpp", "magic-enum", "glm", "sol2", "luajit", "wlroots"} {
		assert.DirExists(t, f.vendor(dep))
	}
	assert.Equal(t, 6, f.rec.Count("git clone"))
	assert.Equal(t, 1, f.rec.Count("git clone https://luajit.org/git/luajit.git --branch v2.1 "+f.vendor("luajit")),
		"dumb origin clones without --depth")
	assert.Equal(t, 1, f.rec.Count("git apply "+filepath.Join(f.root, "patches", "wlroots", "keyboard_enter.patch")))
	assert.Equal(t, 1, f.rec.Count("make -j"))
	assert.Equal(t, 1, f.rec.Count("meson setup"))
	assert.FileExists(t, f.vendor("wlroots-install", "CMakeLists.txt"))

	manifest, err := os.ReadFile(f.vendor("wayland", "CMakeLists.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), `"src/xdg-shell-protocol.c"`)
	assert.Contains(t, string(manifest), `"src/wlr-layer-shell-unstable-v1-protocol.c"`)
	assert.Equal(t, 4, f.rec.Count("wayland-scanner"))

	out := filepath.Join(f.root, ".build", "debug")
	assert.Equal(t, 1, f.rec.Count("cmake -S "+f.root+" -B "+out+" -G Ninja"))
	assert.Equal(t, 1, f.rec.Count("cmake --build "+out))
	assert.Contains(t, f.rec.Lines(), "cmake -S "+f.root+" -B "+out+" -G Ninja"+
		" -DCMAKE_BUILD_TYPE=Debug -DCMAKE_CXX_COMPILER=clang++ -DCMAKE_C_COMPILER=clang"+
		" -DCMAKE_EXPORT_COMPILE_COMMANDS:BOOL=ON -DCMAKE_LINKER_TYPE=MOLD"+
		" -DPROJECT_NAME=zen -DVENDOR_DIR="+f.vendor()+" @ "+f.root)
	assert.NoDirExists(t, filepath.Join(f.root, ".build", "release"))

	// Repeating the invocation only recompiles.
	require.NoError(t, f.run(t, config.Intents{Build: true}))
	assert.Equal(t, []string{"cmake --build " + out + " @ " + f.root}, f.rec.Lines())
}

// Update intent only.
func TestUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Build: true}))

	header := f.vendor("wayland", "include", "xdg-shell-protocol.h")
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(header, old, old))
	manifest := f.vendor("wayland", "CMakeLists.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("stale"), 0o644))

	require.NoError(t, f.run(t, config.Intents{Update: true}))

	assert.Equal(t, 6, f.rec.Count("git reset --hard"))
	assert.Equal(t, 6, f.rec.Count("git checkout"))
	assert.Equal(t, 6, f.rec.Count("git pull origin"))
	assert.Zero(t, f.rec.Count("git clone"))
	assert.Zero(t, f.rec.Count("git apply"), "patches are not reapplied on update")
	assert.Equal(t, 1, f.rec.Count("make -j"))
	assert.Equal(t, 1, f.rec.Count("meson compile"))
	assert.Zero(t, f.rec.Count("wayland-scanner"), "existing bindings are not regenerated")
	assert.Zero(t, f.rec.Count("cmake"), "update alone does not build")

	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "add_library(wayland-header\n"))
	info, err := os.Stat(header)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

// Install intent with byte-identical destinations.
func TestInstallUnchanged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Install: true}))

	bin := filepath.Join(f.home, ".local", "bin", "zen")
	before := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(bin, before, before))

	require.NoError(t, f.run(t, config.Intents{Install: true}))
	info, err := os.Stat(bin)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(before), "identical destination must not be rewritten")
}

// First run with release and install intents.
func TestReleaseInstall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Release: true, Install: true}))

	out := filepath.Join(f.root, ".build", "release")
	assert.DirExists(t, out)
	assert.NoDirExists(t, filepath.Join(f.root, ".build", "debug"))
	assert.Equal(t, 1, f.rec.Count("cmake -S "+f.root+" -B "+out))
	assert.Equal(t, 1, f.rec.Count("cmake --build "+out))

	bin, err := os.ReadFile(filepath.Join(f.home, ".local", "bin", "zen"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(bin))
	info, err := os.Stat(filepath.Join(f.home, ".local", "bin", "zen"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	conf, err := os.ReadFile(filepath.Join(f.home, ".config", "xdg-desktop-portal", "zen-portals.conf"))
	require.NoError(t, err)
	assert.Equal(t, "[preferred]\ndefault=wlr\n", string(conf))
}

func TestForceConfigure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Build: true}))

	require.NoError(t, f.run(t, config.Intents{ForceConfigure: true}))
	out := filepath.Join(f.root, ".build", "debug")
	assert.Equal(t, 1, f.rec.Count("cmake -S "+f.root+" -B "+out))
	assert.Zero(t, f.rec.Count("cmake --build"), "configure alone does not compile")
}

func TestNoIntentsOnlyPrepares(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{}))
	assert.Equal(t, 6, f.rec.Count("git clone"))
	assert.Zero(t, f.rec.Count("cmake"))
	assert.FileExists(t, f.vendor("wayland", "CMakeLists.txt"))
}

func TestConfigureFailureAbortsCompile(t *testing.T) {
	f := newFixture(t)
	f.fail = "cmake -S"

	err := f.run(t, config.Intents{Install: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, runner.ErrConfigure))
	assert.Zero(t, f.rec.Count("cmake --build"))
	assert.NoFileExists(t, filepath.Join(f.home, ".local", "bin", "zen"))

	// Nothing was configured, so the next build configures again.
	f.fail = ""
	require.NoError(t, f.run(t, config.Intents{Build: true}))
	assert.Equal(t, 1, f.rec.Count("cmake -S"))
}

func TestFetchLogsCommit(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })
	f := newFixture(t)
	var logs bytes.Buffer
	require.NoError(t, f.runProject(t, f.config(config.Intents{}), logx.New(&logs, logx.LevelInfo)))

	assert.Equal(t, 6, f.rec.Count("git rev-parse HEAD"))
	assert.Contains(t, logs.String(), "commit=0123abcd")

	// An unreadable HEAD is reported but does not fail the fetch.
	require.NoError(t, os.RemoveAll(f.vendor("glm")))
	f.fail = "git rev-parse"
	logs.Reset()
	require.NoError(t, f.runProject(t, f.config(config.Intents{}), logx.New(&logs, logx.LevelInfo)))
	assert.Equal(t, 1, f.rec.Count("git clone https://github.com/g-truc/glm.git"))
	assert.Contains(t, logs.String(), "cannot read fetched commit")
}

func TestProjectToolchainAndBuildSections(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(config.Intents{})
	cfg.Project.Toolchain.Git = "/opt/git/bin/git"
	luajit := cfg.Project.Dependencies[4].Build
	luajit.Env = map[string]string{"CC": "clang"}
	wlroots := cfg.Project.Dependencies[5].Build
	wlroots.DefaultLibrary = "both"
	wlroots.Args = []string{"--pkg-config-path=${VENDOR_DIR}/pc"}

	require.NoError(t, f.runProject(t, cfg, nil))
	assert.Equal(t, 6, f.rec.Count("/opt/git/bin/git clone"))
	assert.Zero(t, f.rec.Count("git clone"))

	makes := f.rec.Named("make")
	require.Len(t, makes, 1)
	assert.Equal(t, map[string]string{"CC": "clang"}, makes[0].Env)

	setup := f.rec.Named("meson")[0]
	assert.Equal(t, "meson setup --reconfigure --default-library both --prefix "+f.vendor("wlroots-install")+
		" --pkg-config-path="+f.vendor()+"/pc "+f.vendor("wlroots-build"), setup.Line())
}

func TestFailuresStopTheRun(t *testing.T) {
	for _, tt := range []struct {
		fail string
		kind error
	}{
		{"git clone https://github.com/g-truc/glm.git", runner.ErrFetch},
		{"git apply", runner.ErrPatchApply},
		{"make", runner.ErrCompile},
		{"pkg-config", runner.ErrPackageQuery},
		{"wayland-scanner server-header", runner.ErrProtocolGeneration},
		{"cmake --build", runner.ErrCompile},
	} {
		t.Run(tt.fail, func(t *testing.T) {
			f := newFixture(t)
			f.fail = tt.fail
			err := f.run(t, config.Intents{Install: true})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.NoFileExists(t, filepath.Join(f.home, ".local", "bin", "zen"))
		})
	}
}

func TestInstallMissingArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, config.Intents{Build: true}))
	require.NoError(t, os.Remove(filepath.Join(f.root, ".build", "debug", "zen")))
	f.fail = "cmake --build"

	// The build step fails first; the installer is never reached.
	err := f.run(t, config.Intents{Install: true})
	assert.True(t, errors.Is(err, runner.ErrCompile))

	f.fail = ""
	f.rec.Handle = func(runner.Cmd) (runner.Result, error) { return runner.Result{}, nil }
	err = f.run(t, config.Intents{Install: true})
	assert.True(t, errors.Is(err, runner.ErrInstall))
}
