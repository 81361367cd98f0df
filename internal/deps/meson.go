package deps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
	"github.com/zenwm/zenbuild/x/meson"
)

// Meson builds a dependency with meson into InstallDir, then writes
// InstallDir/CMakeLists.txt exposing it as one INTERFACE library named
// Target. Link flags come from pkg-config, queried against the fresh install.
type Meson struct {
	Dep        string
	SourceDir  string
	BuildDir   string
	InstallDir string
	// Package is the pkg-config name, e.g. "wlroots-0.19".
	Package string
	Target  string
	// IncludeDirs are relative to InstallDir. Empty means include/<Package>.
	IncludeDirs []string
	Defines     []string
	// Options are passed to meson setup as -D<key>=<value>.
	Options map[string]string
	// DefaultLibrary overrides meson's --default-library. Empty means static.
	DefaultLibrary string
	// Args are extra setup arguments, expanded with Lookup.
	Args   []string
	Runner runner.Runner
	Logger *slog.Logger
	// Lookup resolves variables in Args. Nil means os.Getenv.
	Lookup func(string) string
}

var _ Builder = (*Meson)(nil)

func (m *Meson) Name() string { return m.Dep }

// Stale reports whether the build or install directory is missing. Their
// contents are not inspected.
func (m *Meson) Stale(update bool) (bool, error) {
	if update {
		return true, nil
	}
	for _, dir := range []string{m.BuildDir, m.InstallDir} {
		missing, err := fsutil.Missing(dir)
		if err != nil || missing {
			return true, err
		}
	}
	return false, nil
}

func (m *Meson) Build(ctx context.Context) error {
	logger := logx.OrNop(m.Logger)
	lookup := m.Lookup
	if lookup == nil {
		lookup = os.Getenv
	}

	b := meson.New(m.SourceDir, m.BuildDir, m.InstallDir, m.Runner)
	for k, v := range m.Options {
		b.Option(k, v)
	}
	if m.DefaultLibrary != "" {
		b.DefaultLibrary(m.DefaultLibrary)
	}
	b.Args(m.Args...)
	if err := b.Setup(ctx, lookup); err != nil {
		return err
	}
	if err := b.Compile(ctx); err != nil {
		return err
	}
	if err := b.Install(ctx); err != nil {
		return err
	}

	flags, err := m.linkFlags(ctx, b.PkgConfigDir())
	if err != nil {
		return err
	}
	manifest := filepath.Join(m.InstallDir, "CMakeLists.txt")
	if err := fsutil.WriteFileAtomic(manifest, []byte(m.Manifest(flags)), 0o644); err != nil {
		return runner.Fail(runner.ErrInstall, "write "+manifest, err)
	}
	logger.Info("wrote cmake manifest", "dep", m.Dep, "file", manifest)
	return nil
}

// linkFlags runs "pkg-config --static --libs <Package>" with
// PKG_CONFIG_PATH pointing at the fresh install only.
func (m *Meson) linkFlags(ctx context.Context, pcDir string) ([]string, error) {
	cmd := runner.Command("pkg-config", "--static", "--libs", m.Package)
	cmd.Env = map[string]string{"PKG_CONFIG_PATH": pcDir}
	cmd.Capture = true

	res, err := m.Runner.Run(ctx, cmd, runner.FailFast)
	if err != nil {
		return nil, runner.Fail(runner.ErrPackageQuery, m.Package,
			errors.Wrapf(err, "query %s in %s", m.Package, pcDir))
	}
	return strings.Fields(res.Output), nil
}

func (m *Meson) includeDirs() []string {
	if len(m.IncludeDirs) > 0 {
		return m.IncludeDirs
	}
	return []string{"include/" + m.Package}
}

// Manifest renders the consumer CMakeLists.txt for the given link flags.
func (m *Meson) Manifest(flags []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "add_library(%s INTERFACE)\n", m.Target)
	fmt.Fprintf(&b, "target_include_directories(%s INTERFACE %s)\n", m.Target, strings.Join(m.includeDirs(), " "))
	fmt.Fprintf(&b, "target_link_options(%s INTERFACE %s)\n", m.Target, strings.Join(flags, " "))
	if len(m.Defines) > 0 {
		defs := make([]string, len(m.Defines))
		for i, d := range m.Defines {
			defs[i] = "-D" + d
		}
		fmt.Fprintf(&b, "target_compile_definitions(%s INTERFACE %s)\n", m.Target, strings.Join(defs, " "))
	}
	return b.String()
}
