package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
)

const (
	// ManifestName is the CMake file aggregating the generated sources.
	ManifestName = "CMakeLists.txt"

	DefaultScanner = "wayland-scanner"
	DefaultTarget  = "wayland-header"
)

// Generator turns protocol descriptors into a header/source pair each and
// one CMake library target listing every generated source.
//
// Layout under Dir:
//
//	include/<name>-protocol.h
//	src/<name>-protocol.c
//	CMakeLists.txt
type Generator struct {
	Scanner string
	Dir     string
	Target  string
	Runner  runner.Runner
	Logger  *slog.Logger
}

// Report describes one Generate call.
type Report struct {
	// Skipped is set when the manifest existed and no update was requested.
	Skipped bool
	// Generated lists the files produced by this call.
	Generated []string
	// Sources lists the manifest entries, relative to Dir.
	Sources []string
}

func (g *Generator) IncludeDir() string   { return filepath.Join(g.Dir, "include") }
func (g *Generator) SourceDir() string    { return filepath.Join(g.Dir, "src") }
func (g *Generator) ManifestPath() string { return filepath.Join(g.Dir, ManifestName) }

// Fresh reports whether Generate would skip: the manifest exists and no
// update is requested. The set of available descriptors is not consulted, so
// protocols added upstream stay out of the manifest until an update run.
func (g *Generator) Fresh(update bool) bool {
	return !update && fsutil.Exists(g.ManifestPath())
}

// Generate runs the scanner for every header or source file of src that does
// not exist yet, then rewrites the manifest. Existing generated files are
// never touched, even when their definition changed.
func (g *Generator) Generate(ctx context.Context, src Source, update bool) (*Report, error) {
	if g.Fresh(update) {
		return &Report{Skipped: true}, nil
	}
	logger := logx.OrNop(g.Logger)

	for _, dir := range []string{g.IncludeDir(), g.SourceDir()} {
		if _, err := fsutil.EnsureDir(dir); err != nil {
			return nil, runner.Fail(runner.ErrProtocolGeneration, dir, err)
		}
	}

	report := &Report{}
	for d, err := range src.Descriptors() {
		if err != nil {
			return report, runner.Fail(runner.ErrProtocolGeneration, "list protocols", err)
		}
		if strings.ContainsAny(d.Name, `"\$`) {
			return report, runner.Fail(runner.ErrProtocolGeneration, d.Path,
				fmt.Errorf("protocol name %q cannot be quoted in %s", d.Name, ManifestName))
		}

		created, err := g.generate(ctx, "server-header", d.Path, g.IncludeDir(), d.Header())
		if err != nil {
			return report, err
		}
		if created {
			logger.Info("generated wayland header", "file", d.Header())
			report.Generated = append(report.Generated, filepath.Join(g.IncludeDir(), d.Header()))
		}

		created, err = g.generate(ctx, "private-code", d.Path, g.SourceDir(), d.Source())
		if err != nil {
			return report, err
		}
		if created {
			logger.Info("generated wayland source", "file", d.Source())
			report.Generated = append(report.Generated, filepath.Join(g.SourceDir(), d.Source()))
		}

		report.Sources = append(report.Sources, "src/"+d.Source())
	}

	if err := fsutil.WriteFileAtomic(g.ManifestPath(), []byte(g.manifest(report.Sources)), 0o644); err != nil {
		return report, runner.Fail(runner.ErrProtocolGeneration, "write "+ManifestName, err)
	}
	return report, nil
}

// generate runs "scanner <mode> <xml> <name>" in dir unless dir/name exists.
// A failed run removes whatever partial output it left.
func (g *Generator) generate(ctx context.Context, mode, xml, dir, name string) (bool, error) {
	target := filepath.Join(dir, name)
	if fsutil.Exists(target) {
		return false, nil
	}
	cmd := runner.Command(g.scanner(), mode, xml, name).In(dir)
	if _, err := g.Runner.Run(ctx, cmd, runner.FailFast); err != nil {
		if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("%w (cleanup: %v)", err, rmErr)
		}
		return false, runner.Fail(runner.ErrProtocolGeneration, name, err)
	}
	return true, nil
}

func (g *Generator) scanner() string {
	if g.Scanner == "" {
		return DefaultScanner
	}
	return g.Scanner
}

func (g *Generator) target() string {
	if g.Target == "" {
		return DefaultTarget
	}
	return g.Target
}

func (g *Generator) manifest(sources []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "add_library(%s\n", g.target())
	for _, s := range sources {
		b.WriteString("    \"" + s + "\"\n")
	}
	b.WriteString("    )\n")
	fmt.Fprintf(&b, "target_include_directories(%s PUBLIC include)\n", g.target())
	return b.String()
}
