// Package pipeline turns a run configuration into the build graph of one
// invocation: fetch and build vendored dependencies, generate protocol
// bindings, configure and compile the project, install it.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/zenwm/zenbuild/internal/config"
	"github.com/zenwm/zenbuild/internal/deps"
	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/graph"
	"github.com/zenwm/zenbuild/internal/install"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/protocol"
	"github.com/zenwm/zenbuild/internal/runner"
	"github.com/zenwm/zenbuild/internal/vcs"
	"github.com/zenwm/zenbuild/x/cmake"
)

// Node names that do not depend on a dependency name.
const (
	NodeProtocols = "protocols"
	NodeConfigure = "configure"
	NodeCompile   = "compile"
	NodeInstall   = "install"
)

// FetchNode and BuildNode name the per-dependency nodes.
func FetchNode(dep string) string { return "fetch:" + dep }
func BuildNode(dep string) string { return "build:" + dep }

// BuildTarget is the CMake build of the project for one build type.
type BuildTarget struct {
	BuildType string
	OutputDir string
	CC        string
	CXX       string
	Linker    string
	Generator string
}

// Target derives the build target selected by cfg. Debug and release
// builds live in different directories.
func Target(cfg *config.Config) BuildTarget {
	tc := cfg.Project.Toolchain
	return BuildTarget{
		BuildType: cfg.Intents.BuildType(),
		OutputDir: cfg.OutputDir(),
		CC:        tc.CC,
		CXX:       tc.CXX,
		Linker:    tc.Linker,
		Generator: tc.Generator,
	}
}

// Pipeline evaluates one invocation.
type Pipeline struct {
	cfg     *config.Config
	runner  runner.Runner
	logger  *slog.Logger
	fetcher *vcs.Fetcher
}

// New returns a Pipeline running external tools through r.
func New(cfg *config.Config, r runner.Runner, logger *slog.Logger) *Pipeline {
	logger = logx.OrNop(logger)
	opts := []vcs.Option{vcs.WithLogger(logger)}
	if git := cfg.Project.Toolchain.Git; git != "" {
		opts = append(opts, vcs.WithGitPath(git))
	}
	return &Pipeline{
		cfg:     cfg,
		runner:  r,
		logger:  logger,
		fetcher: vcs.NewFetcher(r, opts...),
	}
}

// Run builds the graph and evaluates it once.
func (p *Pipeline) Run(ctx context.Context) (*graph.Report, error) {
	if _, err := fsutil.EnsureDir(p.cfg.VendorDir()); err != nil {
		return nil, err
	}
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("build graph", "order", g.Order())
	return g.Run(ctx, p.logger)
}

// Graph returns the nodes of this invocation in declaration order:
// fetch:<dep> and build:<dep> per dependency, then protocols, configure,
// compile and install.
func (p *Pipeline) Graph() (*graph.Graph, error) {
	var nodes []graph.Node
	var prereqs []string

	for _, dep := range p.cfg.Project.Dependencies {
		fetch, err := p.fetchNode(dep)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, fetch)
		prereqs = append(prereqs, fetch.Name)

		if dep.Build == nil {
			continue
		}
		build := p.buildNode(dep)
		nodes = append(nodes, build)
		prereqs = append(prereqs, build.Name)
	}

	if protos, ok := p.protocolNode(); ok {
		nodes = append(nodes, protos)
		prereqs = append(prereqs, protos.Name)
	}

	cm := p.cmake()
	intents := p.cfg.Intents
	nodes = append(nodes,
		graph.Node{
			Name: NodeConfigure,
			Deps: prereqs,
			Stale: func() (bool, error) {
				return (intents.Compiles() && !cm.Configured()) || intents.ForceConfigure, nil
			},
			Action: func(ctx context.Context) error {
				p.logger.Info("configuring", "dir", cm.OutputDir())
				return cm.Configure(ctx)
			},
		},
		graph.Node{
			Name:   NodeCompile,
			Deps:   []string{NodeConfigure},
			Stale:  func() (bool, error) { return intents.Compiles(), nil },
			Action: func(ctx context.Context) error { return cm.Build(ctx) },
		},
		graph.Node{
			Name:   NodeInstall,
			Deps:   []string{NodeCompile},
			Stale:  func() (bool, error) { return intents.Install, nil },
			Action: func(context.Context) error { return p.install() },
		},
	)
	return graph.New(nodes...)
}

func (p *Pipeline) fetchNode(dep config.Dependency) (graph.Node, error) {
	checkout := vcs.Checkout{
		URL:     dep.URL,
		Ref:     dep.Ref,
		Dir:     p.cfg.DependencyDir(dep.Name),
		Shallow: !dep.Dumb,
	}
	for _, patch := range dep.Patches {
		abs, err := p.cfg.Resolve(patch)
		if err != nil {
			return graph.Node{}, err
		}
		checkout.Patches = append(checkout.Patches, abs)
	}
	update := p.cfg.Intents.Update

	return graph.Node{
		Name: FetchNode(dep.Name),
		Stale: func() (bool, error) {
			if update {
				return true, nil
			}
			return fsutil.Missing(checkout.Dir)
		},
		Action: func(ctx context.Context) error {
			outcome, err := p.fetcher.Fetch(ctx, checkout, update)
			if err != nil || outcome == vcs.Unchanged {
				return err
			}
			commit, err := p.fetcher.Head(ctx, checkout.Dir)
			if err != nil {
				p.logger.Warn("cannot read fetched commit", "dep", dep.Name, "err", err)
			}
			p.logger.Info("fetched", "dep", dep.Name, "ref", dep.Ref, "outcome", outcome.String(), "commit", commit)
			return nil
		},
	}, nil
}

func (p *Pipeline) buildNode(dep config.Dependency) graph.Node {
	builder := p.builder(dep)
	update := p.cfg.Intents.Update
	return graph.Node{
		Name:  BuildNode(dep.Name),
		Deps:  []string{FetchNode(dep.Name)},
		Stale: func() (bool, error) { return builder.Stale(update) },
		Action: func(ctx context.Context) error {
			p.logger.Info("building", "dep", builder.Name())
			return builder.Build(ctx)
		},
	}
}

// builder maps a dependency's build section onto a deps.Builder. The kind
// has been checked by config.Validate.
func (p *Pipeline) builder(dep config.Dependency) deps.Builder {
	b := dep.Build
	src := p.cfg.DependencyDir(dep.Name)
	if b.Kind == config.KindMake {
		return &deps.Make{Dep: dep.Name, SourceDir: src, Archive: b.Archive, Env: b.Env, Runner: p.runner}
	}

	pkg := b.Package
	if pkg == "" {
		pkg = deps.PackageName(dep.Name, dep.Ref)
	}
	target := b.Target
	if target == "" {
		target = dep.Name
	}
	return &deps.Meson{
		Dep:            dep.Name,
		SourceDir:      src,
		BuildDir:       src + "-build",
		InstallDir:     src + "-install",
		Package:        pkg,
		Target:         target,
		IncludeDirs:    b.IncludeDirs,
		Defines:        b.Defines,
		Options:        b.Options,
		DefaultLibrary: b.DefaultLibrary,
		Args:           b.Args,
		Runner:         p.runner,
		Logger:         p.logger,
		Lookup:         p.cfg.Vars().Lookup,
	}
}

// protocolNode returns the generator node, or false when no protocol
// origin is configured.
func (p *Pipeline) protocolNode() (graph.Node, bool) {
	pc := p.cfg.Project.Protocols
	var sources []protocol.Source
	var after []string
	if pc.SystemRoot != "" {
		sources = append(sources, protocol.SystemTree{Root: pc.SystemRoot})
	}
	if pc.VendorDependency != "" {
		dir := filepath.Join(p.cfg.DependencyDir(pc.VendorDependency), pc.VendorSubdir)
		sources = append(sources, protocol.VendorDir{Dir: dir, Ext: ".xml"})
		after = append(after, FetchNode(pc.VendorDependency))
	}
	if len(sources) == 0 {
		return graph.Node{}, false
	}

	gen := &protocol.Generator{
		Scanner: pc.Scanner,
		Dir:     p.cfg.WaylandDir(),
		Target:  pc.Target,
		Runner:  p.runner,
		Logger:  p.logger,
	}
	src := protocol.Concat(sources...)
	update := p.cfg.Intents.Update
	return graph.Node{
		Name:  NodeProtocols,
		Deps:  after,
		Stale: func() (bool, error) { return !gen.Fresh(update), nil },
		Action: func(ctx context.Context) error {
			report, err := gen.Generate(ctx, src, update)
			if err != nil {
				return err
			}
			p.logger.Info("protocols ready", "sources", len(report.Sources), "generated", len(report.Generated))
			return nil
		},
	}, true
}

func (p *Pipeline) cmake() *cmake.CMake {
	t := Target(p.cfg)
	c := cmake.New(p.cfg.Root, t.OutputDir, p.runner)
	c.Logger(p.logger)
	c.Generator(t.Generator)
	c.BuildType(t.BuildType)
	c.Compilers(t.CC, t.CXX)
	c.Linker(t.Linker)
	c.Define("VENDOR_DIR", p.cfg.VendorDir())
	c.Define("PROJECT_NAME", p.cfg.Project.Program)
	c.DefineBool("CMAKE_EXPORT_COMPILE_COMMANDS", true)
	return c
}

// Mappings resolves the project's install entries.
func (p *Pipeline) Mappings() ([]install.Mapping, error) {
	var out []install.Mapping
	for _, in := range p.cfg.Project.Install {
		src, err := p.cfg.Resolve(in.Src)
		if err != nil {
			return nil, runner.Fail(runner.ErrInstall, in.Src, err)
		}
		dst, err := p.cfg.Resolve(in.Dst)
		if err != nil {
			return nil, runner.Fail(runner.ErrInstall, in.Dst, err)
		}
		out = append(out, install.Mapping{Src: src, Dst: dst})
	}
	return out, nil
}

func (p *Pipeline) install() error {
	mappings, err := p.Mappings()
	if err != nil {
		return err
	}
	return install.Mappings(mappings, p.logger)
}
