package deps

import (
	"context"
	"path/filepath"

	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/runner"
	"github.com/zenwm/zenbuild/x/autotools"
)

// Make builds a dependency in-tree with "make -j". The build is considered
// done once Archive, relative to SourceDir, exists.
type Make struct {
	Dep       string
	SourceDir string
	Archive   string
	// Env is added to make's environment.
	Env    map[string]string
	Runner runner.Runner
}

var _ Builder = (*Make)(nil)

func (m *Make) Name() string { return m.Dep }

func (m *Make) Stale(update bool) (bool, error) {
	if update {
		return true, nil
	}
	return fsutil.Missing(filepath.Join(m.SourceDir, m.Archive))
}

func (m *Make) Build(ctx context.Context) error {
	b := autotools.New(m.SourceDir, m.Runner)
	for k, v := range m.Env {
		b.Env(k, v)
	}
	return b.Build(ctx, "-j")
}
