package vcs

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/zenwm/zenbuild/internal/fsutil"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
)

// PatchMarker is the file, inside the checkout's .git directory, listing the
// patches already applied to the working tree. It survives "git reset --hard".
const PatchMarker = "zenbuild-patches"

// Checkout is a pinned source tree fetched into Dir.
type Checkout struct {
	URL string
	// Ref is the branch or tag to clone and, on update, to pull.
	Ref string
	Dir string
	// Shallow clones with --depth 1. Origins speaking the dumb HTTP
	// protocol do not support it.
	Shallow bool
	// Patches are applied once, in order, with "git apply".
	Patches []string
}

// Outcome reports what Fetch did to a checkout.
type Outcome int

const (
	Unchanged Outcome = iota
	Cloned
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Cloned:
		return "cloned"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Fetcher clones or updates checkouts with git.
type Fetcher struct {
	git    string
	runner runner.Runner
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) Option {
	return func(f *Fetcher) {
		f.git = path
	}
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a Fetcher running git through r.
func NewFetcher(r runner.Runner, opts ...Option) *Fetcher {
	f := &Fetcher{git: "git", runner: r}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logx.OrNop(f.logger)
	return f
}

// Fetch makes c.Dir hold the pinned source tree.
//
// A missing directory is cloned at c.Ref. An existing one is left alone
// unless update is set, in which case local changes are discarded, c.Ref is
// checked out and pulled. Presence is decided by the directory's existence
// only. Patches are applied at most once per checkout; see PatchMarker.
func (f *Fetcher) Fetch(ctx context.Context, c Checkout, update bool) (Outcome, error) {
	missing, err := fsutil.Missing(c.Dir)
	if err != nil {
		return Unchanged, runner.Fail(runner.ErrFetch, c.Dir, err)
	}

	outcome := Unchanged
	switch {
	case missing:
		if err := f.clone(ctx, c); err != nil {
			return Unchanged, err
		}
		outcome = Cloned
	case update:
		if err := f.update(ctx, c); err != nil {
			return Unchanged, err
		}
		outcome = Updated
	default:
		return Unchanged, nil
	}

	if err := f.applyPatches(ctx, c); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (f *Fetcher) clone(ctx context.Context, c Checkout) error {
	if err := os.MkdirAll(filepath.Dir(c.Dir), 0o755); err != nil {
		return runner.Fail(runner.ErrFetch, "clone "+c.URL, err)
	}
	args := []string{"clone", c.URL, "--branch", c.Ref}
	if c.Shallow {
		args = append(args, "--depth", "1")
	}
	args = append(args, c.Dir)
	if _, err := f.runner.Run(ctx, runner.Command(f.git, args...), runner.FailFast); err != nil {
		return runner.Fail(runner.ErrFetch, "clone "+c.URL, err)
	}
	return nil
}

func (f *Fetcher) update(ctx context.Context, c Checkout) error {
	for _, args := range [][]string{
		{"reset", "--hard"},
		{"checkout", c.Ref},
		{"pull", "origin", c.Ref},
	} {
		cmd := runner.Command(f.git, args...).In(c.Dir)
		if _, err := f.runner.Run(ctx, cmd, runner.FailFast); err != nil {
			return runner.Fail(runner.ErrFetch, "update "+c.Dir, err)
		}
	}
	return nil
}

func (f *Fetcher) applyPatches(ctx context.Context, c Checkout) error {
	if len(c.Patches) == 0 {
		return nil
	}
	marker := filepath.Join(c.Dir, ".git", PatchMarker)
	applied, err := readMarker(marker)
	if err != nil {
		return runner.Fail(runner.ErrPatchApply, c.Dir, err)
	}
	for _, patch := range c.Patches {
		if applied[patch] {
			f.logger.Debug("patch already applied", "patch", patch, "dir", c.Dir)
			continue
		}
		cmd := runner.Command(f.git, "apply", patch).In(c.Dir)
		if _, err := f.runner.Run(ctx, cmd, runner.FailFast); err != nil {
			return runner.Fail(runner.ErrPatchApply, "apply "+filepath.Base(patch), err)
		}
		if err := appendMarker(marker, patch); err != nil {
			return runner.Fail(runner.ErrPatchApply, "record "+filepath.Base(patch),
				errors.Wrapf(err, "patch %s applied but not recorded", patch))
		}
	}
	return nil
}

func readMarker(path string) (map[string]bool, error) {
	applied := make(map[string]bool)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return applied, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			applied[line] = true
		}
	}
	return applied, errors.Wrap(scanner.Err(), "read patch marker")
}

func appendMarker(path, patch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(patch + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Head returns the commit checked out in dir.
func (f *Fetcher) Head(ctx context.Context, dir string) (string, error) {
	cmd := runner.Command(f.git, "rev-parse", "HEAD").In(dir)
	cmd.Capture = true
	res, err := f.runner.Run(ctx, cmd, runner.Tolerant)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", errors.Errorf("no HEAD in %s", dir)
	}
	return strings.TrimSpace(res.Output), nil
}
