// Package install copies build outputs into user directories.
package install

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/runner"
)

// Mapping copies Src to Dst.
type Mapping struct {
	Src string
	Dst string
}

// File makes dst a copy of src. If dst already holds the same bytes nothing
// is written and false is returned. Otherwise dst is replaced by a copy
// carrying src's permission bits and access/modification times.
func File(src, dst string) (bool, error) {
	want, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	have, err := os.ReadFile(dst)
	switch {
	case err == nil:
		if bytes.Equal(want, have) {
			return false, nil
		}
		if err := os.Remove(dst); err != nil {
			return false, err
		}
	case !os.IsNotExist(err):
		return false, err
	}
	return true, copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// umask may have masked the creation mode.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return copyTimes(src, dst, info)
}

// Mappings installs every mapping in order, creating destination
// directories. It stops at the first failure.
func Mappings(mappings []Mapping, logger *slog.Logger) error {
	logger = logx.OrNop(logger)
	for _, m := range mappings {
		if err := os.MkdirAll(filepath.Dir(m.Dst), 0o755); err != nil {
			return runner.Fail(runner.ErrInstall, m.Dst, err)
		}
		changed, err := File(m.Src, m.Dst)
		if err != nil {
			return runner.Fail(runner.ErrInstall, m.Dst, errors.Wrapf(err, "install %s", m.Src))
		}
		if changed {
			logger.Info("installed", "src", m.Src, "dst", m.Dst)
		} else {
			logger.Debug("up to date", "dst", m.Dst)
		}
	}
	return nil
}
