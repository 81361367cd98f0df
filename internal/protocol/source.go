// Package protocol discovers Wayland protocol definitions and generates
// their C bindings with wayland-scanner.
package protocol

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// SystemRoot is where distributions install wayland-protocols.
const SystemRoot = "/usr/share/wayland-protocols"

// Descriptor names one protocol definition file.
type Descriptor struct {
	// Path is the absolute path of the XML definition.
	Path string
	// Name is the file name without its last extension.
	Name string
}

// NewDescriptor derives a Descriptor from an absolute path.
func NewDescriptor(path string) Descriptor {
	base := filepath.Base(path)
	return Descriptor{
		Path: path,
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

// Header is the generated server header file name.
func (d Descriptor) Header() string { return d.Name + "-protocol.h" }

// Source is the generated private code file name.
func (d Descriptor) Source() string { return d.Name + "-protocol.c" }

// Source yields protocol descriptors. The sequence is read from disk while
// it is consumed; a read failure is yielded as an error and ends it.
type Source interface {
	Descriptors() iter.Seq2[Descriptor, error]
}

// SystemTree walks root/<category>/<protocol>/<file>, the layout of the
// wayland-protocols package. Every file at the third level is a descriptor,
// whatever its extension. Non-directories at the first two levels are
// ignored; symlinks are followed.
type SystemTree struct {
	Root string
}

func (s SystemTree) Descriptors() iter.Seq2[Descriptor, error] {
	return func(yield func(Descriptor, error) bool) {
		root, err := filepath.Abs(s.Root)
		if err != nil {
			yield(Descriptor{}, err)
			return
		}
		categories, err := os.ReadDir(root)
		if err != nil {
			yield(Descriptor{}, err)
			return
		}
		for _, category := range categories {
			categoryPath := filepath.Join(root, category.Name())
			ok, err := isDir(categoryPath)
			if err != nil {
				yield(Descriptor{}, err)
				return
			}
			if !ok {
				continue
			}
			subfolders, err := os.ReadDir(categoryPath)
			if err != nil {
				yield(Descriptor{}, err)
				return
			}
			for _, subfolder := range subfolders {
				subfolderPath := filepath.Join(categoryPath, subfolder.Name())
				ok, err := isDir(subfolderPath)
				if err != nil {
					yield(Descriptor{}, err)
					return
				}
				if !ok {
					continue
				}
				files, err := os.ReadDir(subfolderPath)
				if err != nil {
					yield(Descriptor{}, err)
					return
				}
				for _, file := range files {
					if !yield(NewDescriptor(filepath.Join(subfolderPath, file.Name())), nil) {
						return
					}
				}
			}
		}
	}
}

// isDir reports whether path is a directory after following symlinks. A
// dangling symlink is not a directory.
func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// VendorDir scans one flat directory for files ending in Ext.
type VendorDir struct {
	Dir string
	Ext string
}

func (v VendorDir) Descriptors() iter.Seq2[Descriptor, error] {
	return func(yield func(Descriptor, error) bool) {
		dir, err := filepath.Abs(v.Dir)
		if err != nil {
			yield(Descriptor{}, err)
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			yield(Descriptor{}, err)
			return
		}
		ext := v.Ext
		if ext == "" {
			ext = ".xml"
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
				continue
			}
			if !yield(NewDescriptor(filepath.Join(dir, entry.Name())), nil) {
				return
			}
		}
	}
}

type concat []Source

// Concat yields the descriptors of every source in turn. Duplicate names are
// passed through.
func Concat(sources ...Source) Source {
	return concat(sources)
}

func (c concat) Descriptors() iter.Seq2[Descriptor, error] {
	return func(yield func(Descriptor, error) bool) {
		for _, src := range c {
			for d, err := range src.Descriptors() {
				if !yield(d, err) || err != nil {
					return
				}
			}
		}
	}
}

// Collect drains src.
func Collect(src Source) ([]Descriptor, error) {
	var out []Descriptor
	for d, err := range src.Descriptors() {
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}
