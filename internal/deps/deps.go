// Package deps builds vendored dependencies that need a native compile step
// before the main project can consume them.
package deps

import (
	"context"
	"strings"

	"golang.org/x/mod/semver"
)

// Builder compiles one vendored dependency.
type Builder interface {
	Name() string
	// Stale reports whether Build must run. It is evaluated from the
	// filesystem on every call.
	Stale(update bool) (bool, error)
	Build(ctx context.Context) error
}

// PackageName derives a versioned pkg-config name such as "wlroots-0.19"
// from a base name and a release ref ("0.19.2", "v0.19.2"). Refs that are
// not semantic versions yield base unchanged.
func PackageName(base, ref string) string {
	v := ref
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return base
	}
	return base + "-" + strings.TrimPrefix(semver.MajorMinor(v), "v")
}
