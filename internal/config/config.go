// Package config holds the run configuration: what the user asked for on
// the command line and the project being built.
package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/zenwm/zenbuild/internal/env"
	"github.com/zenwm/zenbuild/internal/fsutil"
)

// Intents are the boolean requests of one invocation.
type Intents struct {
	Update         bool
	ForceConfigure bool
	Build          bool
	Release        bool
	Install        bool
}

// BindFlags registers the intent flags on fs.
func (in *Intents) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&in.Update, "update", "U", false, "update vendored dependencies and regenerate")
	fs.BoolVarP(&in.ForceConfigure, "configure", "C", false, "force the cmake configure step")
	fs.BoolVarP(&in.Build, "build", "B", false, "build the project")
	fs.BoolVarP(&in.Release, "release", "R", false, "use the release build type")
	fs.BoolVarP(&in.Install, "install", "I", false, "build and install the program")
}

// BuildType is "Release" with the release intent, "Debug" otherwise.
func (in Intents) BuildType() string {
	if in.Release {
		return "Release"
	}
	return "Debug"
}

// Compiles reports whether the project itself is compiled on this run.
func (in Intents) Compiles() bool {
	return in.Build || in.Install
}

// Config is everything one run needs.
type Config struct {
	// Root is the absolute project root.
	Root    string
	Intents Intents
	Project *Project
}

// Load builds a Config for root. The project file is file when set,
// otherwise root/zenbuild.yaml when it exists, otherwise Default().
func Load(root, file string, intents Intents) (*Config, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if file == "" {
		if candidate := filepath.Join(root, FileName); fsutil.Exists(candidate) {
			file = candidate
		}
	}

	project := Default()
	if file != "" {
		if project, err = Parse(file, nil); err != nil {
			return nil, err
		}
	}
	return &Config{Root: root, Intents: intents, Project: project}, nil
}

// BuildDir is root/.build.
func (c *Config) BuildDir() string { return filepath.Join(c.Root, ".build") }

// VendorDir is root/.build/3rdparty, holding every vendored dependency.
func (c *Config) VendorDir() string { return filepath.Join(c.BuildDir(), "3rdparty") }

// DependencyDir is the checkout of the named dependency.
func (c *Config) DependencyDir(name string) string { return filepath.Join(c.VendorDir(), name) }

// WaylandDirName is the directory under the vendor root holding the
// generated protocol bindings.
const WaylandDirName = "wayland"

// WaylandDir holds the generated protocol bindings.
func (c *Config) WaylandDir() string { return filepath.Join(c.VendorDir(), WaylandDirName) }

// OutputDir is the CMake build directory of the selected build type.
func (c *Config) OutputDir() string {
	return filepath.Join(c.BuildDir(), strings.ToLower(c.Intents.BuildType()))
}

// Vars are the variables available to install paths and meson arguments.
// BIN_DIR is ~/.local/bin and CONFIG_DIR follows XDG_CONFIG_HOME; both are
// left out when the home directory is unknown.
func (c *Config) Vars() env.Vars {
	vars := env.Vars{
		"OUTPUT_DIR":   c.OutputDir(),
		"PROGRAM":      c.Project.Program,
		"PROJECT_ROOT": c.Root,
		"VENDOR_DIR":   c.VendorDir(),
	}
	if dir, err := env.BinDir(); err == nil {
		vars["BIN_DIR"] = dir
	}
	if dir, err := env.ConfigDir(); err == nil {
		vars["CONFIG_DIR"] = dir
	}
	return vars
}

// Resolve expands and anchors a project path.
func (c *Config) Resolve(path string) (string, error) {
	return c.Vars().Path(c.Root, path)
}
