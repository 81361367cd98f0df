package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zenwm/zenbuild/internal/protocol"
)

// FileName is the project file looked up in the project root.
const FileName = "zenbuild.yaml"

// Builder kinds.
const (
	KindMake  = "make"
	KindMeson = "meson"
)

// Project describes what zenbuild vendors, generates, builds and installs.
type Project struct {
	Program      string       `yaml:"program"`
	Toolchain    Toolchain    `yaml:"toolchain"`
	Protocols    Protocols    `yaml:"protocols"`
	Dependencies []Dependency `yaml:"dependencies"`
	Install      []Install    `yaml:"install"`
}

type Toolchain struct {
	CC        string `yaml:"cc"`
	CXX       string `yaml:"cxx"`
	Linker    string `yaml:"linker"`
	Generator string `yaml:"generator"`
	Git       string `yaml:"git"`
}

// Protocols selects the Wayland protocol definitions to generate bindings
// for: the system tree plus one directory inside a vendored dependency.
type Protocols struct {
	SystemRoot       string `yaml:"system_root"`
	VendorDependency string `yaml:"vendor_dependency"`
	VendorSubdir     string `yaml:"vendor_subdir"`
	Scanner          string `yaml:"scanner"`
	Target           string `yaml:"target"`
}

// Dependency is a git checkout vendored under the vendor root.
type Dependency struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Ref  string `yaml:"ref"`
	// Dumb origins do not support shallow clones.
	Dumb bool `yaml:"dumb,omitempty"`
	// Patches are relative to the project root.
	Patches []string `yaml:"patches,omitempty"`
	Build   *Build   `yaml:"build,omitempty"`
}

// Build selects how a dependency is compiled before the main project.
type Build struct {
	Kind string `yaml:"kind"`

	// make
	Archive string `yaml:"archive,omitempty"`
	// Env is added to the environment of make.
	Env map[string]string `yaml:"env,omitempty"`

	// meson
	Package        string            `yaml:"package,omitempty"`
	Target         string            `yaml:"target,omitempty"`
	IncludeDirs    []string          `yaml:"include_dirs,omitempty"`
	Defines        []string          `yaml:"defines,omitempty"`
	Options        map[string]string `yaml:"options,omitempty"`
	DefaultLibrary string            `yaml:"default_library,omitempty"`
	// Args are extra meson setup arguments. They may reference
	// ${VENDOR_DIR}, ${PROJECT_ROOT} and environment variables.
	Args []string `yaml:"args,omitempty"`
}

// Install copies Src to Dst. Both may reference ${OUTPUT_DIR}, ${PROGRAM},
// ${BIN_DIR}, ${CONFIG_DIR} and environment variables; Dst may start with
// "~/".
type Install struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// Default returns the built-in zen project.
func Default() *Project {
	return &Project{
		Program: "zen",
		Toolchain: Toolchain{
			CC:        "clang",
			CXX:       "clang++",
			Linker:    "MOLD",
			Generator: "Ninja",
			Git:       "git",
		},
		Protocols: Protocols{
			SystemRoot:       protocol.SystemRoot,
			VendorDependency: "wlroots",
			VendorSubdir:     "protocol",
			Scanner:          protocol.DefaultScanner,
			Target:           protocol.DefaultTarget,
		},
		Dependencies: []Dependency{
			{Name: "backward-cpp", URL: "https://github.com/bombela/backward-cpp.git", Ref: "master"},
			{Name: "magic-enum", URL: "https://github.com/Neargye/magic_enum.git", Ref: "master"},
			{Name: "glm", URL: "https://github.com/g-truc/glm.git", Ref: "master"},
			{Name: "sol2", URL: "https://github.com/ThePhD/sol2.git", Ref: "develop"},
			{
				Name: "luajit", URL: "https://luajit.org/git/luajit.git", Ref: "v2.1", Dumb: true,
				Build: &Build{Kind: KindMake, Archive: "src/libluajit.a"},
			},
			{
				Name: "wlroots", URL: "https://gitlab.freedesktop.org/wlroots/wlroots.git", Ref: "0.19.2",
				Patches: []string{"patches/wlroots/keyboard_enter.patch"},
				Build: &Build{
					Kind:    KindMeson,
					Target:  "wlroots",
					Defines: []string{"WLR_USE_UNSTABLE"},
				},
			},
		},
		Install: []Install{
			{Src: "${OUTPUT_DIR}/${PROGRAM}", Dst: "${BIN_DIR}/${PROGRAM}"},
			{Src: "resources/portals.conf", Dst: "${CONFIG_DIR}/xdg-desktop-portal/${PROGRAM}-portals.conf"},
		},
	}
}

// Parse reads a project file from data, or from file when data is nil.
// Fields missing from the file keep their Default values; a dependency list
// in the file replaces the default list as a whole.
func Parse(file string, data []byte) (*Project, error) {
	var reader io.Reader

	if data != nil {
		reader = bytes.NewBuffer(data)
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader = f
	}

	p := Default()
	dec := yaml.NewDecoder(reader)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "parse %s", file)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", file)
	}
	return p, nil
}

// Validate checks the project for mistakes that would otherwise surface
// half way through a build.
func (p *Project) Validate() error {
	if p.Program == "" {
		return errors.New("program name is empty")
	}
	// Dependency names are directories under the vendor root, next to the
	// bindings and the meson build and install trees.
	taken := map[string]string{WaylandDirName: "the protocol bindings"}
	for _, d := range p.Dependencies {
		if d.Build != nil && d.Build.Kind == KindMeson {
			taken[d.Name+"-build"] = "the build tree of " + d.Name
			taken[d.Name+"-install"] = "the install tree of " + d.Name
		}
	}

	names := make(map[string]bool, len(p.Dependencies))
	for i, d := range p.Dependencies {
		switch {
		case d.Name == "":
			return errors.Errorf("dependency %d: name is empty", i)
		case d.Name == "." || d.Name == ".." || filepath.Base(d.Name) != d.Name:
			return errors.Errorf("dependency %q: name must be a plain directory name", d.Name)
		case taken[d.Name] != "":
			return errors.Errorf("dependency %q: name collides with %s", d.Name, taken[d.Name])
		case names[d.Name]:
			return errors.Errorf("dependency %q: declared twice", d.Name)
		case d.URL == "":
			return errors.Errorf("dependency %q: url is empty", d.Name)
		case d.Ref == "":
			return errors.Errorf("dependency %q: ref is empty", d.Name)
		}
		names[d.Name] = true
		if d.Build == nil {
			continue
		}
		switch d.Build.Kind {
		case KindMake:
			if d.Build.Archive == "" {
				return errors.Errorf("dependency %q: make build needs an archive", d.Name)
			}
		case KindMeson:
		default:
			return errors.Errorf("dependency %q: unknown build kind %q", d.Name, d.Build.Kind)
		}
	}
	if dep := p.Protocols.VendorDependency; dep != "" && !names[dep] {
		return errors.Errorf("protocols: unknown vendor dependency %q", dep)
	}
	for i, in := range p.Install {
		if in.Src == "" || in.Dst == "" {
			return errors.Errorf("install %d: src and dst are required", i)
		}
	}
	return nil
}
