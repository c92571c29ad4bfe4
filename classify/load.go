package classify

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// Format is a rules file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// LoadRules reads a rules file. The format is chosen by extension:
// .yaml/.yml or .toml.
func LoadRules(path string) (Rules, error) {
	var f Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f = FormatYAML
	case ".toml":
		f = FormatTOML
	default:
		return Rules{}, errors.Errorf("classify: unsupported rules file extension %q", filepath.Ext(path))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, errors.Wrap(err, "classify: read rules")
	}
	return ParseRules(bytes.NewReader(b), f)
}

// ParseRules decodes rules from r. Unknown keys are rejected.
func ParseRules(r io.Reader, f Format) (Rules, error) {
	var rules Rules
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&rules); err != nil && err != io.EOF {
			return Rules{}, errors.Wrap(err, "classify: decode yaml rules")
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(&rules)
		if err != nil {
			return Rules{}, errors.Wrap(err, "classify: decode toml rules")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Rules{}, errors.Errorf("classify: unknown toml key %q", undecoded[0].String())
		}
	default:
		return Rules{}, errors.Errorf("classify: unknown rules format %q", f)
	}
	return rules, nil
}

// ModuleRoot returns the module path declared by a go.mod file. It is used to
// seed application roots when classifying a crash log offline, where the build
// info of the crashed binary is not available.
func ModuleRoot(gomodPath string) (string, error) {
	b, err := os.ReadFile(gomodPath)
	if err != nil {
		return "", errors.Wrap(err, "classify: read go.mod")
	}
	p := modfile.ModulePath(b)
	if p == "" {
		return "", errors.Errorf("classify: no module directive in %s", gomodPath)
	}
	return p, nil
}

// ModuleRules reads a go.mod file into offline rules: its module path and
// package main are application code; the standard library, every required
// module and every replacement target are dependency code.
func ModuleRules(gomodPath string) (Rules, error) {
	b, err := os.ReadFile(gomodPath)
	if err != nil {
		return Rules{}, errors.Wrap(err, "classify: read go.mod")
	}
	f, err := modfile.Parse(gomodPath, b, nil)
	if err != nil {
		return Rules{}, errors.Wrap(err, "classify: parse go.mod")
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return Rules{}, errors.Errorf("classify: no module directive in %s", gomodPath)
	}

	r := Rules{
		Application: []string{"main", f.Module.Mod.Path},
		Dependency:  []string{StdRoot},
		Runtime:     append([]string(nil), RuntimePatterns...),
	}
	for _, req := range f.Require {
		r.Dependency = appendUnique(r.Dependency, []string{req.Mod.Path})
	}
	for _, rep := range f.Replace {
		// Local replacements are directories, matched as file roots only when absolute.
		if rep.New.Version != "" || isFilePath(rep.New.Path) {
			r.Dependency = appendUnique(r.Dependency, []string{rep.New.Path})
		}
	}
	return r, nil
}
