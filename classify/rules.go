package classify

// StdRoot is the dependency root matching the Go standard library.
const StdRoot = "std"

// Rules are the classification tables.
type Rules struct {
	// Application roots: import paths or file path prefixes of the program's own code.
	Application []string `yaml:"application" toml:"application"`
	// Dependency roots: import paths or file path prefixes of third-party code.
	// StdRoot matches the standard library.
	Dependency []string `yaml:"dependency" toml:"dependency"`
	// Runtime symbol patterns. A pattern ending in "." or "/" is a prefix; a
	// pattern ending in "*" is a prefix without the star; any other pattern matches
	// the symbol exactly or as the parent of a closure ("testing.tRunner.func1").
	Runtime []string `yaml:"runtime" toml:"runtime"`
}

// RuntimePatterns is the fixed table of Go runtime machinery: scheduling, goroutine
// entry trampolines, allocation and panic plumbing.
var RuntimePatterns = []string{
	"runtime.",
	"runtime/",
	"internal/runtime/",
	"internal/abi.",
	"panic",
	"testing.tRunner",
	"reflect.Value.call",
	"reflect.Value.Call",
}

// Merge returns the union of r and o, with r's entries first.
func (r Rules) Merge(o Rules) Rules {
	return Rules{
		Application: appendUnique(append([]string(nil), r.Application...), o.Application),
		Dependency:  appendUnique(append([]string(nil), r.Dependency...), o.Dependency),
		Runtime:     appendUnique(append([]string(nil), r.Runtime...), o.Runtime),
	}
}

// DefaultRules seeds rules from the running binary's build information:
// package main and the main module are application code; every module in the
// build graph and the standard library are dependency code.
func DefaultRules() Rules {
	r := Rules{
		Application: []string{"main", "command-line-arguments"},
		Dependency:  []string{StdRoot},
		Runtime:     append([]string(nil), RuntimePatterns...),
	}
	g, ok := readModuleGraph()
	if !ok {
		return r
	}
	if g.main != "" {
		r.Application = appendUnique(r.Application, []string{g.main})
	}
	r.Dependency = appendUnique(r.Dependency, g.deps)
	return r
}

func appendUnique(dst []string, src []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}
