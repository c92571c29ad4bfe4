package classify

import (
	"strings"

	"github.com/evan-idocoding/crashtrace/trace"
)

// Classifier assigns origins according to a fixed set of Rules.
// It is safe for concurrent use.
type Classifier struct {
	app     []root
	dep     []root
	runtime []pattern
}

type root struct {
	value  string
	isFile bool
	isStd  bool
}

type pattern struct {
	value  string
	prefix bool
}

// New compiles rules into a Classifier. Empty entries are ignored.
func New(rules Rules) *Classifier {
	c := &Classifier{}
	for _, s := range rules.Application {
		if r, ok := compileRoot(s); ok {
			c.app = append(c.app, r)
		}
	}
	for _, s := range rules.Dependency {
		if r, ok := compileRoot(s); ok {
			c.dep = append(c.dep, r)
		}
	}
	for _, s := range rules.Runtime {
		if p, ok := compilePattern(s); ok {
			c.runtime = append(c.runtime, p)
		}
	}
	return c
}

func compileRoot(s string) (root, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return root{}, false
	}
	if s == StdRoot {
		return root{value: s, isStd: true}, true
	}
	return root{value: s, isFile: isFilePath(s)}, true
}

func isFilePath(s string) bool {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, `\`) {
		return true
	}
	// Windows drive: C:\ or C:/
	return len(s) >= 3 && s[1] == ':' && (s[2] == '\\' || s[2] == '/')
}

func compilePattern(s string) (pattern, bool) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "*":
		return pattern{}, false
	case strings.HasSuffix(s, "*"):
		return pattern{value: strings.TrimSuffix(s, "*"), prefix: true}, true
	case strings.HasSuffix(s, ".") || strings.HasSuffix(s, "/"):
		return pattern{value: s, prefix: true}, true
	default:
		return pattern{value: s}, true
	}
}

func (p pattern) match(symbol string) bool {
	if p.prefix {
		return strings.HasPrefix(symbol, p.value)
	}
	return symbol == p.value || strings.HasPrefix(symbol, p.value+".")
}

// match reports whether the root covers the frame and how specific the match is.
func (r root) match(pkg, file string) (int, bool) {
	switch {
	case r.isStd:
		if pkg != "" && isStdPackage(pkg) {
			// Weakest possible match: any explicit root overrides it.
			return 1, true
		}
	case r.isFile:
		if file != "" && strings.HasPrefix(file, r.value) {
			return len(r.value), true
		}
	default:
		if pkg != "" && (pkg == r.value || strings.HasPrefix(pkg, r.value+"/")) {
			return len(r.value), true
		}
	}
	return 0, false
}

// isStdPackage uses the go command's rule: standard library import paths have
// no dot in their first element.
func isStdPackage(pkg string) bool {
	if pkg == "main" || pkg == "command-line-arguments" {
		return false
	}
	first, _, _ := strings.Cut(pkg, "/")
	return !strings.Contains(first, ".")
}

// Origin classifies a single frame.
func (c *Classifier) Origin(fr trace.Frame) trace.Origin {
	symbol, hasSymbol := fr.Symbol()
	if hasSymbol {
		for _, p := range c.runtime {
			if p.match(symbol) {
				return trace.RuntimeInternal
			}
		}
	}

	pkg, _ := fr.Package()
	file := ""
	if fr.File != nil {
		file = *fr.File
	}

	best, origin := 0, trace.Unknown
	for _, r := range c.app {
		if n, ok := r.match(pkg, file); ok && n > best {
			best, origin = n, trace.ApplicationCode
		}
	}
	for _, r := range c.dep {
		if n, ok := r.match(pkg, file); ok && n > best {
			best, origin = n, trace.DependencyCode
		}
	}
	return origin
}

// Classify returns a copy of bt with every frame's Origin set. bt is not modified.
func (c *Classifier) Classify(bt trace.Backtrace) trace.Backtrace {
	out := bt.Clone()
	for i := range out {
		out[i].Origin = c.Origin(out[i])
	}
	return out
}
