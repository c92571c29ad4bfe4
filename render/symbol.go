package render

import (
	"strings"

	"github.com/evan-idocoding/crashtrace/filter"
	"github.com/evan-idocoding/crashtrace/source"
	"github.com/evan-idocoding/crashtrace/trace"
)

// wrapperSuffixes are compiler-generated suffixes that carry no meaning for a
// reader. Numbered suffixes are followed by digits.
var wrapperSuffixes = []string{".gowrap", ".deferwrap"}

// StripSymbolHash removes compiler noise from a symbol: generic shape
// instantiations ("[...]", "[go.shape.int]"), method value suffixes ("-fm") and
// go/defer wrapper suffixes (".gowrap1", ".deferwrap2"). Escaped dots in
// package paths ("%2e") are unescaped.
func StripSymbolHash(s string) string {
	s = strings.ReplaceAll(s, "%2e", ".")
	s = stripBrackets(s)
	for {
		before := s
		s = strings.TrimSuffix(s, "-fm")
		for _, suf := range wrapperSuffixes {
			if i := strings.LastIndex(s, suf); i > 0 && isDigits(s[i+len(suf):]) {
				s = s[:i]
			}
		}
		if s == before {
			return s
		}
	}
}

func stripBrackets(s string) string {
	if !strings.Contains(s, "[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteByte(c)
		}
	}
	if depth != 0 {
		// Unbalanced: leave the symbol alone.
		return s
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ResolveSnippets fetches the source lines shown under frames of v. Short
// verbosity shows snippets for application frames only, Full for every frame
// with a location, Minimal for none. Frames whose source cannot be read are
// skipped; they still render.
func ResolveSnippets(v filter.View, cfg trace.RenderConfig, r *source.Resolver) map[int][]source.Line {
	if r == nil || cfg.ContextLines <= 0 || cfg.Verbosity == trace.Minimal {
		return nil
	}
	out := make(map[int][]source.Line)
	for i, fr := range v.Frames {
		if cfg.Verbosity == trace.Short && fr.Origin != trace.ApplicationCode {
			continue
		}
		file, line, ok := fr.Location()
		if !ok {
			continue
		}
		lines, err := r.Resolve(file, line, cfg.ContextLines)
		if err != nil {
			continue
		}
		out[i] = lines
	}
	return out
}
